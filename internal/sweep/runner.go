package sweep

import (
	"context"
	"errors"
	"math/rand"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"arrsweep/internal/state"
	logx "arrsweep/pkg/logx"
)

// ErrTagNotFound is returned by a Collaborator when a configured tag label
// does not exist in the remote service. The affected lane is skipped with a
// warning rather than failed.
var ErrTagNotFound = errors.New("tag not found")

// Collaborator is the per-app external interface the run controller drives.
// Implementations talk to one media service; the scheduler never sees wire
// formats. Calls must honor ctx cancellation.
type Collaborator interface {
	// ListTagged returns the IDs of items bearing the given tag label.
	ListTagged(ctx context.Context, tag string) ([]int64, error)
	// ListMissing returns the IDs of items currently missing/wanted.
	ListMissing(ctx context.Context) ([]int64, error)
	// ListUpgradeCandidates returns the IDs of items below their quality cutoff.
	ListUpgradeCandidates(ctx context.Context) ([]int64, error)
	// TriggerSearch starts a search for one item.
	TriggerSearch(ctx context.Context, id int64) error
	// Retag removes one tag label from an item and adds another.
	Retag(ctx context.Context, id int64, removeTag, addTag string) error
}

// LaneSettings configures one lane for a pass. Batch <= 0 disables the lane.
type LaneSettings struct {
	Batch    int
	Cooldown time.Duration
}

// Settings is the resolved configuration snapshot one pass runs with.
type Settings struct {
	Lanes         map[Lane]LaneSettings
	AutoPromote   bool
	PromoteLimits map[App]int
	DryRun        bool
	LaneTimeout   time.Duration
	SearchTag     string
	DoneTag       string
}

// LaneReport describes the outcome of one lane within one pass.
type LaneReport struct {
	Lane      Lane
	Disabled  bool
	Gated     bool
	PoolEmpty bool
	PoolSize  int
	Selected  []int64
	Succeeded int
	Failed    []int64
	Err       string
	Took      time.Duration
}

// PromoteReport describes one app's auto-promotion outcome within one pass.
type PromoteReport struct {
	App        App
	Candidates int
	Promoted   int
	Failed     int
	Err        string
}

// Summary is the user-visible result of one full pass across all lanes.
type Summary struct {
	StartedAt  time.Time
	Took       time.Duration
	Lanes      []LaneReport
	Promotions []PromoteReport
}

// Runner is the run controller. It owns the RNG used for bag refills and
// drives every lane through gate check, pool fetch, selection, execution
// and recording. No error or panic escapes RunPass.
type Runner struct {
	store *state.Store
	log   logx.Logger

	now func() time.Time

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewRunner creates a run controller. seed 0 means seed from the clock;
// a fixed seed makes shuffles reproducible.
func NewRunner(store *state.Store, log logx.Logger, seed int64) *Runner {
	if log.IsZero() {
		log = logx.Nop()
	}
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Runner{
		store: store,
		log:   log,
		now:   time.Now,
		rng:   rand.New(rand.NewSource(seed)),
	}
}

// RunPass processes all configured lanes once. Lanes run concurrently and
// independently: a failure in one lane never aborts another. Promotion runs
// per app whenever auto-promotion is enabled, regardless of that app's
// gating or selection outcome.
func (r *Runner) RunPass(ctx context.Context, apps map[App]Collaborator, set Settings) Summary {
	sum := Summary{StartedAt: r.now()}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, app := range Apps() {
		app := app
		c, ok := apps[app]
		if !ok || c == nil {
			continue
		}
		for _, mode := range Modes() {
			lane := Lane{App: app, Mode: mode}
			wg.Add(1)
			go func() {
				defer wg.Done()
				rep := LaneReport{Lane: lane}
				r.guard("lane "+lane.Key(), func() {
					rep = r.runLane(ctx, lane, c, set)
				})
				mu.Lock()
				sum.Lanes = append(sum.Lanes, rep)
				mu.Unlock()
			}()
		}
		if set.AutoPromote {
			wg.Add(1)
			go func() {
				defer wg.Done()
				rep := PromoteReport{App: app}
				r.guard("promote "+string(app), func() {
					rep = r.runPromotion(ctx, app, c, set)
				})
				mu.Lock()
				sum.Promotions = append(sum.Promotions, rep)
				mu.Unlock()
			}()
		}
	}
	wg.Wait()

	sort.Slice(sum.Lanes, func(i, j int) bool { return sum.Lanes[i].Lane.Key() < sum.Lanes[j].Lane.Key() })
	sort.Slice(sum.Promotions, func(i, j int) bool { return sum.Promotions[i].App < sum.Promotions[j].App })
	sum.Took = r.now().Sub(sum.StartedAt)
	return sum
}

func (r *Runner) guard(name string, fn func()) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("panic during pass",
				logx.String("in", name),
				logx.Any("panic", p),
				logx.String("stack", string(debug.Stack())))
		}
	}()
	fn()
}

// runLane drives one lane through the full state machine:
// GateCheck -> (Gated | Fetching) -> (NoPool | Selecting) -> Executing -> Recording.
func (r *Runner) runLane(ctx context.Context, lane Lane, c Collaborator, set Settings) LaneReport {
	start := r.now()
	key := lane.Key()
	log := r.log.With(logx.String("lane", key))
	rep := LaneReport{Lane: lane}

	ls := set.Lanes[lane]
	if ls.Batch <= 0 {
		rep.Disabled = true
		return rep
	}

	var cd state.Cooldown
	r.store.View(func(st *state.State) { cd = st.CooldownFor(key) })
	if !GateOpen(cd, ls.Cooldown, r.now()) {
		rep.Gated = true
		log.Debug("lane gated",
			logx.Time("last_run", cd.LastRunAt),
			logx.Duration("cooldown", ls.Cooldown))
		return rep
	}

	lctx := ctx
	if set.LaneTimeout > 0 {
		var cancel context.CancelFunc
		lctx, cancel = context.WithTimeout(ctx, set.LaneTimeout)
		defer cancel()
	}

	tag := set.SearchTag
	if lane.Mode == ModeDone {
		tag = set.DoneTag
	}
	tagged, err := c.ListTagged(lctx, tag)
	if err != nil {
		rep.Err = err.Error()
		if errors.Is(err, ErrTagNotFound) {
			log.Warn("tag missing in service; lane does nothing", logx.String("tag", tag))
		} else {
			log.Warn("failed to list tagged items", logx.Err(err))
		}
		return rep
	}

	var wanted []int64
	if lane.Mode == ModeSearch {
		wanted, err = c.ListMissing(lctx)
	} else {
		wanted, err = c.ListUpgradeCandidates(lctx)
	}
	if err != nil {
		rep.Err = err.Error()
		log.Warn("failed to fetch eligible pool", logx.Err(err))
		return rep
	}

	pool := intersect(wanted, tagged)
	rep.PoolSize = len(pool)

	// Work on a copy of the bag; the persisted state is only touched in
	// Recording, after all network results for this lane are known.
	var bag state.Bag
	r.store.View(func(st *state.State) {
		bag.Remaining = append([]int64(nil), st.BagFor(key).Remaining...)
	})

	r.rngMu.Lock()
	picked := Draw(&bag, pool, ls.Batch, r.rng)
	r.rngMu.Unlock()

	if len(pool) == 0 {
		rep.PoolEmpty = true
		// Bag reconciled to empty; the cooldown clock is not touched.
		if err := r.store.Update(func(st *state.State) { *st.BagFor(key) = bag }); err != nil {
			log.Warn("failed to persist state", logx.Err(err))
		}
		return rep
	}

	rep.Selected = picked
	for _, id := range picked {
		if lctx.Err() != nil {
			// Lane failed outright; discard the in-memory update so the
			// persisted state stays consistent.
			rep.Err = lctx.Err().Error()
			log.Warn("lane timed out; discarding update", logx.Err(lctx.Err()))
			return rep
		}
		if err := c.TriggerSearch(lctx, id); err != nil {
			// Failed IDs stay consumed for this cycle; reported, not retried.
			rep.Failed = append(rep.Failed, id)
			log.Warn("search trigger failed", logx.Int64("id", id), logx.Err(err))
			continue
		}
		rep.Succeeded++
	}

	if err := r.store.Update(func(st *state.State) {
		*st.BagFor(key) = bag
		if !set.DryRun {
			st.SetLastRun(key, r.now())
		}
	}); err != nil {
		rep.Err = err.Error()
		log.Warn("failed to persist state", logx.Err(err))
	}

	rep.Took = r.now().Sub(start)
	log.Info("lane done",
		logx.Int("pool", rep.PoolSize),
		logx.Int("selected", len(rep.Selected)),
		logx.Int("ok", rep.Succeeded),
		logx.Int("failed", len(rep.Failed)),
		logx.Bool("dry_run", set.DryRun))
	return rep
}

// runPromotion retags items that carry the search tag but are no longer
// missing. It is a correctness cleanup, not a rate-limited action, so it
// ignores the cooldown gate entirely.
func (r *Runner) runPromotion(ctx context.Context, app App, c Collaborator, set Settings) PromoteReport {
	log := r.log.With(logx.String("promote", string(app)))
	rep := PromoteReport{App: app}

	limit := set.PromoteLimits[app]
	if limit <= 0 {
		return rep
	}

	pctx := ctx
	if set.LaneTimeout > 0 {
		var cancel context.CancelFunc
		pctx, cancel = context.WithTimeout(ctx, set.LaneTimeout)
		defer cancel()
	}

	tagged, err := c.ListTagged(pctx, set.SearchTag)
	if err != nil {
		rep.Err = err.Error()
		if errors.Is(err, ErrTagNotFound) {
			log.Warn("tag missing in service; cannot promote", logx.String("tag", set.SearchTag))
		} else {
			log.Warn("failed to list tagged items", logx.Err(err))
		}
		return rep
	}
	missing, err := c.ListMissing(pctx)
	if err != nil {
		rep.Err = err.Error()
		log.Warn("failed to fetch missing set; promotion skipped", logx.Err(err))
		return rep
	}

	missingSet := make(map[int64]struct{}, len(missing))
	for _, id := range missing {
		missingSet[id] = struct{}{}
	}
	eligible := Promotable(tagged, missingSet)
	rep.Candidates = len(eligible)

	picked := eligible
	if len(picked) > limit {
		picked = append([]int64(nil), eligible...)
		r.rngMu.Lock()
		r.rng.Shuffle(len(picked), func(i, j int) { picked[i], picked[j] = picked[j], picked[i] })
		r.rngMu.Unlock()
		picked = picked[:limit]
	}

	for _, id := range picked {
		if pctx.Err() != nil {
			rep.Err = pctx.Err().Error()
			log.Warn("promotion timed out", logx.Err(pctx.Err()))
			break
		}
		if err := c.Retag(pctx, id, set.SearchTag, set.DoneTag); err != nil {
			rep.Failed++
			log.Warn("retag failed", logx.Int64("id", id), logx.Err(err))
			continue
		}
		rep.Promoted++
	}

	if rep.Candidates > 0 || rep.Promoted > 0 {
		log.Info("promotion done",
			logx.Int("candidates", rep.Candidates),
			logx.Int("promoted", rep.Promoted),
			logx.Int("failed", rep.Failed))
	}
	return rep
}

// intersect keeps the wanted IDs that also carry the lane's tag, deduped
// and sorted ascending so the pool order is stable before shuffling.
func intersect(wanted, tagged []int64) []int64 {
	tag := make(map[int64]struct{}, len(tagged))
	for _, id := range tagged {
		tag[id] = struct{}{}
	}
	seen := make(map[int64]struct{}, len(wanted))
	var out []int64
	for _, id := range wanted {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if _, ok := tag[id]; ok {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
