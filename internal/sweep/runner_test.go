package sweep

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"arrsweep/internal/state"
	logx "arrsweep/pkg/logx"
)

// fakeCollab is an in-memory sweep.Collaborator for runner tests.
type fakeCollab struct {
	mu sync.Mutex

	tagged    map[string][]int64
	taggedErr error

	missing    []int64
	missingErr error
	cutoff     []int64

	searchErr map[int64]error
	searched  []int64

	retagErr error
	retagged []int64
}

func (f *fakeCollab) ListTagged(_ context.Context, tag string) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.taggedErr != nil {
		return nil, f.taggedErr
	}
	return append([]int64(nil), f.tagged[tag]...), nil
}

func (f *fakeCollab) ListMissing(context.Context) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.missingErr != nil {
		return nil, f.missingErr
	}
	return append([]int64(nil), f.missing...), nil
}

func (f *fakeCollab) ListUpgradeCandidates(context.Context) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.cutoff...), nil
}

func (f *fakeCollab) TriggerSearch(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.searchErr[id]; err != nil {
		return err
	}
	f.searched = append(f.searched, id)
	return nil
}

func (f *fakeCollab) Retag(_ context.Context, id int64, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.retagErr != nil {
		return f.retagErr
	}
	f.retagged = append(f.retagged, id)
	return nil
}

func newTestStore(t *testing.T) *state.Store {
	t.Helper()
	st, err := state.Open(filepath.Join(t.TempDir(), "state.json"), logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return st
}

func laneSettings(lane Lane, batch int, cd time.Duration) Settings {
	return Settings{
		Lanes:     map[Lane]LaneSettings{lane: {Batch: batch, Cooldown: cd}},
		SearchTag: "search",
		DoneTag:   "done",
	}
}

func findLane(t *testing.T, sum Summary, lane Lane) LaneReport {
	t.Helper()
	for _, l := range sum.Lanes {
		if l.Lane == lane {
			return l
		}
	}
	t.Fatalf("lane %s missing from summary: %+v", lane.Key(), sum.Lanes)
	return LaneReport{}
}

func TestRunPassNoRepeatsUntilPoolExhausted(t *testing.T) {
	t.Parallel()

	lane := Lane{App: AppShow, Mode: ModeSearch}
	store := newTestStore(t)
	r := NewRunner(store, logx.Nop(), 42)
	fc := &fakeCollab{
		tagged:  map[string][]int64{"search": {1, 2, 3}},
		missing: []int64{1, 2, 3},
	}
	apps := map[App]Collaborator{AppShow: fc}
	set := laneSettings(lane, 2, 0)

	sum := r.RunPass(context.Background(), apps, set)
	rep := findLane(t, sum, lane)
	if len(rep.Selected) != 2 || rep.Succeeded != 2 {
		t.Fatalf("first pass: selected %v succeeded %d, want 2 and 2", rep.Selected, rep.Succeeded)
	}

	sum = r.RunPass(context.Background(), apps, set)
	rep = findLane(t, sum, lane)
	if len(rep.Selected) != 1 {
		t.Fatalf("second pass should drain the cycle remainder, selected %v", rep.Selected)
	}

	seen := map[int64]int{}
	for _, id := range fc.searched {
		seen[id]++
	}
	if len(seen) != 3 {
		t.Fatalf("two passes searched %v, want all of 1 2 3 exactly once", fc.searched)
	}
	for id, n := range seen {
		if n != 1 {
			t.Fatalf("id %d searched %d times within one cycle", id, n)
		}
	}

	store.View(func(st *state.State) {
		if got := len(st.BagFor(lane.Key()).Remaining); got != 0 {
			t.Fatalf("bag should be drained after the cycle, has %d left", got)
		}
		if st.CooldownFor(lane.Key()).LastRunAt.IsZero() {
			t.Fatal("actioned run did not record last_run_at")
		}
	})
}

func TestRunPassGatedLaneUntouched(t *testing.T) {
	t.Parallel()

	lane := Lane{App: AppMovie, Mode: ModeSearch}
	store := newTestStore(t)
	last := time.Now().Add(-time.Hour)
	if err := store.Update(func(st *state.State) { st.SetLastRun(lane.Key(), last) }); err != nil {
		t.Fatalf("seed state: %v", err)
	}

	r := NewRunner(store, logx.Nop(), 1)
	fc := &fakeCollab{
		tagged:  map[string][]int64{"search": {1}},
		missing: []int64{1},
	}
	sum := r.RunPass(context.Background(), map[App]Collaborator{AppMovie: fc}, laneSettings(lane, 5, 12*time.Hour))

	rep := findLane(t, sum, lane)
	if !rep.Gated {
		t.Fatalf("lane should be gated: %+v", rep)
	}
	if len(fc.searched) != 0 {
		t.Fatalf("gated lane triggered searches: %v", fc.searched)
	}
	store.View(func(st *state.State) {
		if got := st.CooldownFor(lane.Key()).LastRunAt; !got.Equal(last) {
			t.Fatalf("gated run moved last_run_at from %v to %v", last, got)
		}
	})
}

func TestRunPassEmptyPoolLeavesCooldownUntouched(t *testing.T) {
	t.Parallel()

	lane := Lane{App: AppArtist, Mode: ModeSearch}
	store := newTestStore(t)
	r := NewRunner(store, logx.Nop(), 1)
	fc := &fakeCollab{
		tagged: map[string][]int64{"search": {1, 2}},
		// nothing missing: the tagged items are all collected
	}
	sum := r.RunPass(context.Background(), map[App]Collaborator{AppArtist: fc}, laneSettings(lane, 5, time.Hour))

	rep := findLane(t, sum, lane)
	if !rep.PoolEmpty {
		t.Fatalf("expected empty pool: %+v", rep)
	}
	if len(fc.searched) != 0 {
		t.Fatalf("empty-pool lane triggered searches: %v", fc.searched)
	}
	store.View(func(st *state.State) {
		if !st.CooldownFor(lane.Key()).LastRunAt.IsZero() {
			t.Fatal("empty-pool run must not start the cooldown clock")
		}
	})
}

func TestRunPassDryRunSkipsCooldown(t *testing.T) {
	t.Parallel()

	lane := Lane{App: AppShow, Mode: ModeSearch}
	store := newTestStore(t)
	r := NewRunner(store, logx.Nop(), 1)
	fc := &fakeCollab{
		tagged:  map[string][]int64{"search": {1, 2}},
		missing: []int64{1, 2},
	}
	set := laneSettings(lane, 1, time.Hour)
	set.DryRun = true

	sum := r.RunPass(context.Background(), map[App]Collaborator{AppShow: fc}, set)
	rep := findLane(t, sum, lane)
	if len(rep.Selected) != 1 {
		t.Fatalf("dry run should still select: %+v", rep)
	}
	store.View(func(st *state.State) {
		if !st.CooldownFor(lane.Key()).LastRunAt.IsZero() {
			t.Fatal("dry run must not advance the cooldown clock")
		}
		if got := len(st.BagFor(lane.Key()).Remaining); got != 1 {
			t.Fatalf("dry run should still consume the bag, %d left want 1", got)
		}
	})
}

func TestRunPassFailedTriggersConsumed(t *testing.T) {
	t.Parallel()

	lane := Lane{App: AppShow, Mode: ModeSearch}
	store := newTestStore(t)
	r := NewRunner(store, logx.Nop(), 3)
	fc := &fakeCollab{
		tagged:    map[string][]int64{"search": {1, 2}},
		missing:   []int64{1, 2},
		searchErr: map[int64]error{2: errors.New("boom")},
	}
	sum := r.RunPass(context.Background(), map[App]Collaborator{AppShow: fc}, laneSettings(lane, 2, 0))

	rep := findLane(t, sum, lane)
	if rep.Succeeded != 1 || len(rep.Failed) != 1 || rep.Failed[0] != 2 {
		t.Fatalf("want 1 ok and id 2 failed, got %+v", rep)
	}
	store.View(func(st *state.State) {
		// The failed ID stays consumed: the bag does not re-offer it this cycle.
		if got := len(st.BagFor(lane.Key()).Remaining); got != 0 {
			t.Fatalf("failed id was put back, %d remaining", got)
		}
		if st.CooldownFor(lane.Key()).LastRunAt.IsZero() {
			t.Fatal("partially failed run still counts as actioned")
		}
	})
}

func TestRunPassMissingTagSkipsLane(t *testing.T) {
	t.Parallel()

	lane := Lane{App: AppShow, Mode: ModeSearch}
	store := newTestStore(t)
	r := NewRunner(store, logx.Nop(), 1)
	fc := &fakeCollab{taggedErr: fmt.Errorf("%q: %w", "search", ErrTagNotFound)}

	sum := r.RunPass(context.Background(), map[App]Collaborator{AppShow: fc}, laneSettings(lane, 5, 0))
	rep := findLane(t, sum, lane)
	if rep.Err == "" {
		t.Fatalf("missing tag should be reported: %+v", rep)
	}
	store.View(func(st *state.State) {
		if !st.CooldownFor(lane.Key()).LastRunAt.IsZero() {
			t.Fatal("failed fetch must not start the cooldown clock")
		}
	})
}

func TestRunPassDisabledLane(t *testing.T) {
	t.Parallel()

	lane := Lane{App: AppShow, Mode: ModeSearch}
	store := newTestStore(t)
	r := NewRunner(store, logx.Nop(), 1)
	fc := &fakeCollab{tagged: map[string][]int64{"search": {1}}, missing: []int64{1}}

	sum := r.RunPass(context.Background(), map[App]Collaborator{AppShow: fc}, laneSettings(lane, 0, 0))
	rep := findLane(t, sum, lane)
	if !rep.Disabled {
		t.Fatalf("batch 0 should disable the lane: %+v", rep)
	}
	if len(fc.searched) != 0 {
		t.Fatalf("disabled lane triggered searches: %v", fc.searched)
	}
}

func TestRunPassConcurrentLanesBothPersist(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	r := NewRunner(store, logx.Nop(), 5)
	fc := &fakeCollab{
		tagged: map[string][]int64{
			"search": {1, 2},
			"done":   {3, 4},
		},
		missing: []int64{1, 2},
		cutoff:  []int64{3, 4},
	}
	search := Lane{App: AppShow, Mode: ModeSearch}
	done := Lane{App: AppShow, Mode: ModeDone}
	set := Settings{
		Lanes: map[Lane]LaneSettings{
			search: {Batch: 1},
			done:   {Batch: 1},
		},
		SearchTag: "search",
		DoneTag:   "done",
	}

	sum := r.RunPass(context.Background(), map[App]Collaborator{AppShow: fc}, set)
	if got := findLane(t, sum, search); got.Succeeded != 1 {
		t.Fatalf("search lane: %+v", got)
	}
	if got := findLane(t, sum, done); got.Succeeded != 1 {
		t.Fatalf("done lane: %+v", got)
	}
	store.View(func(st *state.State) {
		for _, key := range []string{search.Key(), done.Key()} {
			if got := len(st.BagFor(key).Remaining); got != 1 {
				t.Fatalf("%s: bag has %d remaining, want 1", key, got)
			}
			if st.CooldownFor(key).LastRunAt.IsZero() {
				t.Fatalf("%s: last_run_at not recorded", key)
			}
		}
	})
}

func TestRunPromotionRetagsCollected(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	r := NewRunner(store, logx.Nop(), 1)
	fc := &fakeCollab{
		tagged:  map[string][]int64{"search": {1, 2, 3}},
		missing: []int64{2},
	}
	set := Settings{
		Lanes:         map[Lane]LaneSettings{},
		AutoPromote:   true,
		PromoteLimits: map[App]int{AppMovie: 10},
		SearchTag:     "search",
		DoneTag:       "done",
	}

	sum := r.RunPass(context.Background(), map[App]Collaborator{AppMovie: fc}, set)
	if len(sum.Promotions) != 1 {
		t.Fatalf("want one promotion report, got %+v", sum.Promotions)
	}
	rep := sum.Promotions[0]
	if rep.Candidates != 2 || rep.Promoted != 2 || rep.Failed != 0 {
		t.Fatalf("promotion report = %+v, want candidates 2 promoted 2", rep)
	}
	got := sorted(fc.retagged)
	if len(got) != 2 || got[0] != 1 || got[1] != 3 {
		t.Fatalf("retagged %v, want [1 3]", fc.retagged)
	}
}

func TestRunPromotionHonorsLimit(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	r := NewRunner(store, logx.Nop(), 9)
	fc := &fakeCollab{
		tagged: map[string][]int64{"search": {1, 2, 3, 4}},
	}
	set := Settings{
		Lanes:         map[Lane]LaneSettings{},
		AutoPromote:   true,
		PromoteLimits: map[App]int{AppShow: 2},
		SearchTag:     "search",
		DoneTag:       "done",
	}

	sum := r.RunPass(context.Background(), map[App]Collaborator{AppShow: fc}, set)
	rep := sum.Promotions[0]
	if rep.Candidates != 4 || rep.Promoted != 2 {
		t.Fatalf("promotion report = %+v, want 4 candidates and 2 promoted", rep)
	}
}

func TestRunPromotionZeroLimitSkips(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	r := NewRunner(store, logx.Nop(), 1)
	fc := &fakeCollab{tagged: map[string][]int64{"search": {1}}}
	set := Settings{
		Lanes:         map[Lane]LaneSettings{},
		AutoPromote:   true,
		PromoteLimits: map[App]int{AppShow: 0},
		SearchTag:     "search",
		DoneTag:       "done",
	}

	sum := r.RunPass(context.Background(), map[App]Collaborator{AppShow: fc}, set)
	if rep := sum.Promotions[0]; rep.Promoted != 0 || len(fc.retagged) != 0 {
		t.Fatalf("zero limit still promoted: %+v retagged %v", rep, fc.retagged)
	}
}
