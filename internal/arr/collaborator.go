package arr

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"arrsweep/internal/sweep"
	logx "arrsweep/pkg/logx"
)

// Collaborator implements sweep.Collaborator for one *arr instance.
// In dry-run mode the side-effecting calls (search, retag) only log what
// they would do and report success.
type Collaborator struct {
	app      sweep.App
	prof     Profile
	client   *Client
	pageSize int
	dryRun   bool
	log      logx.Logger
}

// Options configures one collaborator on top of its client.
type Options struct {
	PageSize int
	DryRun   bool
}

func NewCollaborator(app sweep.App, client *Client, opt Options, log logx.Logger) *Collaborator {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Collaborator{
		app:      app,
		prof:     ProfileFor(app),
		client:   client,
		pageSize: opt.PageSize,
		dryRun:   opt.DryRun,
		log:      log.With(logx.String("app", string(app))),
	}
}

type tagRecord struct {
	ID    int64  `json:"id"`
	Label string `json:"label"`
}

type itemRecord struct {
	ID   int64   `json:"id"`
	Tags []int64 `json:"tags"`
}

// tagID resolves a tag label (case-insensitive) to its numeric ID.
func (c *Collaborator) tagID(ctx context.Context, label string) (int64, error) {
	var tags []tagRecord
	if err := c.client.GetJSON(ctx, "/tag", nil, &tags); err != nil {
		return 0, err
	}
	for _, t := range tags {
		if strings.EqualFold(t.Label, label) {
			return t.ID, nil
		}
	}
	return 0, fmt.Errorf("%q: %w", label, sweep.ErrTagNotFound)
}

// ListTagged returns the IDs of all items carrying the given tag label.
func (c *Collaborator) ListTagged(ctx context.Context, tag string) ([]int64, error) {
	id, err := c.tagID(ctx, tag)
	if err != nil {
		return nil, err
	}
	var items []itemRecord
	if err := c.client.GetJSON(ctx, "/"+c.prof.ItemPath, nil, &items); err != nil {
		return nil, err
	}
	var out []int64
	for _, it := range items {
		for _, t := range it.Tags {
			if t == id {
				out = append(out, it.ID)
				break
			}
		}
	}
	return out, nil
}

// ListMissing returns the item IDs with missing/wanted content.
func (c *Collaborator) ListMissing(ctx context.Context) ([]int64, error) {
	return c.pagedIDs(ctx, "/wanted/missing")
}

// ListUpgradeCandidates returns the item IDs below their quality cutoff.
func (c *Collaborator) ListUpgradeCandidates(ctx context.Context) ([]int64, error) {
	return c.pagedIDs(ctx, "/wanted/cutoff")
}

func (c *Collaborator) pagedIDs(ctx context.Context, path string) ([]int64, error) {
	recs, err := c.client.PagedRecords(ctx, path, c.pageSize)
	if err != nil {
		return nil, err
	}
	seen := make(map[int64]struct{}, len(recs))
	var out []int64
	for _, rec := range recs {
		id, ok := extractID(rec, c.prof.IDKeys)
		if !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// TriggerSearch posts the app-specific search command for one item.
func (c *Collaborator) TriggerSearch(ctx context.Context, id int64) error {
	var payload map[string]any
	switch c.app {
	case sweep.AppShow:
		payload = map[string]any{"name": "SeriesSearch", "seriesId": id}
	case sweep.AppMovie:
		payload = map[string]any{"name": "MoviesSearch", "movieIds": []int64{id}}
	case sweep.AppArtist:
		payload = map[string]any{"name": "ArtistSearch", "artistId": id}
	default:
		return fmt.Errorf("unknown app %q", c.app)
	}

	if c.dryRun {
		c.log.Info("dry run: would trigger search", logx.Int64("id", id))
		return nil
	}
	if err := c.client.PostJSON(ctx, "/command", payload); err != nil {
		return err
	}
	c.log.Debug("search triggered", logx.Int64("id", id))
	return nil
}

// Retag swaps one tag label for another on an item via GET-modify-PUT of
// the full object. A no-op change skips the PUT.
func (c *Collaborator) Retag(ctx context.Context, id int64, removeTag, addTag string) error {
	removeID, err := c.tagID(ctx, removeTag)
	if err != nil {
		return err
	}
	addID, err := c.tagID(ctx, addTag)
	if err != nil {
		return err
	}

	path := fmt.Sprintf("/%s/%d", c.prof.ItemPath, id)
	var obj map[string]any
	if err := c.client.GetJSON(ctx, path, nil, &obj); err != nil {
		return err
	}

	tags := map[int64]struct{}{}
	if raw, ok := obj["tags"].([]any); ok {
		for _, v := range raw {
			if t, ok := asID(v); ok {
				tags[t] = struct{}{}
			}
		}
	}

	changed := false
	if _, ok := tags[removeID]; ok {
		delete(tags, removeID)
		changed = true
	}
	if _, ok := tags[addID]; !ok {
		tags[addID] = struct{}{}
		changed = true
	}
	if !changed {
		return nil
	}

	next := make([]int64, 0, len(tags))
	for t := range tags {
		next = append(next, t)
	}
	sort.Slice(next, func(i, j int) bool { return next[i] < next[j] })
	obj["tags"] = next

	if c.dryRun {
		c.log.Info("dry run: would retag",
			logx.Int64("id", id),
			logx.String("remove", removeTag),
			logx.String("add", addTag))
		return nil
	}
	if err := c.client.PutJSON(ctx, path, obj); err != nil {
		return err
	}
	c.log.Info("retagged", logx.Int64("id", id),
		logx.String("remove", removeTag), logx.String("add", addTag))
	return nil
}
