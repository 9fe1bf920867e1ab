// Package sweep implements the selection-and-cooldown scheduler: the
// shuffle-bag item selector, the per-lane cooldown gate, the auto-promotion
// evaluator, and the run controller that drives one pass across all lanes.
package sweep

// App identifies one supported media service by content type.
type App string

const (
	AppShow   App = "show"   // Sonarr
	AppMovie  App = "movie"  // Radarr
	AppArtist App = "artist" // Lidarr
)

// Apps returns all supported app types in a stable order.
func Apps() []App { return []App{AppShow, AppMovie, AppArtist} }

// Mode selects which tag-driven pass a lane serves: "search" acts on
// missing items tagged for searching, "done" acts on upgrade candidates
// tagged as collected.
type Mode string

const (
	ModeSearch Mode = "search"
	ModeDone   Mode = "done"
)

func Modes() []Mode { return []Mode{ModeSearch, ModeDone} }

// Lane is one independent scheduling lane: an (app, mode) pair. All
// scheduler state is addressed by lane; lanes never share state.
type Lane struct {
	App  App
	Mode Mode
}

// Key is the lane's stable identifier used in the persisted state and logs.
func (l Lane) Key() string { return string(l.App) + "/" + string(l.Mode) }
