package arr

import "arrsweep/internal/sweep"

// Profile describes the API shape of one *arr service: which prefix its
// API lives under, the item resource path, and which record fields carry
// the item ID in wanted/cutoff responses.
type Profile struct {
	APIPrefix string
	ItemPath  string
	IDKeys    []string
}

// ProfileFor returns the wire profile for an app type. Sonarr and Radarr
// speak v3, Lidarr still speaks v1.
func ProfileFor(app sweep.App) Profile {
	switch app {
	case sweep.AppShow:
		return Profile{APIPrefix: "/api/v3", ItemPath: "series", IDKeys: []string{"seriesId"}}
	case sweep.AppMovie:
		return Profile{APIPrefix: "/api/v3", ItemPath: "movie", IDKeys: []string{"movieId", "movie"}}
	case sweep.AppArtist:
		return Profile{APIPrefix: "/api/v1", ItemPath: "artist", IDKeys: []string{"artistId", "artist"}}
	default:
		return Profile{}
	}
}

// extractID pulls an item ID out of a wanted/cutoff record, trying each key
// as a plain number first, then as a nested object carrying "id". JSON
// numbers arrive as float64.
func extractID(rec map[string]any, keys []string) (int64, bool) {
	for _, k := range keys {
		if id, ok := asID(rec[k]); ok {
			return id, true
		}
	}
	for _, k := range keys {
		if m, ok := rec[k].(map[string]any); ok {
			if id, ok := asID(m["id"]); ok {
				return id, true
			}
		}
	}
	return 0, false
}

func asID(v any) (int64, bool) {
	switch x := v.(type) {
	case float64:
		return int64(x), true
	case int64:
		return x, true
	default:
		return 0, false
	}
}
