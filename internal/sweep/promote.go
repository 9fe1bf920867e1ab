package sweep

import "sort"

// Promotable returns the IDs that should move from the search tag to the
// done tag: every tagged item whose ID is absent from the current missing
// set. Items still missing are left untouched. The result is sorted so the
// decision is deterministic; applying the retag is the collaborator's job.
func Promotable(tagged []int64, missing map[int64]struct{}) []int64 {
	var out []int64
	seen := make(map[int64]struct{}, len(tagged))
	for _, id := range tagged {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if _, still := missing[id]; !still {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
