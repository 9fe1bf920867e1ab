package sweep

import (
	"fmt"
	"strings"
	"time"
)

const timeRound = 10 * time.Millisecond

// Text renders the pass summary as a short human-readable report, one line
// per lane, suitable for logs and notifications.
func (s Summary) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "sweep pass (%s)", s.Took.Round(timeRound))
	for _, l := range s.Lanes {
		b.WriteString("\n")
		b.WriteString(l.Lane.Key())
		b.WriteString(": ")
		switch {
		case l.Disabled:
			b.WriteString("disabled")
		case l.Gated:
			b.WriteString("gated")
		case l.Err != "" && len(l.Selected) == 0:
			b.WriteString("error: " + l.Err)
		case l.PoolEmpty:
			b.WriteString("pool empty")
		default:
			fmt.Fprintf(&b, "pool %d, selected %d, ok %d, failed %d",
				l.PoolSize, len(l.Selected), l.Succeeded, len(l.Failed))
			if l.Err != "" {
				b.WriteString(" (" + l.Err + ")")
			}
		}
	}
	for _, p := range s.Promotions {
		b.WriteString("\n")
		fmt.Fprintf(&b, "%s promote: ", p.App)
		switch {
		case p.Err != "":
			b.WriteString("error: " + p.Err)
		default:
			fmt.Fprintf(&b, "candidates %d, promoted %d, failed %d",
				p.Candidates, p.Promoted, p.Failed)
		}
	}
	return b.String()
}
