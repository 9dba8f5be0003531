package sequence

import (
	"fmt"
	"strings"
	"time"
)

// Render substitutes the template placeholders with the wall-clock date and
// the zero-padded sequence value. Values wider than Width are kept whole
// rather than truncated.
func Render(tpl Template, value int64, at time.Time) string {
	width := tpl.Width
	if width <= 0 {
		width = 1
	}
	r := strings.NewReplacer(
		"{YYYY}", at.Format("2006"),
		"{YY}", at.Format("06"),
		"{MM}", at.Format("01"),
		"{DD}", at.Format("02"),
		"{SEQ}", fmt.Sprintf("%0*d", width, value),
	)
	return r.Replace(tpl.Format)
}
