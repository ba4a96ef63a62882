package schedule

import (
	"bufio"
	"fmt"
	"io"
	"sort"

	"schedd/internal/recurrence"
)

// WriteAgenda prints, for each of days dates starting at from, the items
// that occur on it. Days without items are listed with a dash so gaps are
// visible.
func WriteAgenda(w io.Writer, items []Item, ev *Evaluator, from recurrence.Date, days int) error {
	if days <= 0 {
		days = 7
	}
	sorted := make([]Item, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	bw := bufio.NewWriter(w)
	for i := 0; i < days; i++ {
		day := from.AddDays(i)
		fmt.Fprintf(bw, "%s %s\n", day, day.Weekday().String()[:3])
		n := 0
		for _, it := range sorted {
			if !ev.OccursOn(it, day) {
				continue
			}
			n++
			title := it.Title
			if title == "" {
				title = it.ID
			}
			mark := " "
			if it.FiredOn(day) {
				mark = "*"
			}
			fmt.Fprintf(bw, "  %s %-20s %s\n", mark, it.ID, title)
		}
		if n == 0 {
			fmt.Fprintln(bw, "    -")
		}
	}
	return bw.Flush()
}
