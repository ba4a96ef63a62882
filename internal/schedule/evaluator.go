package schedule

import (
	"fmt"
	"strings"

	"schedd/internal/recurrence"
)

// Evaluator answers date questions for items. It holds no mutable state.
type Evaluator struct {
	eng *recurrence.Engine
}

func NewEvaluator(eng *recurrence.Engine) *Evaluator {
	if eng == nil {
		eng = recurrence.New(recurrence.Config{})
	}
	return &Evaluator{eng: eng}
}

func (e *Evaluator) Engine() *recurrence.Engine { return e.eng }

// Validate reports whether the dispatcher can evaluate it.
func (e *Evaluator) Validate(it Item) error {
	if strings.TrimSpace(it.ID) == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidItem)
	}
	if it.RecurrenceEnabled {
		if it.Recurrence == nil {
			return fmt.Errorf("%w: %s: recurrence enabled without a rule", ErrInvalidItem, it.ID)
		}
		if err := it.Recurrence.Validate(); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInvalidItem, it.ID, err)
		}
		return nil
	}
	if it.SingleStart.IsZero() {
		return fmt.Errorf("%w: %s: start is required", ErrInvalidItem, it.ID)
	}
	return nil
}

// OccursOn is the dispatch decision: does it happen on d.
func (e *Evaluator) OccursOn(it Item, d recurrence.Date) bool {
	if it.RecurrenceEnabled {
		if it.Recurrence == nil {
			return false
		}
		return e.eng.OccursOn(*it.Recurrence, d)
	}
	if it.SingleStart.IsZero() || d.IsZero() {
		return false
	}
	return recurrence.DateOf(it.SingleStart) == d
}

// NextOccurrence is the display query.
//
// Recurring items return the first occurrence after today. One-off items only
// report their start date when today < start <= today+1, so a past or distant
// single event has no "next" here even though OccursOn still matches it.
func (e *Evaluator) NextOccurrence(it Item, today recurrence.Date) (recurrence.Date, bool) {
	if it.RecurrenceEnabled {
		if it.Recurrence == nil {
			return recurrence.Date{}, false
		}
		return e.eng.NextAfter(*it.Recurrence, today)
	}
	if it.SingleStart.IsZero() || today.IsZero() {
		return recurrence.Date{}, false
	}
	start := recurrence.DateOf(it.SingleStart)
	if start.After(today) && !start.After(today.AddDays(1)) {
		return start, true
	}
	return recurrence.Date{}, false
}

// Expired reports a one-off item whose date passed without ever firing.
func (e *Evaluator) Expired(it Item, today recurrence.Date) bool {
	if it.RecurrenceEnabled || it.SingleStart.IsZero() {
		return false
	}
	return recurrence.DateOf(it.SingleStart).Before(today) && len(it.FireHistory) == 0
}

// Occurrences lists the dates in [from, to] on which it occurs.
func (e *Evaluator) Occurrences(it Item, from, to recurrence.Date) []recurrence.Date {
	var out []recurrence.Date
	for d := from; !d.After(to); d = d.AddDays(1) {
		if e.OccursOn(it, d) {
			out = append(out, d)
		}
	}
	return out
}
