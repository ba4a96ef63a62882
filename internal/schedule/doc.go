// Package schedule models schedule items and evaluates them against dates.
//
// An Item either repeats (it carries a recurrence.Spec) or happens once on its
// SingleStart date. Evaluator.OccursOn decides dispatch. NextOccurrence is a
// display query and uses a narrower window for one-off items.
package schedule
