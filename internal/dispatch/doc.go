// Package dispatch runs the once-per-day, per-item fire loop.
//
// Each run pages through published items not yet checked today, claims the
// day for each (compare-and-set on LastChecked when the store supports it),
// asks the evaluator whether the item occurs today, and for due items appends
// the date to the fire history and emits the fire hook.
//
// A fire is at most once per item per date: the claim is taken before the
// history append, and a failed append releases the claim so the next run
// retries. RunUnit re-registers the hourly wake-up after every unit of work.
package dispatch
