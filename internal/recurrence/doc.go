// Package recurrence evaluates repeating calendar rules.
//
// A Spec is a reduced RFC 5545 rule: frequency, interval, an optional weekday
// set for weekly rules, a start anchor and an optional inclusive until date.
// Evaluation works on calendar dates only; time of day and zone never take part.
//
// Month-end handling follows RFC 5545: a monthly rule anchored on the 31st
// has no occurrence in shorter months, and a yearly rule on Feb 29 only
// occurs in leap years.
//
// The Engine is stateless and safe for concurrent use.
package recurrence
