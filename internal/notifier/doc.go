// Package notifier delivers fire notifications to operators.
//
// The service is registered as a handler on the dispatcher's fire hook. It
// renders a short message from a template, enqueues it without blocking, and
// sends it from a worker through a Sender (Telegram or the log) with rate
// limiting and retry. Stop drains whatever is still queued.
//
// A full queue drops the notification and reports ErrQueueFull; the fire
// itself is already recorded by the dispatcher, so a lost notification never
// causes a re-fire.
package notifier
