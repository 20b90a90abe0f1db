// Package ledger tracks the last calendar day a notification was sent per
// (target, threshold) key. MarkSent is the serialization point that upholds
// the at-most-one-send-per-day invariant under concurrent runs: exactly one
// caller wins a given (target, threshold, day) and everyone else backs off.
package ledger
