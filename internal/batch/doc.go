// Package batch fans the probe+classify pipeline out over a target list
// under a hard concurrency gate. One target's failure never aborts or delays
// the others; partial-batch completion is the normal case.
package batch
