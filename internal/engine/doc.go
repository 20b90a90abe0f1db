// Package engine drives a full monitoring run: fetch the active targets,
// probe and classify them, persist the records, evaluate the alert policy,
// and deliver whatever alerts come due. One run at a time.
package engine
