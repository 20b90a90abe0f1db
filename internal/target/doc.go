// Package target defines the monitored-endpoint model and origin
// normalization rules. Targets are created and managed by an external
// management layer; the engine only reads the active set for a run.
package target
