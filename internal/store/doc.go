// Package store persists classified certificate records. The memory store
// is the default; the Postgres store backs deployments that keep rotation
// history across restarts. Both supersede rather than overwrite a record
// when its fingerprint changes, so history-sensitive callers can see
// certificate rotations.
package store
