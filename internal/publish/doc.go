// Package publish emits run events to Kafka for downstream consumers.
// Publishing is optional; a nil Publisher is a no-op, so deployments
// without a broker pay nothing.
package publish
