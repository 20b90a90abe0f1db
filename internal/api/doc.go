// Package api exposes the REST surface: run triggering, certificate
// records, health, metrics, and the WebSocket stream.
package api
