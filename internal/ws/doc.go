// Package ws pushes run reports to WebSocket clients. Dashboards connect
// once, receive the most recent report immediately, then get every new
// report as monitoring runs finish.
package ws
