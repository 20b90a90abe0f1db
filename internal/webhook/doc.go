// Package webhook delivers rendered alert payloads to configured HTTP
// endpoints. Transient failures (timeouts, 5xx) are retried with bounded
// exponential backoff; 4xx responses and malformed URLs are permanent and
// surfaced to the caller without retry.
package webhook
