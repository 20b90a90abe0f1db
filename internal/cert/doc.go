// Package cert turns raw probe results into classified certificate records.
//
// The status mapping is deliberate: network failures (timeout, dns,
// connection refused) classify as unknown because the certificate could not
// be assessed, while content failures (unparseable, not yet valid) classify
// as invalid because the certificate itself is bad. Only invalid and the
// expiry statuses are ever eligible for alerting.
package cert
