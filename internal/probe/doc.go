// Package probe opens a TCP+TLS connection to a single HTTPS origin and
// collects the peer certificate chain. The handshake deliberately skips
// chain verification; whether the presented certificate is trustworthy is
// the classifier's call, not a reason to abort the connection.
package probe
