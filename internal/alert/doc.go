// Package alert decides whether a classified certificate record warrants a
// notification now, and renders the sink-ready payload when it does.
//
// Expiry alerts use at-or-below threshold semantics: only the most urgent
// matching threshold fires, and the ledger caps each (target, threshold)
// pair at one send per calendar day. Certificate errors (status invalid)
// alert through a separate immediate rule with its own daily dedup slot.
// Unknown records never alert; a network blip is not a certificate problem.
package alert
