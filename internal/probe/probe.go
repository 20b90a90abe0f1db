package probe

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/url"
	"syscall"
	"time"
)

// DefaultTimeout bounds the combined connect+handshake when the caller
// passes a non-positive timeout.
const DefaultTimeout = 10 * time.Second

// Outcome classifies how a single connection attempt ended.
type Outcome string

const (
	OutcomeSuccess           Outcome = "success"
	OutcomeHandshakeError    Outcome = "handshake-error"
	OutcomeTimeout           Outcome = "timeout"
	OutcomeDNSError          Outcome = "dns-error"
	OutcomeConnectionRefused Outcome = "connection-refused"
	OutcomeCertParseError    Outcome = "certificate-parse-error"
)

// Result is the raw outcome of one probe. Callers hand it to the classifier
// immediately and never persist it.
type Result struct {
	Origin    string
	Outcome   Outcome
	CheckedAt time.Time
	Leaf      []byte   // raw DER of the leaf certificate, nil on failure
	Chain     [][]byte // full peer chain in presentation order, leaf first
	Elapsed   time.Duration
	Reason    string // underlying error text for non-success outcomes
}

// Probe dials origin over TCP, performs a TLS handshake, and captures the
// presented certificate chain. timeout covers the combined connect and
// handshake; exceeding it yields OutcomeTimeout, never a hang.
//
// Untrusted or self-signed chains complete the handshake and come back as
// OutcomeSuccess; two probes of an unchanged certificate return identical
// leaf bytes. Probe performs no retries.
func Probe(ctx context.Context, origin string, timeout time.Duration) Result {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	start := time.Now()
	res := Result{Origin: origin, CheckedAt: start.UTC()}

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{},
		Config: &tls.Config{
			InsecureSkipVerify: true, //nolint:gosec // trust is judged by the classifier
		},
	}

	netConn, err := dialer.DialContext(dialCtx, "tcp", hostPort(origin))
	res.Elapsed = time.Since(start)
	if err != nil {
		res.Outcome, res.Reason = classifyDialError(err)
		return res
	}
	conn := netConn.(*tls.Conn)
	defer conn.Close()

	peer := conn.ConnectionState().PeerCertificates
	if len(peer) == 0 {
		res.Outcome = OutcomeHandshakeError
		res.Reason = "no peer certificates presented"
		return res
	}

	res.Leaf = peer[0].Raw
	res.Chain = make([][]byte, 0, len(peer))
	for _, c := range peer {
		res.Chain = append(res.Chain, c.Raw)
	}
	res.Outcome = OutcomeSuccess
	return res
}

// classifyDialError maps a dial/handshake error to an outcome kind.
// DNS failures are checked before timeouts so that an NXDOMAIN is never
// misreported; a resolver that timed out still counts as a timeout.
func classifyDialError(err error) (Outcome, string) {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && !dnsErr.IsTimeout {
		return OutcomeDNSError, dnsErr.Error()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return OutcomeTimeout, err.Error()
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return OutcomeTimeout, err.Error()
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return OutcomeConnectionRefused, err.Error()
	}
	return OutcomeHandshakeError, err.Error()
}

// hostPort extracts host:port from a normalized origin, appending the HTTPS
// default port when none is present.
func hostPort(origin string) string {
	u, err := url.Parse(origin)
	if err != nil {
		return origin
	}
	host := u.Host
	if _, _, err := net.SplitHostPort(host); err != nil {
		host = net.JoinHostPort(host, "443")
	}
	return host
}
