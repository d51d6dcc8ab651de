// Package proxyerr defines the error taxonomy shared by every handshake and
// by the proxy engine. Errors are sentinel values joined with their
// underlying cause via errors.Join, so callers match with errors.Is against
// the sentinel rather than parsing strings.
package proxyerr

import "errors"

// Sentinel errors. Each corresponds to one row of the taxonomy table.
var (
	// ErrInvalidURL is returned when a proxy URL fails to parse: bad
	// scheme, missing/invalid port, or malformed host.
	ErrInvalidURL = errors.New("proxytun: invalid proxy url")

	// ErrInvalidAddress is returned when an address cannot be encoded for
	// the wire: IDNA overflow, or a destination family unsupported by the
	// chosen dialect (e.g. an IPv6 literal over SOCKS4).
	ErrInvalidAddress = errors.New("proxytun: invalid address")

	// ErrInvalidCredentials is returned when a username or password
	// exceeds the 255-byte limit SOCKS5 user/pass auth allows.
	ErrInvalidCredentials = errors.New("proxytun: invalid credentials")

	// ErrProxyConnect is returned when the TCP dial to the proxy itself
	// fails (connection refused, host unreachable, ...).
	ErrProxyConnect = errors.New("proxytun: proxy connect failed")

	// ErrTimeout is returned when the deadline threaded through a dial or
	// handshake elapses before the operation completes.
	ErrTimeout = errors.New("proxytun: timeout")

	// ErrInvalidReply is returned when a proxy reply fails to parse: wrong
	// version byte, wrong reserved byte, truncated response, or an
	// unparseable HTTP status line.
	ErrInvalidReply = errors.New("proxytun: invalid proxy reply")

	// ErrNoAcceptableAuth is returned when a SOCKS5 server rejects every
	// authentication method offered (0xFF).
	ErrNoAcceptableAuth = errors.New("proxytun: no acceptable authentication method")

	// ErrAuthFailed is returned when SOCKS5 user/pass authentication is
	// rejected, or an HTTP CONNECT proxy replies 407.
	ErrAuthFailed = errors.New("proxytun: proxy authentication failed")

	// ErrRequestRejected is returned for SOCKS4 status bytes 0x5B/0x5C/0x5D.
	ErrRequestRejected = errors.New("proxytun: proxy rejected request")

	// ErrProxy wraps a non-success reply code that isn't covered by a more
	// specific sentinel above (SOCKS5 REP != 0, HTTP non-200/non-407).
	ErrProxy = errors.New("proxytun: proxy error")

	// ErrUnexpectedEOF is returned when the peer closes the connection
	// mid-handshake, before the expected number of bytes arrived.
	ErrUnexpectedEOF = errors.New("proxytun: unexpected eof during handshake")
)

// CodedError carries a protocol-specific numeric code alongside one of the
// sentinels above, so callers that need the raw SOCKS4 status byte or SOCKS5
// REP code (or HTTP status) can recover it without string parsing.
type CodedError struct {
	Sentinel error
	Code     int
	Reason   string
}

func (e *CodedError) Error() string {
	if e.Reason != "" {
		return e.Sentinel.Error() + ": " + e.Reason
	}
	return e.Sentinel.Error()
}

func (e *CodedError) Unwrap() error { return e.Sentinel }

// Coded builds a *CodedError joined with sentinel so errors.Is(err,
// sentinel) still succeeds.
func Coded(sentinel error, code int, reason string) error {
	return &CodedError{Sentinel: sentinel, Code: code, Reason: reason}
}
