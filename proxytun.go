// Package proxytun tunnels a byte-transparent TCP stream to a destination
// through one or more SOCKS4(a), SOCKS5, or HTTP CONNECT proxy hops. Given
// a destination and a chain of proxy descriptors, it performs the
// appropriate handshake on each hop so the resulting connection looks to
// the caller as if they had dialed the destination directly.
//
// The package consumes a "TCP dial" capability and a "DNS resolve"
// capability from its host environment (core/proxy/engine.Dialer and
// core/proxy/resolver.Resolver) and exposes a connected net.Conn. TLS
// wrapping of the destination stream, connection pooling, and DNS
// resolution backends are the caller's responsibility.
package proxytun

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/relaywire/proxytun/core/proxy/chain"
	"github.com/relaywire/proxytun/core/proxy/engine"
	"github.com/relaywire/proxytun/core/proxy/proxyurl"
	"github.com/relaywire/proxytun/core/proxy/resolver"
)

// ProxyKind re-exports proxyurl.Kind at the package root so callers need
// not import the core/proxy/proxyurl package for common usage.
type ProxyKind = proxyurl.Kind

const (
	Socks4      = proxyurl.KindSocks4
	Socks5      = proxyurl.KindSocks5
	HTTPConnect = proxyurl.KindHTTPConnect
)

// ProxyDescriptor re-exports proxyurl.Descriptor.
type ProxyDescriptor = proxyurl.Descriptor

// Endpoint re-exports engine.Endpoint.
type Endpoint = engine.Endpoint

// ParseProxyURL parses a single proxy URL into a ProxyDescriptor. See
// core/proxy/proxyurl for the accepted syntax.
func ParseProxyURL(raw string) (ProxyDescriptor, error) {
	return proxyurl.Parse(raw, nil)
}

// ParseProxyChain parses an ordered list of proxy URLs into descriptors.
func ParseProxyChain(urls []string) ([]ProxyDescriptor, error) {
	return proxyurl.ParseChain(urls)
}

// Option configures an Engine constructed by Connect/ConnectChain or the HTTP
// transport constructors.
type Option func(*engine.Engine)

// WithDialer overrides the TCP dialer used to reach each proxy hop.
func WithDialer(d engine.Dialer) Option {
	return func(e *engine.Engine) { e.Dialer = d }
}

// WithResolver overrides the DNS resolver used for local-resolve paths and
// for resolving proxy hostnames.
func WithResolver(r resolver.Resolver) Option {
	return func(e *engine.Engine) { e.Resolver = r }
}

func newEngine(opts []Option) *engine.Engine {
	e := engine.New()
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Connect dials destination through a single proxy descriptor and returns
// the established, byte-transparent connection. The caller may TLS-upgrade
// the returned net.Conn. deadline, if non-zero, bounds the whole dial
// (TCP connect to the proxy plus the handshake); a zero deadline means no
// deadline.
func Connect(ctx context.Context, descriptor ProxyDescriptor, destination Endpoint, deadline time.Time, opts ...Option) (net.Conn, error) {
	return ConnectChain(ctx, []ProxyDescriptor{descriptor}, destination, deadline, opts...)
}

// ConnectChain dials destination through an ordered chain of proxy
// descriptors: hop i's handshake runs over hop i-1's established stream,
// so only the first hop's socket is a fresh TCP connection.
func ConnectChain(ctx context.Context, descriptors []ProxyDescriptor, destination Endpoint, deadline time.Time, opts ...Option) (net.Conn, error) {
	if !deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}

	eng := newEngine(opts)
	stream, err := chain.Dial(ctx, eng, descriptors, destination)
	if err != nil {
		return nil, err
	}
	return stream.Conn(), nil
}

// NewHTTPTransport returns an *http.Transport whose DialContext tunnels
// every outgoing connection through descriptor before handing it to
// net/http. The host HTTP client never resolves the destination itself
// (the literal "host:port" net/http passes to DialContext is forwarded
// unresolved when the descriptor's rdns policy says so) and each request
// that opens a fresh connection causes exactly one proxy handshake; a
// request reusing a kept-alive connection via the Transport's own pool is
// opaque to this adapter, same as it would be for a direct dial.
func NewHTTPTransport(descriptor ProxyDescriptor, opts ...Option) *http.Transport {
	return NewChainHTTPTransport([]ProxyDescriptor{descriptor}, opts...)
}

// NewChainHTTPTransport is NewHTTPTransport for a chain of proxies.
func NewChainHTTPTransport(descriptors []ProxyDescriptor, opts ...Option) *http.Transport {
	eng := newEngine(opts)
	return &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, portStr, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, err
			}
			port, err := parsePort(portStr)
			if err != nil {
				return nil, err
			}
			stream, err := chain.Dial(ctx, eng, descriptors, Endpoint{Host: host, Port: port})
			if err != nil {
				return nil, err
			}
			return stream.Conn(), nil
		},
	}
}

func parsePort(s string) (uint16, error) {
	var port int
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, &net.AddrError{Err: "invalid port", Addr: s}
		}
		port = port*10 + int(c-'0')
	}
	if port < 1 || port > 65535 {
		return 0, &net.AddrError{Err: "port out of range", Addr: s}
	}
	return uint16(port), nil
}
