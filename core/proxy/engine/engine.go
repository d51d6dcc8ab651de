// Package engine drives a single proxy hop: dialing the proxy (subject to
// a deadline) when no underlying stream is supplied, running the handshake
// matching the descriptor's kind, and guaranteeing the socket is closed on
// any failure or cancellation before returning. Ownership transfers to the
// caller only on success.
package engine

import (
	"context"
	"fmt"
	"net"

	"github.com/relaywire/proxytun/core/proxy/addr"
	"github.com/relaywire/proxytun/core/proxy/bytestream"
	"github.com/relaywire/proxytun/core/proxy/httpconnect"
	"github.com/relaywire/proxytun/core/proxy/proxyurl"
	"github.com/relaywire/proxytun/core/proxy/resolver"
	"github.com/relaywire/proxytun/core/proxy/socks4"
	"github.com/relaywire/proxytun/core/proxy/socks5"
	"github.com/relaywire/proxytun/internal/proxyerr"
)

// Dialer abstracts the TCP dial used to reach a proxy's own address. The
// default implementation is *net.Dialer; any other implementation (for
// example an in-memory one) can be substituted.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Endpoint is a destination host/port, independent of how it is addressed
// on the wire (that's decided per-dialect from its classification).
type Endpoint struct {
	Host string
	Port uint16
}

// Credentials holds a username/password pair to offer to the proxy, if the
// descriptor carries any.
type Credentials struct {
	Username string
	Password string
}

// Engine owns the Dialer and Resolver capabilities used to realize hops.
type Engine struct {
	Dialer   Dialer
	Resolver resolver.Resolver
}

// New returns an Engine using *net.Dialer and the default DNS resolver.
func New() *Engine {
	return &Engine{
		Dialer:   &net.Dialer{},
		Resolver: resolver.NewDefault(nil),
	}
}

// Dial realizes one hop: descriptor names the proxy and dialect, target is
// what that hop should CONNECT to (the next hop's address, or the final
// destination for the last hop). If underlying is non-nil it is used as
// the transport instead of dialing a fresh socket (chaining); Dial never
// closes a caller-supplied underlying stream other than on its own error
// paths, matching spec.md §4.8/§4.9.
func (e *Engine) Dial(ctx context.Context, descriptor proxyurl.Descriptor, target Endpoint, underlying bytestream.Stream) (bytestream.Stream, error) {
	stream := underlying
	if stream == nil {
		conn, err := e.dialProxy(ctx, descriptor)
		if err != nil {
			return nil, err
		}
		stream = bytestream.New(conn)
	}

	if err := e.handshake(ctx, stream, descriptor, target); err != nil {
		stream.Close()
		return nil, err
	}

	return stream, nil
}

func (e *Engine) dialProxy(ctx context.Context, descriptor proxyurl.Descriptor) (net.Conn, error) {
	classified := addr.Classify(descriptor.Host)

	host := descriptor.Host
	if classified.Kind == addr.KindName {
		resolved, err := e.Resolver.Resolve(ctx, descriptor.Host, addr.FamilyUnspecified)
		if err != nil {
			return nil, err
		}
		host = resolved.IP.String()
	}

	address := net.JoinHostPort(host, fmt.Sprintf("%d", descriptor.Port))
	conn, err := e.Dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		if ctx.Err() != nil {
			return nil, proxyerr.Coded(proxyerr.ErrTimeout, 0, err.Error())
		}
		return nil, proxyerr.Coded(proxyerr.ErrProxyConnect, 0, err.Error())
	}
	return conn, nil
}

func (e *Engine) handshake(ctx context.Context, stream bytestream.Stream, descriptor proxyurl.Descriptor, target Endpoint) error {
	classified := addr.Classify(target.Host)

	// When the proxy itself resolves the destination (rdns=true), wire in
	// the Null resolver instead of the real one: the handshake code below
	// already skips resolving in that branch, but this turns any future
	// accidental call into an immediate, loud failure rather than a silent
	// local DNS lookup (spec property P6).
	destResolver := e.Resolver
	if descriptor.RDNS {
		destResolver = resolver.Null{}
	}

	switch descriptor.Kind {
	case proxyurl.KindSocks4:
		return socks4.Handshake(ctx, stream, socks4.Params{
			Destination:     classified,
			DestinationName: target.Host,
			Port:            target.Port,
			RDNS:            descriptor.RDNS,
			Username:        descriptor.Username,
			Resolver:        destResolver,
		})
	case proxyurl.KindSocks5:
		return socks5.Handshake(ctx, stream, socks5.Params{
			Destination:     classified,
			DestinationName: target.Host,
			Port:            target.Port,
			RDNS:            descriptor.RDNS,
			HasCredentials:  descriptor.HasUserInfo,
			Username:        descriptor.Username,
			Password:        descriptor.Password,
			Resolver:        destResolver,
		})
	case proxyurl.KindHTTPConnect:
		return httpconnect.Handshake(ctx, stream, httpconnect.Params{
			HostToken:      hostToken(classified, target.Host),
			Port:           target.Port,
			HasCredentials: descriptor.HasUserInfo,
			Username:       descriptor.Username,
			Password:       descriptor.Password,
		})
	default:
		return proxyerr.Coded(proxyerr.ErrInvalidURL, 0, "unknown proxy kind")
	}
}

// hostToken renders the CONNECT-line host token: bracketed for IPv6
// literals, verbatim otherwise.
func hostToken(c addr.Classified, original string) string {
	if c.Kind == addr.KindIPv6 {
		return "[" + c.IP.String() + "]"
	}
	return original
}
