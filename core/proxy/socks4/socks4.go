// Package socks4 implements the client side of the SOCKS4 and SOCKS4a
// handshakes.
//
// Request: 0x04 | 0x01 | port(2) | ipv4(4) | user_id(0..n) | 0x00 | [hostname(0..n) | 0x00]
// Reply:   0x00 | status | bind_port(2) | bind_addr(4)
package socks4

import (
	"context"

	"github.com/relaywire/proxytun/core/proxy/addr"
	"github.com/relaywire/proxytun/core/proxy/bytestream"
	"github.com/relaywire/proxytun/core/proxy/resolver"
	"github.com/relaywire/proxytun/internal/proxyerr"
)

const (
	version    = 0x04
	cmdConnect = 0x01

	replyNullVersion = 0x00
	replyGranted     = 0x5A
	replyRejected    = 0x5B
	replyNoIdent     = 0x5C
	replyBadIdent    = 0x5D
)

// sentinelIPv4 is the SOCKS4a marker: an invalid IPv4 address of the form
// 0.0.0.x (x != 0) signals the server that a trailing hostname follows.
var sentinelIPv4 = [4]byte{0, 0, 0, 1}

// Params bundles the inputs to Handshake.
type Params struct {
	Destination      addr.Classified // pre-classified destination host
	DestinationName  string          // original host text, used when Destination.Kind == KindName
	Port             uint16
	RDNS             bool
	Username         string // credentials.username; password is never sent (spec.md §3)
	Resolver         resolver.Resolver
}

// Handshake drives the SOCKS4/4a request/reply exchange over stream and
// returns once the proxy has granted the connection. On any error the
// caller is responsible for closing stream; Handshake never does so
// itself (ownership rule lives in the engine).
func Handshake(ctx context.Context, stream bytestream.Stream, p Params) error {
	req, err := buildRequest(ctx, p)
	if err != nil {
		return err
	}
	if err := stream.WriteAll(ctx, req); err != nil {
		return err
	}
	return readReply(ctx, stream)
}

func buildRequest(ctx context.Context, p Params) ([]byte, error) {
	var ipv4 [4]byte
	var trailer []byte

	switch p.Destination.Kind {
	case addr.KindIPv4:
		copy(ipv4[:], p.Destination.IP.To4())
	case addr.KindIPv6:
		return nil, proxyerr.Coded(proxyerr.ErrInvalidAddress, 0, "SOCKS4 cannot address an IPv6 literal")
	case addr.KindName:
		if p.RDNS {
			ipv4 = sentinelIPv4
			enc, err := addr.IDNAEncode(p.DestinationName)
			if err != nil {
				return nil, err
			}
			trailer = append(append([]byte{}, enc...), 0x00)
		} else {
			resolved, err := p.Resolver.Resolve(ctx, p.DestinationName, addr.FamilyV4)
			if err != nil {
				return nil, err
			}
			v4 := resolved.IP.To4()
			if v4 == nil {
				return nil, proxyerr.Coded(proxyerr.ErrInvalidAddress, 0, "name resolved only to IPv6")
			}
			copy(ipv4[:], v4)
		}
	}

	port := addr.PackPort(p.Port)

	userID := []byte(p.Username)

	req := make([]byte, 0, 8+len(userID)+1+len(trailer))
	req = append(req, version, cmdConnect)
	req = append(req, port[:]...)
	req = append(req, ipv4[:]...)
	req = append(req, userID...)
	req = append(req, 0x00)
	req = append(req, trailer...)
	return req, nil
}

func readReply(ctx context.Context, stream bytestream.Stream) error {
	var reply [8]byte
	if err := stream.ReadExact(ctx, reply[:]); err != nil {
		return err
	}
	if reply[0] != replyNullVersion {
		return proxyerr.Coded(proxyerr.ErrInvalidReply, int(reply[0]), "unexpected null-version byte")
	}
	switch reply[1] {
	case replyGranted:
		return nil
	case replyRejected:
		return proxyerr.Coded(proxyerr.ErrRequestRejected, int(reply[1]), "request rejected or failed")
	case replyNoIdent:
		return proxyerr.Coded(proxyerr.ErrRequestRejected, int(reply[1]), "ident service unreachable")
	case replyBadIdent:
		return proxyerr.Coded(proxyerr.ErrRequestRejected, int(reply[1]), "ident mismatch")
	default:
		return proxyerr.Coded(proxyerr.ErrRequestRejected, int(reply[1]), "unknown")
	}
}
