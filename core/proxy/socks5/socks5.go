// Package socks5 implements the client side of the SOCKS5 handshake: method
// negotiation (RFC 1928), optional username/password authentication
// (RFC 1929), and the CONNECT request/reply.
package socks5

import (
	"context"

	"github.com/relaywire/proxytun/core/proxy/addr"
	"github.com/relaywire/proxytun/core/proxy/bytestream"
	"github.com/relaywire/proxytun/core/proxy/resolver"
	"github.com/relaywire/proxytun/internal/proxyerr"
)

const version = 0x05

const (
	methodNoAuth   = 0x00
	methodUserPass = 0x02
	methodNoAccept = 0xFF
)

const (
	authVersion = 0x01
	authSuccess = 0x00
)

const (
	cmdConnect = 0x01
	rsv        = 0x00
)

const (
	atypIPv4   = 0x01
	atypDomain = 0x03
	atypIPv6   = 0x04
)

// Params bundles the inputs to Handshake.
type Params struct {
	Destination     addr.Classified
	DestinationName string
	Port            uint16
	RDNS            bool

	HasCredentials bool
	Username       string
	Password       string

	Resolver resolver.Resolver
}

// Handshake drives the three SOCKS5 phases over stream. On any error the
// caller closes stream; Handshake never does so itself.
func Handshake(ctx context.Context, stream bytestream.Stream, p Params) error {
	method, err := negotiateMethod(ctx, stream, p.HasCredentials)
	if err != nil {
		return err
	}

	if method == methodUserPass {
		if err := authenticate(ctx, stream, p.Username, p.Password); err != nil {
			return err
		}
	}

	return connect(ctx, stream, p)
}

func negotiateMethod(ctx context.Context, stream bytestream.Stream, hasCredentials bool) (byte, error) {
	var methods []byte
	if hasCredentials {
		methods = []byte{methodUserPass, methodNoAuth}
	} else {
		methods = []byte{methodNoAuth}
	}

	req := make([]byte, 0, 2+len(methods))
	req = append(req, version, byte(len(methods)))
	req = append(req, methods...)
	if err := stream.WriteAll(ctx, req); err != nil {
		return 0, err
	}

	var reply [2]byte
	if err := stream.ReadExact(ctx, reply[:]); err != nil {
		return 0, err
	}
	if reply[0] != version {
		return 0, proxyerr.Coded(proxyerr.ErrInvalidReply, int(reply[0]), "unexpected version byte")
	}

	switch reply[1] {
	case methodNoAccept:
		return 0, proxyerr.ErrNoAcceptableAuth
	case methodNoAuth, methodUserPass:
		return reply[1], nil
	default:
		return 0, proxyerr.Coded(proxyerr.ErrInvalidReply, int(reply[1]), "unexpected auth method")
	}
}

func authenticate(ctx context.Context, stream bytestream.Stream, username, password string) error {
	if len(username) > 255 || len(password) > 255 {
		return proxyerr.Coded(proxyerr.ErrInvalidCredentials, 0, "username/password exceeds 255 bytes")
	}

	req := make([]byte, 0, 3+len(username)+len(password))
	req = append(req, authVersion, byte(len(username)))
	req = append(req, username...)
	req = append(req, byte(len(password)))
	req = append(req, password...)
	if err := stream.WriteAll(ctx, req); err != nil {
		return err
	}

	var reply [2]byte
	if err := stream.ReadExact(ctx, reply[:]); err != nil {
		return err
	}
	if reply[0] != authVersion {
		return proxyerr.Coded(proxyerr.ErrInvalidReply, int(reply[0]), "unexpected auth version byte")
	}
	if reply[1] != authSuccess {
		return proxyerr.Coded(proxyerr.ErrAuthFailed, int(reply[1]), "authentication rejected")
	}
	return nil
}

func connect(ctx context.Context, stream bytestream.Stream, p Params) error {
	var atyp byte
	var addrBytes []byte

	switch p.Destination.Kind {
	case addr.KindIPv4:
		atyp = atypIPv4
		addrBytes = p.Destination.IP.To4()
	case addr.KindIPv6:
		atyp = atypIPv6
		addrBytes = p.Destination.IP.To16()
	case addr.KindName:
		if p.RDNS {
			enc, err := addr.IDNAEncode(p.DestinationName)
			if err != nil {
				return err
			}
			atyp = atypDomain
			addrBytes = append([]byte{byte(len(enc))}, enc...)
		} else {
			resolved, err := p.Resolver.Resolve(ctx, p.DestinationName, addr.FamilyUnspecified)
			if err != nil {
				return err
			}
			if resolved.Family == addr.FamilyV4 {
				atyp = atypIPv4
				addrBytes = resolved.IP.To4()
			} else {
				atyp = atypIPv6
				addrBytes = resolved.IP.To16()
			}
		}
	}

	port := addr.PackPort(p.Port)

	req := make([]byte, 0, 4+len(addrBytes)+2)
	req = append(req, version, cmdConnect, rsv, atyp)
	req = append(req, addrBytes...)
	req = append(req, port[:]...)
	if err := stream.WriteAll(ctx, req); err != nil {
		return err
	}

	return readConnectReply(ctx, stream)
}

func readConnectReply(ctx context.Context, stream bytestream.Stream) error {
	var hdr [4]byte
	if err := stream.ReadExact(ctx, hdr[:]); err != nil {
		return err
	}
	if hdr[0] != version {
		return proxyerr.Coded(proxyerr.ErrInvalidReply, int(hdr[0]), "unexpected version byte")
	}
	if hdr[2] != rsv {
		return proxyerr.Coded(proxyerr.ErrInvalidReply, int(hdr[2]), "reserved byte not zero")
	}
	if rep := hdr[1]; rep != 0x00 {
		return replyError(rep)
	}

	// On success, consume BND.ADDR + BND.PORT in full so the stream is
	// positioned at the first payload byte (spec.md §6). A non-zero REP
	// returns above without reading them.
	var addrLen int
	switch hdr[3] {
	case atypIPv4:
		addrLen = 4
	case atypIPv6:
		addrLen = 16
	case atypDomain:
		var l [1]byte
		if err := stream.ReadExact(ctx, l[:]); err != nil {
			return err
		}
		addrLen = int(l[0])
	default:
		return proxyerr.Coded(proxyerr.ErrInvalidReply, int(hdr[3]), "unknown bind address type")
	}

	discard := make([]byte, addrLen+2)
	return stream.ReadExact(ctx, discard)
}

func replyError(rep byte) error {
	switch rep {
	case 0x01:
		return proxyerr.Coded(proxyerr.ErrProxy, int(rep), "general SOCKS server failure")
	case 0x02:
		return proxyerr.Coded(proxyerr.ErrProxy, int(rep), "connection not allowed by ruleset")
	case 0x03:
		return proxyerr.Coded(proxyerr.ErrProxy, int(rep), "network unreachable")
	case 0x04:
		return proxyerr.Coded(proxyerr.ErrProxy, int(rep), "host unreachable")
	case 0x05:
		return proxyerr.Coded(proxyerr.ErrProxy, int(rep), "connection refused")
	case 0x06:
		return proxyerr.Coded(proxyerr.ErrProxy, int(rep), "TTL expired")
	case 0x07:
		return proxyerr.Coded(proxyerr.ErrProxy, int(rep), "command not supported")
	case 0x08:
		return proxyerr.Coded(proxyerr.ErrProxy, int(rep), "address type not supported")
	default:
		return proxyerr.Coded(proxyerr.ErrProxy, int(rep), "unknown reply code")
	}
}
