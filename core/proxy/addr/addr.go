// Package addr classifies destination literals and encodes them for the
// wire formats used by the SOCKS dialects. It performs no DNS resolution;
// see core/proxy/resolver for that.
package addr

import (
	"encoding/binary"
	"net"

	"golang.org/x/net/idna"

	"github.com/relaywire/proxytun/internal/proxyerr"
)

// Family identifies an IP address family.
type Family int

const (
	// FamilyUnspecified means either family is acceptable.
	FamilyUnspecified Family = iota
	FamilyV4
	FamilyV6
)

// Kind identifies how a host literal classified.
type Kind int

const (
	KindIPv4 Kind = iota
	KindIPv6
	KindName
)

// Classified is the result of classifying a host string.
type Classified struct {
	Kind Kind
	IP   net.IP // set when Kind is KindIPv4 or KindIPv6
	Name string // set when Kind is KindName
}

// ResolvedAddress is the result of a DNS resolution: a family and its raw
// address bytes (4 bytes for v4, 16 for v6).
type ResolvedAddress struct {
	Family Family
	IP     net.IP
}

// Classify determines whether host is an IPv4 literal, an IPv6 literal, or
// a name, using strict literal parsing only (no DNS lookups).
func Classify(host string) Classified {
	if ip := net.ParseIP(host); ip != nil {
		if v4 := ip.To4(); v4 != nil {
			return Classified{Kind: KindIPv4, IP: v4}
		}
		return Classified{Kind: KindIPv6, IP: ip.To16()}
	}
	return Classified{Kind: KindName, Name: host}
}

// IDNAEncode converts name to its ASCII-compatible wire form. It fails with
// proxyerr.ErrInvalidAddress if the result would exceed 255 bytes (the
// SOCKS4a/SOCKS5 domain length limit) or if the name cannot be encoded.
func IDNAEncode(name string) ([]byte, error) {
	ascii, err := idna.Lookup.ToASCII(name)
	if err != nil {
		return nil, proxyerr.Coded(proxyerr.ErrInvalidAddress, 0, "idna encode: "+err.Error())
	}
	if len(ascii) > 255 {
		return nil, proxyerr.Coded(proxyerr.ErrInvalidAddress, len(ascii), "encoded name exceeds 255 bytes")
	}
	return []byte(ascii), nil
}

// PackPort encodes port in network byte order (2 bytes, big-endian).
func PackPort(port uint16) [2]byte {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], port)
	return b
}

// UnpackPort decodes 2 network-order bytes into a port number.
func UnpackPort(b []byte) uint16 {
	return binary.BigEndian.Uint16(b)
}
