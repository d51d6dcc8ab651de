// Package httpconnect implements the client side of HTTP CONNECT tunneling
// (RFC 7231 §4.3.6), with optional Basic proxy authorization. The
// destination is never resolved locally; the proxy resolves it.
package httpconnect

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/relaywire/proxytun/core/proxy/bytestream"
	"github.com/relaywire/proxytun/internal/proxyerr"
)

// UserAgent identifies this library in the CONNECT request.
const UserAgent = "proxytun/1.0 (+https://github.com/relaywire/proxytun)"

// MaxHeaderSize bounds the total bytes read while looking for the
// terminating blank line, preventing unbounded memory use against a
// misbehaving or malicious proxy (spec.md §4.7/§9).
const MaxHeaderSize = 16 * 1024

// Params bundles the inputs to Handshake.
type Params struct {
	// HostToken is the destination as written on the CONNECT line and the
	// Host header: a name, an IPv4 literal, or a bracketed IPv6 literal
	// ("[::1]").
	HostToken string
	Port      uint16

	HasCredentials bool
	Username       string
	Password       string
}

// Handshake sends the CONNECT request over stream and validates the
// response status line. On any error the caller closes stream.
func Handshake(ctx context.Context, stream bytestream.Stream, p Params) error {
	req := buildRequest(p)
	if err := stream.WriteAll(ctx, []byte(req)); err != nil {
		return err
	}

	header, err := readHeader(ctx, stream)
	if err != nil {
		return err
	}

	return checkStatusLine(header)
}

func buildRequest(p Params) string {
	hostport := fmt.Sprintf("%s:%d", p.HostToken, p.Port)

	var b strings.Builder
	fmt.Fprintf(&b, "CONNECT %s HTTP/1.1\r\n", hostport)
	fmt.Fprintf(&b, "Host: %s\r\n", hostport)
	fmt.Fprintf(&b, "User-Agent: %s\r\n", UserAgent)
	if p.HasCredentials && p.Username != "" && p.Password != "" {
		cred := base64.StdEncoding.EncodeToString([]byte(p.Username + ":" + p.Password))
		fmt.Fprintf(&b, "Proxy-Authorization: Basic %s\r\n", cred)
	}
	b.WriteString("\r\n")
	return b.String()
}

// readHeader reads the response up to and including the first blank line
// ("\r\n\r\n"), bounded by MaxHeaderSize, and returns everything before it.
func readHeader(ctx context.Context, stream bytestream.Stream) (string, error) {
	const terminator = "\r\n\r\n"
	var buf []byte
	one := make([]byte, 1)

	for {
		if err := stream.ReadExact(ctx, one); err != nil {
			return "", err
		}
		buf = append(buf, one[0])
		if len(buf) > MaxHeaderSize {
			return "", proxyerr.Coded(proxyerr.ErrInvalidReply, len(buf), "response header exceeded maximum size")
		}
		if strings.HasSuffix(string(buf), terminator) {
			return strings.TrimSuffix(string(buf), terminator), nil
		}
	}
}

func checkStatusLine(header string) error {
	firstLine := header
	if idx := strings.Index(header, "\r\n"); idx >= 0 {
		firstLine = header[:idx]
	}

	fields := strings.Fields(firstLine)
	if len(fields) < 2 {
		return proxyerr.Coded(proxyerr.ErrInvalidReply, 0, "unparseable status line: "+firstLine)
	}

	status := 0
	if _, err := fmt.Sscanf(fields[1], "%d", &status); err != nil {
		return proxyerr.Coded(proxyerr.ErrInvalidReply, 0, "unparseable status code: "+fields[1])
	}

	switch {
	case status == 200:
		return nil
	case status == 407:
		return proxyerr.Coded(proxyerr.ErrAuthFailed, status, "proxy authentication required")
	default:
		return proxyerr.Coded(proxyerr.ErrProxy, status, "non-200 status: "+firstLine)
	}
}
