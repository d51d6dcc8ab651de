package socks5_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/relaywire/proxytun/core/proxy/addr"
	"github.com/relaywire/proxytun/core/proxy/bytestream"
	"github.com/relaywire/proxytun/core/proxy/socks5"
	"github.com/relaywire/proxytun/internal/proxyerr"
	"github.com/relaywire/proxytun/internal/proxytest"
)

func dial(t *testing.T, addrStr string) bytestream.Stream {
	t.Helper()
	conn, err := net.Dial("tcp", addrStr)
	require.NoError(t, err)
	return bytestream.New(conn)
}

// TestHandshake_AnonymousIPv4 is spec.md scenario S1.
func TestHandshake_AnonymousIPv4(t *testing.T) {
	srv, err := proxytest.NewServer([]proxytest.Step{
		{Recv: 3, Send: []byte{0x05, 0x00}},
		{Recv: 10, Send: []byte{0x05, 0x00, 0x00, 0x01, 0, 0, 0, 0, 0, 0}},
	})
	require.NoError(t, err)
	defer srv.Close()

	stream := dial(t, srv.Addr())
	defer stream.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err = socks5.Handshake(ctx, stream, socks5.Params{
		Destination: addr.Classify("93.184.216.34"),
		Port:        80,
	})
	require.NoError(t, err)

	want := []byte{0x05, 0x01, 0x00}
	want = append(want, 0x05, 0x01, 0x00, 0x01, 93, 184, 216, 34, 0x00, 0x50)
	require.Equal(t, want, srv.Received())
}

// TestHandshake_PasswordDomainRDNS is spec.md scenario S2.
func TestHandshake_PasswordDomainRDNS(t *testing.T) {
	srv, err := proxytest.NewServer([]proxytest.Step{
		{Recv: 4, Send: []byte{0x05, 0x02}},
		{Recv: 5, Send: []byte{0x01, 0x00}},
		{Recv: 18, Send: []byte{0x05, 0x00, 0x00, 0x01, 0, 0, 0, 0, 0, 0}},
	})
	require.NoError(t, err)
	defer srv.Close()

	stream := dial(t, srv.Addr())
	defer stream.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err = socks5.Handshake(ctx, stream, socks5.Params{
		Destination:     addr.Classify("example.com"),
		DestinationName: "example.com",
		Port:            443,
		RDNS:            true,
		HasCredentials:  true,
		Username:        "u",
		Password:        "p",
	})
	require.NoError(t, err)

	want := []byte{0x05, 0x02, 0x02, 0x00}
	want = append(want, 0x01, 0x01, 'u', 0x01, 'p')
	want = append(want, 0x05, 0x01, 0x00, 0x03, 0x0B)
	want = append(want, "example.com"...)
	want = append(want, 0x01, 0xBB)
	require.Equal(t, want, srv.Received())
}

// TestHandshake_DomainOverflow is spec.md scenario S5: the connect-phase
// request is never sent once the encoded name is found to overflow the
// 255-byte domain length field.
func TestHandshake_DomainOverflow(t *testing.T) {
	longName := ""
	for i := 0; i < 256; i++ {
		longName += "a"
	}

	srv, err := proxytest.NewServer([]proxytest.Step{
		{Recv: 3, Send: []byte{0x05, 0x00}},
	})
	require.NoError(t, err)
	defer srv.Close()

	stream := dial(t, srv.Addr())
	defer stream.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err = socks5.Handshake(ctx, stream, socks5.Params{
		Destination:     addr.Classify(longName),
		DestinationName: longName,
		Port:            443,
		RDNS:            true,
	})
	require.ErrorIs(t, err, proxyerr.ErrInvalidAddress)

	// Only the method-negotiation bytes were ever sent; the connect-phase
	// request (which would carry the overflowing domain) was never
	// written.
	require.Equal(t, []byte{0x05, 0x01, 0x00}, srv.Received())
}

func TestHandshake_NoAcceptableMethods(t *testing.T) {
	srv, err := proxytest.NewServer([]proxytest.Step{
		{Recv: 3, Send: []byte{0x05, 0xFF}},
	})
	require.NoError(t, err)
	defer srv.Close()

	stream := dial(t, srv.Addr())
	defer stream.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err = socks5.Handshake(ctx, stream, socks5.Params{
		Destination: addr.Classify("1.2.3.4"),
		Port:        1,
	})
	require.ErrorIs(t, err, proxyerr.ErrNoAcceptableAuth)
}

func TestHandshake_ConnectRefused(t *testing.T) {
	srv, err := proxytest.NewServer([]proxytest.Step{
		{Recv: 3, Send: []byte{0x05, 0x00}},
		{Recv: 10, Send: []byte{0x05, 0x05, 0x00, 0x01, 0, 0, 0, 0, 0, 0}},
	})
	require.NoError(t, err)
	defer srv.Close()

	stream := dial(t, srv.Addr())
	defer stream.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err = socks5.Handshake(ctx, stream, socks5.Params{
		Destination: addr.Classify("1.2.3.4"),
		Port:        1,
	})
	require.ErrorIs(t, err, proxyerr.ErrProxy)
}
