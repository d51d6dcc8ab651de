package socks4_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/relaywire/proxytun/core/proxy/addr"
	"github.com/relaywire/proxytun/core/proxy/bytestream"
	"github.com/relaywire/proxytun/core/proxy/socks4"
	"github.com/relaywire/proxytun/internal/proxyerr"
	"github.com/relaywire/proxytun/internal/proxytest"
)

func dial(t *testing.T, addrStr string) bytestream.Stream {
	t.Helper()
	conn, err := net.Dial("tcp", addrStr)
	require.NoError(t, err)
	return bytestream.New(conn)
}

func TestHandshake_IPv4Success(t *testing.T) {
	srv, err := proxytest.NewServer([]proxytest.Step{
		{Recv: 9}, // VER CMD PORT(2) IPV4(4) null
		{Send: []byte{0x00, 0x5A, 0, 0, 0, 0, 0, 0}},
	})
	require.NoError(t, err)
	defer srv.Close()

	stream := dial(t, srv.Addr())
	defer stream.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	classified := addr.Classify("93.184.216.34")
	err = socks4.Handshake(ctx, stream, socks4.Params{
		Destination: classified,
		Port:        80,
	})
	require.NoError(t, err)

	want := []byte{0x04, 0x01, 0x00, 0x50, 93, 184, 216, 34, 0x00}
	require.Equal(t, want, srv.Received())
}

func TestHandshake_Socks4aDomain(t *testing.T) {
	srv, err := proxytest.NewServer([]proxytest.Step{
		{Recv: 25},
		{Send: []byte{0x00, 0x5A, 0, 0, 0, 0, 0, 0}},
	})
	require.NoError(t, err)
	defer srv.Close()

	stream := dial(t, srv.Addr())
	defer stream.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	classified := addr.Classify("example.com")
	err = socks4.Handshake(ctx, stream, socks4.Params{
		Destination:     classified,
		DestinationName: "example.com",
		Port:            80,
		RDNS:            true,
		Username:        "user",
	})
	require.NoError(t, err)

	want := []byte{0x04, 0x01, 0x00, 0x50, 0, 0, 0, 1}
	want = append(want, "user"...)
	want = append(want, 0x00)
	want = append(want, "example.com"...)
	want = append(want, 0x00)
	require.Equal(t, want, srv.Received())
}

func TestHandshake_IPv6Rejected(t *testing.T) {
	classified := addr.Classify("::1")
	err := socks4.Handshake(context.Background(), nil, socks4.Params{
		Destination: classified,
		Port:        80,
	})
	require.ErrorIs(t, err, proxyerr.ErrInvalidAddress)
}

func TestHandshake_RejectedStatus(t *testing.T) {
	srv, err := proxytest.NewServer([]proxytest.Step{
		{Recv: 9},
		{Send: []byte{0x00, 0x5B, 0, 0, 0, 0, 0, 0}},
	})
	require.NoError(t, err)
	defer srv.Close()

	stream := dial(t, srv.Addr())
	defer stream.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	classified := addr.Classify("1.2.3.4")
	err = socks4.Handshake(ctx, stream, socks4.Params{Destination: classified, Port: 1})
	require.ErrorIs(t, err, proxyerr.ErrRequestRejected)
}
