package httpconnect_test

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/relaywire/proxytun/core/proxy/bytestream"
	"github.com/relaywire/proxytun/core/proxy/httpconnect"
	"github.com/relaywire/proxytun/internal/proxyerr"
)

func serveOnce(t *testing.T, reply string) (addr string, got chan string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	got = make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		defer ln.Close()

		buf := make([]byte, 4096)
		total := ""
		for {
			n, err := conn.Read(buf)
			total += string(buf[:n])
			if strings.Contains(total, "\r\n\r\n") || err != nil {
				break
			}
		}
		got <- total
		conn.Write([]byte(reply))
	}()
	return ln.Addr().String(), got
}

func TestHandshake_Success(t *testing.T) {
	addr, got := serveOnce(t, "HTTP/1.1 200 Connection Established\r\n\r\n")

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()
	stream := bytestream.New(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err = httpconnect.Handshake(ctx, stream, httpconnect.Params{
		HostToken: "example.com",
		Port:      443,
	})
	require.NoError(t, err)

	req := <-got
	require.Contains(t, req, "CONNECT example.com:443 HTTP/1.1\r\n")
	require.Contains(t, req, "Host: example.com:443\r\n")
	require.NotContains(t, req, "Proxy-Authorization")
}

// TestHandshake_AuthFailure is spec.md scenario S4.
func TestHandshake_AuthFailure(t *testing.T) {
	addr, got := serveOnce(t, "HTTP/1.1 407 Proxy Authentication Required\r\n\r\n")

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()
	stream := bytestream.New(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err = httpconnect.Handshake(ctx, stream, httpconnect.Params{
		HostToken:      "example.com",
		Port:           443,
		HasCredentials: true,
		Username:       "a",
		Password:       "b",
	})
	require.ErrorIs(t, err, proxyerr.ErrAuthFailed)

	req := <-got
	require.Contains(t, req, "Proxy-Authorization: Basic YTpi\r\n")
}

func TestHandshake_NonParseableStatusLine(t *testing.T) {
	addr, _ := serveOnce(t, "GARBAGE\r\n\r\n")

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()
	stream := bytestream.New(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err = httpconnect.Handshake(ctx, stream, httpconnect.Params{HostToken: "x", Port: 1})
	require.ErrorIs(t, err, proxyerr.ErrInvalidReply)
}
