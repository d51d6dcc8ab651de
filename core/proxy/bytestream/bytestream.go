// Package bytestream generalizes the teacher's read-with-context helper
// into a small capability type: ReadExact, ReadUntilEOF, and WriteAll over
// any duplex byte channel, so handshake code takes a bytestream.Stream
// value rather than a raw net.Conn plus loose helper functions (Design
// Notes: "multiple inheritance mixins" -> explicit capability parameters).
// A Stream wraps a fresh TCP socket and a previously established tunneled
// stream identically; handshake logic cannot tell them apart.
package bytestream

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	"github.com/relaywire/proxytun/internal/proxyerr"
)

// Stream is the capability every handshake is written against.
type Stream interface {
	// ReadExact fills buf completely or fails. If the peer closes before
	// buf is full, the error wraps proxyerr.ErrUnexpectedEOF.
	ReadExact(ctx context.Context, buf []byte) error

	// ReadUntilEOF reads until the peer closes the connection and returns
	// everything read. If more than max bytes arrive first, it fails with
	// proxyerr.ErrInvalidReply.
	ReadUntilEOF(ctx context.Context, max int) ([]byte, error)

	// WriteAll writes every byte of buf or fails with an error wrapping
	// proxyerr.ErrProxyConnect (broken pipe).
	WriteAll(ctx context.Context, buf []byte) error

	// Conn exposes the underlying net.Conn so callers can hand the
	// established stream back to their own I/O loop once the handshake
	// finishes, and so later hops can treat it as a fresh transport.
	Conn() net.Conn

	// Close is idempotent: a second call is a no-op, not an error.
	Close() error
}

// connStream is the default Stream implementation over a net.Conn.
type connStream struct {
	conn   net.Conn
	closed chan struct{}
}

// New wraps conn as a Stream. conn may be a freshly dialed TCP socket or
// the net.Conn exposed by a previously established Stream (chaining).
func New(conn net.Conn) Stream {
	return &connStream{conn: conn, closed: make(chan struct{})}
}

func (s *connStream) Conn() net.Conn { return s.conn }

// ReadExact loops on readWithContext until buf is full, since a single
// conn.Read is free to return a short read for a multi-byte reply split
// across TCP segments; only an actual EOF before buf fills counts as
// proxyerr.ErrUnexpectedEOF. Grounded on the teacher's use of
// io.ReadFull (core/net/stream/stream.go) for the same reason.
func (s *connStream) ReadExact(ctx context.Context, buf []byte) error {
	read := 0
	for read < len(buf) {
		n, err := readWithContext(ctx, s.conn, buf[read:])
		read += n
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return errors.Join(proxyerr.ErrUnexpectedEOF, err)
			}
			if ctx.Err() != nil {
				return errors.Join(proxyerr.ErrTimeout, ctx.Err())
			}
			return errors.Join(proxyerr.ErrUnexpectedEOF, err)
		}
	}
	return nil
}

func (s *connStream) ReadUntilEOF(ctx context.Context, max int) ([]byte, error) {
	var out []byte
	buf := make([]byte, 4096)
	for {
		n, err := readWithContext(ctx, s.conn, buf)
		if n > 0 {
			out = append(out, buf[:n]...)
			if len(out) > max {
				return nil, proxyerr.Coded(proxyerr.ErrInvalidReply, len(out), "response exceeded maximum size")
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			if ctx.Err() != nil {
				return nil, errors.Join(proxyerr.ErrTimeout, ctx.Err())
			}
			return nil, err
		}
	}
}

func (s *connStream) WriteAll(ctx context.Context, buf []byte) error {
	written := 0
	for written < len(buf) {
		n, err := writeWithContext(ctx, s.conn, buf[written:])
		written += n
		if err != nil {
			if ctx.Err() != nil {
				return errors.Join(proxyerr.ErrTimeout, ctx.Err())
			}
			return errors.Join(proxyerr.ErrProxyConnect, err)
		}
	}
	return nil
}

func (s *connStream) Close() error {
	select {
	case <-s.closed:
		return nil
	default:
		close(s.closed)
		return s.conn.Close()
	}
}

// readWithContext performs conn.Read, honoring ctx cancellation. Grounded
// on the teacher's utils.ReadWithContext: a goroutine performs the
// blocking read, the select races it against ctx.Done().
func readWithContext(ctx context.Context, conn net.Conn, buf []byte) (int, error) {
	type result struct {
		n   int
		err error
	}
	ch := make(chan result, 1)
	go func() {
		n, err := conn.Read(buf)
		ch <- result{n, err}
	}()
	select {
	case <-ctx.Done():
		conn.SetDeadline(aLongTimeAgo)
		<-ch
		return 0, ctx.Err()
	case r := <-ch:
		return r.n, r.err
	}
}

// writeWithContext performs conn.Write, honoring ctx cancellation.
// Grounded on the teacher's pkg/net/utils.WriteWithContext.
func writeWithContext(ctx context.Context, conn net.Conn, buf []byte) (int, error) {
	type result struct {
		n   int
		err error
	}
	ch := make(chan result, 1)
	go func() {
		n, err := conn.Write(buf)
		ch <- result{n, err}
	}()
	select {
	case <-ctx.Done():
		conn.SetDeadline(aLongTimeAgo)
		<-ch
		return 0, ctx.Err()
	case r := <-ch:
		return r.n, r.err
	}
}

// aLongTimeAgo forces any in-flight syscall on conn to return promptly once
// the context is cancelled, so the goroutine above does not leak past the
// caller giving up.
var aLongTimeAgo = time.Unix(1, 0)
