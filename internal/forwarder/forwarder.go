// Package forwarder implements the accept loop behind the proxytun-dial
// command: it listens on a local address and, for every accepted
// connection, dials a fixed destination through a configured proxy chain
// and bridges bytes in both directions.
package forwarder

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/relaywire/proxytun"
	"github.com/relaywire/proxytun/internal/config"
	"github.com/relaywire/proxytun/internal/logger"
)

var errListenerNotInitialized = errors.New("forwarder listener is not initialized")
var errTransfer = errors.New("data transfer error")

// Forwarder accepts local connections and tunnels each one to cfg's
// destination through cfg's proxy chain.
type Forwarder struct {
	cfg         *config.Config
	descriptors []proxytun.ProxyDescriptor
	listener    net.Listener
}

// New parses cfg's proxy chain and returns a Forwarder ready to Listen.
func New(cfg *config.Config) (*Forwarder, error) {
	descriptors, err := proxytun.ParseProxyChain(cfg.ProxyChain)
	if err != nil {
		return nil, err
	}
	return &Forwarder{cfg: cfg, descriptors: descriptors}, nil
}

// Listen starts the forwarder's TCP listener on the configured address.
func (f *Forwarder) Listen() error {
	var err error
	f.listener, err = net.Listen("tcp", f.cfg.Listen)
	if err != nil {
		return err
	}
	logger.Info("proxytun-dial is listening on: ", f.cfg.Listen)
	return nil
}

// Start accepts and handles incoming connections until the listener is
// closed, then returns nil; other accept errors are logged and the loop
// continues. It should be called after Listen.
func (f *Forwarder) Start() error {
	if f.listener == nil {
		return errListenerNotInitialized
	}
	for {
		conn, err := f.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			logger.Warn(errors.Join(errors.New("connection accept failed"), err))
			continue
		}
		logger.Debug("accepted connection from:", conn.RemoteAddr())
		go f.handleConnection(conn)
	}
}

func (f *Forwarder) handleConnection(conn net.Conn) {
	defer conn.Close()

	host, portStr, err := net.SplitHostPort(f.cfg.Destination)
	if err != nil {
		logger.Error(errors.Join(errors.New("invalid destination"), err))
		return
	}
	port, err := parsePort(portStr)
	if err != nil {
		logger.Error(errors.Join(errors.New("invalid destination port"), err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(f.cfg.Timeout.DialTimeout)*time.Second)
	defer cancel()

	rc, err := proxytun.ConnectChain(ctx, f.descriptors, proxytun.Endpoint{Host: host, Port: port}, time.Time{})
	if err != nil {
		logger.Warn(errors.Join(errors.New("proxy chain dial failed"), err))
		return
	}
	defer rc.Close()

	wg := sync.WaitGroup{}
	wg.Add(2)
	errChan := make(chan error, 2)

	go dataTransfer(&wg, errChan, rc, conn)
	go dataTransfer(&wg, errChan, conn, rc)

	go func() {
		wg.Wait()
		close(errChan)
	}()

	for err := range errChan {
		if !errors.Is(err, io.EOF) {
			logger.Error(err)
		}
	}
}

// dataTransfer copies from right to left, reporting any non-EOF error.
func dataTransfer(wg *sync.WaitGroup, errChan chan error, left, right net.Conn) {
	defer wg.Done()
	if _, err := io.Copy(left, right); err != nil {
		errChan <- errors.Join(errTransfer, err)
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
