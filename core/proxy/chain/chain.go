// Package chain composes an ordered list of proxy hops into a single
// established stream: hop i's handshake runs over the stream produced by
// hop i-1, with hop i's destination being hop i+1's address (or the final
// destination, for the last hop). The underlying TCP transport is created
// exactly once, by the first hop.
package chain

import (
	"context"

	"github.com/relaywire/proxytun/core/proxy/bytestream"
	"github.com/relaywire/proxytun/core/proxy/engine"
	"github.com/relaywire/proxytun/core/proxy/proxyurl"
	"github.com/relaywire/proxytun/internal/proxyerr"
)

// Dial drives descriptors[0..N-1] in order, ending at destination.
// On any error, the current stream is closed, which propagates EOF
// through every prior hop transitively; no hop's socket is leaked.
func Dial(ctx context.Context, eng *engine.Engine, descriptors []proxyurl.Descriptor, destination engine.Endpoint) (bytestream.Stream, error) {
	if len(descriptors) == 0 {
		return nil, proxyerr.Coded(proxyerr.ErrInvalidURL, 0, "empty proxy chain")
	}

	targets := make([]engine.Endpoint, len(descriptors))
	for i := 0; i < len(descriptors)-1; i++ {
		targets[i] = engine.Endpoint{Host: descriptors[i+1].Host, Port: descriptors[i+1].Port}
	}
	targets[len(descriptors)-1] = destination

	var stream bytestream.Stream
	for i, descriptor := range descriptors {
		next, err := eng.Dial(ctx, descriptor, targets[i], stream)
		if err != nil {
			// eng.Dial already closed the stream it was handed (if any)
			// on failure, and closes the fresh one it dialed itself.
			return nil, err
		}
		stream = next
	}
	return stream, nil
}
