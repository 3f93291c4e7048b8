// Package exchange streams normalized trade ticks from a venue websocket.
// Wire parsing and reconnection live here; consumers see only a tick
// channel and connection events.
package exchange

import (
	"context"
	"time"

	"github.com/amirphl/pairs-trader/internal/tick"
)

// EventType classifies connection lifecycle events.
type EventType string

const (
	EventConnected    EventType = "connected"
	EventDisconnected EventType = "disconnected"
)

// Event notifies consumers of a connection state change. Consumers use
// disconnects to force-close any open candles so no window is left dangling
// across a gap in the feed.
type Event struct {
	Type EventType
	Err  error
	At   time.Time
}

// Feed is a live source of trade ticks for a fixed set of symbols.
type Feed interface {
	// Start begins streaming until ctx is cancelled or Close is called.
	Start(ctx context.Context)
	Ticks() <-chan tick.Tick
	Events() <-chan Event
	IsConnected() bool
	Close()
}
