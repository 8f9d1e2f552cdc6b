package app

import "github.com/dkeye/Parley/internal/presence"

// Fanout delivers outbound events to connections. Implemented by the
// transport adapter; delivery is reliable per subscriber but unordered
// across connections, with no retry of its own.
type Fanout interface {
	// Broadcast sends v to every connection currently in the room,
	// skipping exclude when non-empty.
	Broadcast(room string, v any, exclude presence.ConnID)
	// Unicast sends v to a single connection.
	Unicast(conn presence.ConnID, v any)
}
