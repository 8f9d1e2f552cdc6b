// Package app hosts the session coordinator: the event-driven controller
// between the transport, the presence registry and the message store.
package app

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Parley/internal/domain"
	"github.com/dkeye/Parley/internal/presence"
	"github.com/dkeye/Parley/internal/store"
)

// Coordinator orchestrates connect/join/leave/send/mark-read requests.
// It holds no persistent state of its own.
type Coordinator struct {
	registry *presence.Registry
	store    store.Store
	fanout   Fanout
	validate *domain.Validator

	mu             sync.Mutex
	explicitLeaves map[presence.ConnID]struct{}

	// roomSend serializes commit+broadcast per room so new_message frames
	// preserve durable commit order. Rooms never contend with each other.
	sendMu   sync.Mutex
	roomSend map[string]*sync.Mutex
}

func NewCoordinator(reg *presence.Registry, st store.Store, validate *domain.Validator) *Coordinator {
	c := &Coordinator{
		registry:       reg,
		store:          st,
		validate:       validate,
		explicitLeaves: make(map[presence.ConnID]struct{}),
		roomSend:       make(map[string]*sync.Mutex),
	}
	reg.OnLeft(c.announceLeft)
	return c
}

// BindFanout installs the transport's delivery port. Must be called during
// wiring, before any connection is handled.
func (c *Coordinator) BindFanout(f Fanout) { c.fanout = f }

// Registry exposes the presence registry to the transport adapter, which
// resolves room subscriber sets from it.
func (c *Coordinator) Registry() *presence.Registry { return c.registry }

// Connect records transport liveness only; a room association is
// established by a subsequent join.
func (c *Coordinator) Connect(conn presence.ConnID) {
	log.Info().Str("module", "app.coordinator").Str("conn", string(conn)).Msg("client connected")
}

// Join validates the request, registers presence, replays history to the
// joining connection and tells the room about fresh joins only.
func (c *Coordinator) Join(ctx context.Context, conn presence.ConnID, username, room string) error {
	username = strings.TrimSpace(username)
	room = strings.TrimSpace(room)

	if err := c.validate.Username(username); err != nil {
		c.fanout.Unicast(conn, ErrorEvent{Type: TypeError, Message: "username and room are required"})
		return err
	}
	if err := c.validate.Room(room); err != nil {
		c.fanout.Unicast(conn, ErrorEvent{Type: TypeError, Message: "username and room are required"})
		return err
	}

	// A reconnect within the grace window is never a conflict: it is the
	// same user coming back after a reload or a network blip.
	reconnect := c.registry.HasPending(username, room)
	if !reconnect && c.registry.UsernameLive(username, room, conn) {
		c.fanout.Unicast(conn, ErrorEvent{
			Type:    TypeError,
			Message: `username "` + username + `" is already taken in this room`,
		})
		return ErrNameConflict
	}

	fresh := c.registry.Register(conn, username, room)

	// A rejoin supersedes any earlier explicit leave on this connection;
	// its eventual disconnect must be handled gracefully again.
	c.mu.Lock()
	delete(c.explicitLeaves, conn)
	c.mu.Unlock()

	history, err := c.store.History(ctx, room)
	if err != nil {
		// A failed join must leave no presence behind.
		c.registry.UnregisterExplicit(conn)
		c.fanout.Unicast(conn, ErrorEvent{Type: TypeError, Message: "failed to load room history"})
		return err
	}

	c.fanout.Unicast(conn, RoomJoined{
		Type:         TypeRoomJoined,
		Room:         room,
		Username:     username,
		Messages:     historyDTOs(history),
		RoomUsers:    c.registry.SnapshotRoom(room),
		GlobalOnline: c.registry.SnapshotGlobal(),
	})

	if fresh {
		c.fanout.Broadcast(room, UserJoined{
			Type:         TypeUserJoined,
			Username:     username,
			RoomUsers:    c.registry.SnapshotRoom(room),
			GlobalOnline: c.registry.SnapshotGlobal(),
		}, conn)
	}

	log.Info().Str("module", "app.coordinator").
		Str("conn", string(conn)).Str("username", username).Str("room", room).
		Bool("reconnect", !fresh).Msg("joined room")
	return nil
}

// Leave handles a user-initiated leave: immediate removal, no grace period.
// The connection is flagged so its trailing disconnect event is a no-op.
func (c *Coordinator) Leave(conn presence.ConnID) {
	c.mu.Lock()
	c.explicitLeaves[conn] = struct{}{}
	c.mu.Unlock()

	entry, ok := c.registry.UnregisterExplicit(conn)
	if !ok {
		return
	}

	c.announceLeft(entry.Username, entry.Room)
	c.fanout.Unicast(conn, LeftRoom{Type: TypeLeftRoom, Room: entry.Room})

	log.Info().Str("module", "app.coordinator").
		Str("conn", string(conn)).Str("username", entry.Username).Str("room", entry.Room).
		Msg("left room (explicit)")
}

// Disconnect handles a transport-initiated drop. If the connection already
// left explicitly the flag is consumed and nothing more happens; otherwise
// removal is graceful and any user_left is emitted later by the grace timer.
func (c *Coordinator) Disconnect(conn presence.ConnID) {
	c.mu.Lock()
	if _, ok := c.explicitLeaves[conn]; ok {
		delete(c.explicitLeaves, conn)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	c.registry.UnregisterGraceful(conn)
}

// SendMessage persists the message, records the sender's own read receipt
// and broadcasts the message to the room, in commit order per room.
func (c *Coordinator) SendMessage(ctx context.Context, conn presence.ConnID, content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}

	entry, ok := c.registry.Lookup(conn)
	if !ok {
		c.fanout.Unicast(conn, ErrorEvent{Type: TypeError, Message: "you are not in a room"})
		return ErrNotInRoom
	}
	if err := c.validate.Content(content); err != nil {
		c.fanout.Unicast(conn, ErrorEvent{Type: TypeError, Message: "message is too long"})
		return err
	}

	lk := c.roomLock(entry.Room)
	lk.Lock()
	defer lk.Unlock()

	msg, err := c.store.Append(ctx, entry.Room, entry.Username, content)
	if err != nil {
		c.fanout.Unicast(conn, ErrorEvent{Type: TypeError, Message: "failed to save message"})
		return err
	}
	if _, err := c.store.AddReceipt(ctx, msg.ID, entry.Username); err != nil {
		c.fanout.Unicast(conn, ErrorEvent{Type: TypeError, Message: "failed to save message"})
		return err
	}

	c.fanout.Broadcast(entry.Room, NewMessage{
		Type:       TypeNewMessage,
		MessageDTO: toDTO(msg, []string{entry.Username}),
	}, "")
	return nil
}

// MarkRead records read receipts for the given message ids, skipping ids
// outside the caller's room and ids already read by the caller. One
// aggregated broadcast follows, suppressed when nothing changed.
func (c *Coordinator) MarkRead(ctx context.Context, conn presence.ConnID, messageIDs []int64) error {
	entry, ok := c.registry.Lookup(conn)
	if !ok {
		return nil
	}

	updates := make([]ReceiptUpdate, 0, len(messageIDs))
	for _, id := range messageIDs {
		msg, err := c.store.Get(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			c.fanout.Unicast(conn, ErrorEvent{Type: TypeError, Message: "failed to mark messages read"})
			return err
		}
		if msg.Room != entry.Room {
			continue
		}
		created, err := c.store.AddReceipt(ctx, id, entry.Username)
		if err != nil {
			c.fanout.Unicast(conn, ErrorEvent{Type: TypeError, Message: "failed to mark messages read"})
			return err
		}
		if !created {
			continue
		}
		readBy, err := c.store.ReceiptsFor(ctx, id)
		if err != nil {
			c.fanout.Unicast(conn, ErrorEvent{Type: TypeError, Message: "failed to mark messages read"})
			return err
		}
		updates = append(updates, ReceiptUpdate{MessageID: id, ReadBy: readBy})
	}

	if len(updates) == 0 {
		return nil
	}
	c.fanout.Broadcast(entry.Room, ReadReceiptsUpdated{
		Type:    TypeReadReceiptsUpdated,
		Updates: updates,
		Reader:  entry.Username,
	}, "")
	return nil
}

// OnlineUsers answers a presence snapshot request for the caller's room.
func (c *Coordinator) OnlineUsers(conn presence.ConnID) {
	entry, ok := c.registry.Lookup(conn)
	if !ok {
		return
	}
	c.fanout.Unicast(conn, OnlineUsersUpdate{
		Type:         TypeOnlineUsersUpdate,
		RoomUsers:    c.registry.SnapshotRoom(entry.Room),
		GlobalOnline: c.registry.SnapshotGlobal(),
	})
}

// announceLeft is the single emission point for user_left, shared by the
// explicit-leave path and the grace-timer expiry path.
func (c *Coordinator) announceLeft(username, room string) {
	c.fanout.Broadcast(room, UserLeft{
		Type:         TypeUserLeft,
		Username:     username,
		RoomUsers:    c.registry.SnapshotRoom(room),
		GlobalOnline: c.registry.SnapshotGlobal(),
	}, "")
}

func (c *Coordinator) roomLock(room string) *sync.Mutex {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	lk, ok := c.roomSend[room]
	if !ok {
		lk = &sync.Mutex{}
		c.roomSend[room] = lk
	}
	return lk
}
