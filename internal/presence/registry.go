// Package presence tracks which user occupies which room across
// possibly-multiple live connections, with a grace period between a
// connection dropping and the user being announced as gone.
package presence

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ConnID identifies a single live transport connection.
type ConnID string

// Entry binds one connection to a user and the room it joined.
type Entry struct {
	Conn     ConnID
	Username string
	Room     string
}

type key struct {
	username string
	room     string
}

// pendingRemoval is the scheduled eviction created when a user's last live
// connection in a room drops without an explicit leave. The timer callback
// verifies this exact record is still the current one for its key before
// mutating anything, so a cancellation racing the timer firing is a no-op.
type pendingRemoval struct {
	timer *time.Timer
	conn  ConnID
}

// LeftFunc is invoked, outside the registry lock, when a grace period
// elapses without a reconnect.
type LeftFunc func(username, room string)

// Registry is the single owner of all presence state. All maps are guarded
// by one mutex; every operation is short and never blocks on I/O.
type Registry struct {
	grace  time.Duration
	onLeft LeftFunc

	mu      sync.Mutex
	conns   map[ConnID]Entry
	rooms   map[string]map[string]int // room -> username -> live conn count
	global  map[string]int            // username -> live conn count anywhere
	pending map[key]*pendingRemoval
}

func NewRegistry(grace time.Duration) *Registry {
	return &Registry{
		grace:   grace,
		conns:   make(map[ConnID]Entry),
		rooms:   make(map[string]map[string]int),
		global:  make(map[string]int),
		pending: make(map[key]*pendingRemoval),
	}
}

// OnLeft installs the callback fired when a grace period expires.
// Must be set during wiring, before any connection registers.
func (r *Registry) OnLeft(fn LeftFunc) { r.onLeft = fn }

// Register binds conn to (username, room), cancelling any pending removal
// for that pair. It reports whether this is a fresh join (peers should be
// told) as opposed to a reconnect within the grace window or a repeat call.
func (r *Registry) Register(conn ConnID, username, room string) (fresh bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key{username, room}
	wasPending := false
	if p, ok := r.pending[k]; ok {
		p.timer.Stop()
		delete(r.pending, k)
		wasPending = true
	}

	prev, existed := r.conns[conn]
	if existed && prev.Username == username && prev.Room == room {
		log.Debug().Str("module", "presence.registry").Str("conn", string(conn)).Msg("register repeat")
		return false
	}
	if existed {
		// Connection switching room or name: drop its old presence first.
		r.dropLocked(prev)
	}

	r.conns[conn] = Entry{Conn: conn, Username: username, Room: room}
	members, ok := r.rooms[room]
	if !ok {
		members = make(map[string]int)
		r.rooms[room] = members
	}
	members[username]++
	r.global[username]++

	log.Info().Str("module", "presence.registry").
		Str("conn", string(conn)).Str("username", username).Str("room", room).
		Bool("reconnect", wasPending).Msg("registered")
	return !wasPending
}

// UnregisterExplicit removes the connection's presence immediately, with no
// grace period, cancelling any pending removal for its (username, room).
func (r *Registry) UnregisterExplicit(conn ConnID) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[conn]
	if !ok {
		return Entry{}, false
	}
	delete(r.conns, conn)
	r.dropLocked(e)

	k := key{e.Username, e.Room}
	if p, ok := r.pending[k]; ok {
		p.timer.Stop()
		delete(r.pending, k)
	}
	log.Info().Str("module", "presence.registry").
		Str("conn", string(conn)).Str("username", e.Username).Str("room", e.Room).
		Msg("unregistered (explicit)")
	return e, true
}

// UnregisterGraceful removes the connection's presence entry but, if it was
// the user's last live connection in that room, keeps the user in the room
// and global snapshots and schedules the eviction after the grace period.
// A reload of one tab must not evict a user still active in another tab, so
// no timer is created while another live connection remains in the room.
func (r *Registry) UnregisterGraceful(conn ConnID) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[conn]
	if !ok {
		return Entry{}, false
	}
	delete(r.conns, conn)
	if stillInRoom := r.dropLocked(e); stillInRoom {
		log.Info().Str("module", "presence.registry").
			Str("conn", string(conn)).Str("username", e.Username).Str("room", e.Room).
			Msg("disconnected, other connection still live in room")
		return e, true
	}

	k := key{e.Username, e.Room}
	if p, ok := r.pending[k]; ok {
		p.timer.Stop()
	}
	p := &pendingRemoval{conn: conn}
	p.timer = time.AfterFunc(r.grace, func() { r.expire(k, p) })
	r.pending[k] = p

	log.Info().Str("module", "presence.registry").
		Str("conn", string(conn)).Str("username", e.Username).Str("room", e.Room).
		Dur("grace", r.grace).Msg("disconnected, removal scheduled")
	return e, true
}

// expire runs on the grace timer. It must tolerate racing a concurrent
// reconnect: if the pending record it fired for is no longer the current
// one for its key, the timer lost the race and does nothing.
func (r *Registry) expire(k key, p *pendingRemoval) {
	r.mu.Lock()
	cur, ok := r.pending[k]
	if !ok || cur != p {
		r.mu.Unlock()
		return
	}
	delete(r.pending, k)
	r.mu.Unlock()

	log.Info().Str("module", "presence.registry").
		Str("username", k.username).Str("room", k.room).
		Msg("grace period expired, user removed")
	if r.onLeft != nil {
		r.onLeft(k.username, k.room)
	}
}

// dropLocked decrements the live counts for e and reports whether the user
// still has another live connection in the same room.
func (r *Registry) dropLocked(e Entry) (stillInRoom bool) {
	if members, ok := r.rooms[e.Room]; ok {
		if members[e.Username] > 1 {
			members[e.Username]--
			stillInRoom = true
		} else {
			delete(members, e.Username)
			if len(members) == 0 {
				delete(r.rooms, e.Room)
			}
		}
	}
	if r.global[e.Username] > 1 {
		r.global[e.Username]--
	} else {
		delete(r.global, e.Username)
	}
	return stillInRoom
}

// SnapshotRoom lists usernames present in the room: those with a live
// connection plus those inside a grace window.
func (r *Registry) SnapshotRoom(room string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	set := make(map[string]struct{})
	for username := range r.rooms[room] {
		set[username] = struct{}{}
	}
	for k := range r.pending {
		if k.room == room {
			set[k.username] = struct{}{}
		}
	}
	return sortedNames(set)
}

// SnapshotGlobal lists usernames online anywhere, grace windows included.
func (r *Registry) SnapshotGlobal() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	set := make(map[string]struct{})
	for username := range r.global {
		set[username] = struct{}{}
	}
	for k := range r.pending {
		set[k.username] = struct{}{}
	}
	return sortedNames(set)
}

// Lookup returns the presence entry for a connection.
func (r *Registry) Lookup(conn ConnID) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[conn]
	return e, ok
}

// ConnsInRoom lists the connections currently subscribed to the room.
func (r *Registry) ConnsInRoom(room string) []ConnID {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ConnID, 0, len(r.conns))
	for conn, e := range r.conns {
		if e.Room == room {
			out = append(out, conn)
		}
	}
	return out
}

// HasPending reports whether (username, room) is inside a grace window.
func (r *Registry) HasPending(username, room string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.pending[key{username, room}]
	return ok
}

// UsernameLive reports whether a connection other than self currently holds
// username in the room. Used for the name-conflict check on join.
func (r *Registry) UsernameLive(username, room string, self ConnID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for conn, e := range r.conns {
		if conn != self && e.Username == username && e.Room == room {
			return true
		}
	}
	return false
}

// Stop cancels all pending removal timers. Used on shutdown.
func (r *Registry) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, p := range r.pending {
		p.timer.Stop()
		delete(r.pending, k)
	}
}

func sortedNames(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
