package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/Parley/internal/domain"
	"github.com/dkeye/Parley/internal/presence"
	"github.com/dkeye/Parley/internal/store"
)

const testGrace = 40 * time.Millisecond

// fakeStore is an in-memory store.Store for coordinator tests.
type fakeStore struct {
	mu       sync.Mutex
	nextID   int64
	msgs     map[int64]store.Message
	order    []int64
	receipts map[int64][]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		msgs:     make(map[int64]store.Message),
		receipts: make(map[int64][]string),
	}
}

func (f *fakeStore) Append(_ context.Context, room, username, content string) (*store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	msg := store.Message{ID: f.nextID, Room: room, Username: username, Content: content, CreatedAt: time.Now()}
	f.msgs[msg.ID] = msg
	f.order = append(f.order, msg.ID)
	return &msg, nil
}

func (f *fakeStore) History(_ context.Context, room string) ([]store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Message
	for _, id := range f.order {
		if m := f.msgs[id]; m.Room == room {
			out = append(out, f.withReceiptsLocked(m))
		}
	}
	return out, nil
}

func (f *fakeStore) Get(_ context.Context, id int64) (*store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.msgs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	m = f.withReceiptsLocked(m)
	return &m, nil
}

func (f *fakeStore) AddReceipt(_ context.Context, id int64, username string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, name := range f.receipts[id] {
		if name == username {
			return false, nil
		}
	}
	f.receipts[id] = append(f.receipts[id], username)
	return true, nil
}

func (f *fakeStore) ReceiptsFor(_ context.Context, id int64) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.receipts[id]...), nil
}

func (f *fakeStore) withReceiptsLocked(m store.Message) store.Message {
	for _, name := range f.receipts[m.ID] {
		m.Receipts = append(m.Receipts, store.ReadReceipt{MessageID: m.ID, Username: name})
	}
	return m
}

// recordingFanout captures every delivery for assertions.
type recordingFanout struct {
	mu     sync.Mutex
	events []fanEvent
}

type fanEvent struct {
	broadcast bool
	room      string
	conn      presence.ConnID
	exclude   presence.ConnID
	payload   any
}

func (f *recordingFanout) Broadcast(room string, v any, exclude presence.ConnID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, fanEvent{broadcast: true, room: room, exclude: exclude, payload: v})
}

func (f *recordingFanout) Unicast(conn presence.ConnID, v any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, fanEvent{conn: conn, payload: v})
}

func (f *recordingFanout) userJoined() []UserJoined {
	return eventsOf[UserJoined](f)
}

func (f *recordingFanout) userLeft() []UserLeft {
	return eventsOf[UserLeft](f)
}

func eventsOf[T any](f *recordingFanout) []T {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []T
	for _, e := range f.events {
		if v, ok := e.payload.(T); ok {
			out = append(out, v)
		}
	}
	return out
}

func newTestCoordinator(t *testing.T) (*Coordinator, *fakeStore, *recordingFanout) {
	t.Helper()
	st := newFakeStore()
	fan := &recordingFanout{}
	reg := presence.NewRegistry(testGrace)
	c := NewCoordinator(reg, st, domain.NewValidator(domain.DefaultRules()))
	c.BindFanout(fan)
	t.Cleanup(reg.Stop)
	return c, st, fan
}

func TestJoinEmitsRoomStateAndFreshBroadcast(t *testing.T) {
	c, _, fan := newTestCoordinator(t)
	ctx := context.Background()

	require.NoError(t, c.Join(ctx, "c1", "alice", "lobby"))
	require.NoError(t, c.Join(ctx, "c2", "bob", "lobby"))

	joined := eventsOf[RoomJoined](fan)
	require.Len(t, joined, 2)
	assert.Equal(t, "lobby", joined[0].Room)
	assert.Equal(t, []string{"alice"}, joined[0].RoomUsers)
	assert.Equal(t, []string{"alice", "bob"}, joined[1].RoomUsers)

	broadcasts := fan.userJoined()
	require.Len(t, broadcasts, 2)
	assert.Equal(t, "bob", broadcasts[1].Username)
}

func TestReloadWithinGraceIsSilent(t *testing.T) {
	c, _, fan := newTestCoordinator(t)
	ctx := context.Background()

	require.NoError(t, c.Join(ctx, "c1", "alice", "lobby"))
	c.Disconnect("c1")
	require.NoError(t, c.Join(ctx, "c2", "alice", "lobby"))

	time.Sleep(3 * testGrace)

	assert.Len(t, fan.userJoined(), 1, "reconnect must not re-announce the join")
	assert.Empty(t, fan.userLeft(), "reconnect within grace must suppress user_left")
}

func TestGraceExpiryAnnouncesLeaveOnce(t *testing.T) {
	c, _, fan := newTestCoordinator(t)
	ctx := context.Background()

	require.NoError(t, c.Join(ctx, "c1", "alice", "lobby"))
	require.NoError(t, c.Join(ctx, "c2", "bob", "lobby"))
	c.Disconnect("c1")

	require.Eventually(t, func() bool { return len(fan.userLeft()) == 1 },
		time.Second, 5*time.Millisecond)

	left := fan.userLeft()[0]
	assert.Equal(t, "alice", left.Username)
	assert.Equal(t, []string{"bob"}, left.RoomUsers)
	assert.Equal(t, []string{"bob"}, left.GlobalOnline)

	time.Sleep(2 * testGrace)
	assert.Len(t, fan.userLeft(), 1)
}

func TestExplicitLeaveThenDisconnectAnnouncesOnce(t *testing.T) {
	c, _, fan := newTestCoordinator(t)
	ctx := context.Background()

	require.NoError(t, c.Join(ctx, "c1", "alice", "lobby"))
	c.Leave("c1")
	c.Disconnect("c1")

	time.Sleep(3 * testGrace)

	require.Len(t, fan.userLeft(), 1)
	lefts := eventsOf[LeftRoom](fan)
	require.Len(t, lefts, 1)
	assert.Equal(t, "lobby", lefts[0].Room)
}

func TestLeaveThenRejoinRestoresGracefulDisconnect(t *testing.T) {
	c, _, fan := newTestCoordinator(t)
	ctx := context.Background()

	require.NoError(t, c.Join(ctx, "c1", "alice", "lobby"))
	c.Leave("c1")
	require.Len(t, fan.userLeft(), 1)

	// Rejoining on the same connection supersedes the explicit leave, so a
	// later real disconnect goes through the grace path again.
	require.NoError(t, c.Join(ctx, "c1", "alice", "lobby"))
	c.Disconnect("c1")

	require.Eventually(t, func() bool { return len(fan.userLeft()) == 2 },
		time.Second, 5*time.Millisecond)
}

func TestJoinNameConflict(t *testing.T) {
	c, _, fan := newTestCoordinator(t)
	ctx := context.Background()

	require.NoError(t, c.Join(ctx, "c1", "alice", "lobby"))
	err := c.Join(ctx, "c2", "alice", "lobby")
	require.ErrorIs(t, err, ErrNameConflict)

	// No state mutation: the registry still sees only c1.
	_, ok := c.Registry().Lookup("c2")
	assert.False(t, ok)
	assert.Equal(t, []string{"alice"}, c.Registry().SnapshotRoom("lobby"))

	errs := eventsOf[ErrorEvent](fan)
	require.Len(t, errs, 1)

	// The same name in a different room is fine.
	require.NoError(t, c.Join(ctx, "c2", "alice", "games"))
}

func TestJoinValidation(t *testing.T) {
	c, _, fan := newTestCoordinator(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		username string
		room     string
		wantErr  error
	}{
		{"empty username", "  ", "lobby", domain.ErrInvalidUsername},
		{"empty room", "alice", "", domain.ErrInvalidRoom},
		{"oversized username", string(make([]byte, 200)), "lobby", domain.ErrInvalidUsername},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.Join(ctx, "c1", tt.username, tt.room)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	assert.Len(t, eventsOf[ErrorEvent](fan), len(tests))
	assert.Empty(t, fan.userJoined())
}

func TestSendMessagePersistsWithSenderReceipt(t *testing.T) {
	c, st, fan := newTestCoordinator(t)
	ctx := context.Background()

	require.NoError(t, c.Join(ctx, "c1", "alice", "lobby"))
	require.NoError(t, c.SendMessage(ctx, "c1", "  hello  "))

	msgs := eventsOf[NewMessage](fan)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello", msgs[0].Content, "content is trimmed")
	assert.Equal(t, []string{"alice"}, msgs[0].ReadBy, "author has read their own message")

	readBy, err := st.ReceiptsFor(ctx, msgs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, readBy)
}

func TestSendMessageRequiresRoom(t *testing.T) {
	c, _, fan := newTestCoordinator(t)
	ctx := context.Background()

	err := c.SendMessage(ctx, "c1", "hello")
	require.ErrorIs(t, err, ErrNotInRoom)
	assert.Len(t, eventsOf[ErrorEvent](fan), 1)

	// Empty content is silently dropped, even without a room.
	require.NoError(t, c.SendMessage(ctx, "c1", "   "))
	assert.Len(t, eventsOf[ErrorEvent](fan), 1)
	assert.Empty(t, eventsOf[NewMessage](fan))
}

func TestMarkReadIdempotent(t *testing.T) {
	c, _, fan := newTestCoordinator(t)
	ctx := context.Background()

	require.NoError(t, c.Join(ctx, "c1", "alice", "lobby"))
	require.NoError(t, c.Join(ctx, "c2", "bob", "lobby"))
	require.NoError(t, c.SendMessage(ctx, "c1", "hello"))

	id := eventsOf[NewMessage](fan)[0].ID

	require.NoError(t, c.MarkRead(ctx, "c2", []int64{id}))
	updates := eventsOf[ReadReceiptsUpdated](fan)
	require.Len(t, updates, 1)
	assert.Equal(t, "bob", updates[0].Reader)
	require.Len(t, updates[0].Updates, 1)
	assert.Equal(t, id, updates[0].Updates[0].MessageID)
	assert.ElementsMatch(t, []string{"alice", "bob"}, updates[0].Updates[0].ReadBy)

	// Second marking changes nothing and broadcasts nothing.
	require.NoError(t, c.MarkRead(ctx, "c2", []int64{id}))
	assert.Len(t, eventsOf[ReadReceiptsUpdated](fan), 1)
}

func TestMarkReadSkipsForeignAndUnknownMessages(t *testing.T) {
	c, _, fan := newTestCoordinator(t)
	ctx := context.Background()

	require.NoError(t, c.Join(ctx, "c1", "alice", "lobby"))
	require.NoError(t, c.Join(ctx, "c2", "bob", "games"))
	require.NoError(t, c.SendMessage(ctx, "c1", "hello"))
	id := eventsOf[NewMessage](fan)[0].ID

	// bob is in another room: the id is silently skipped, as is a bogus id.
	require.NoError(t, c.MarkRead(ctx, "c2", []int64{id, 9999}))
	assert.Empty(t, eventsOf[ReadReceiptsUpdated](fan))
}

func TestMarkReadOutsideRoomIsNoOp(t *testing.T) {
	c, _, fan := newTestCoordinator(t)

	require.NoError(t, c.MarkRead(context.Background(), "ghost", []int64{1}))
	assert.Empty(t, fan.events)
}

func TestJoinReplaysHistory(t *testing.T) {
	c, _, fan := newTestCoordinator(t)
	ctx := context.Background()

	require.NoError(t, c.Join(ctx, "c1", "alice", "lobby"))
	require.NoError(t, c.SendMessage(ctx, "c1", "one"))
	require.NoError(t, c.SendMessage(ctx, "c1", "two"))

	require.NoError(t, c.Join(ctx, "c2", "bob", "lobby"))

	joined := eventsOf[RoomJoined](fan)
	require.Len(t, joined, 2)
	history := joined[1].Messages
	require.Len(t, history, 2)
	assert.Equal(t, "one", history[0].Content)
	assert.Equal(t, "two", history[1].Content)
	assert.Equal(t, []string{"alice"}, history[0].ReadBy)
}

func TestOnlineUsersSnapshot(t *testing.T) {
	c, _, fan := newTestCoordinator(t)
	ctx := context.Background()

	require.NoError(t, c.Join(ctx, "c1", "alice", "lobby"))
	require.NoError(t, c.Join(ctx, "c2", "bob", "games"))

	c.OnlineUsers("c1")
	snaps := eventsOf[OnlineUsersUpdate](fan)
	require.Len(t, snaps, 1)
	assert.Equal(t, []string{"alice"}, snaps[0].RoomUsers)
	assert.Equal(t, []string{"alice", "bob"}, snaps[0].GlobalOnline)

	// Not in a room: silent no-op.
	c.OnlineUsers("ghost")
	assert.Len(t, eventsOf[OnlineUsersUpdate](fan), 1)
}
