// Package chat is the WebSocket transport for the chat service: it owns the
// connection table, pumps frames, dispatches inbound events to the session
// coordinator and implements its notification fan-out.
package chat

import (
	"context"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Parley/internal/app"
	"github.com/dkeye/Parley/internal/config"
	"github.com/dkeye/Parley/internal/presence"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type Controller struct {
	coord     *app.Coordinator
	limiter   *MessageRateLimiter
	readLimit int64

	mu    sync.RWMutex
	conns map[presence.ConnID]*wsConn
}

func NewController(coord *app.Coordinator, cfg *config.Config) *Controller {
	ctl := &Controller{
		coord:     coord,
		limiter:   NewMessageRateLimiter(cfg.MessageRateLimit, cfg.MessageRateInterval),
		readLimit: cfg.ReadLimit,
		conns:     make(map[presence.ConnID]*wsConn),
	}
	coord.BindFanout(ctl)
	return ctl
}

// HandleChat upgrades the request and runs the connection's pumps. Each
// socket gets its own connection identity, independent of the browser's
// client token: presence is per connection, not per client.
func (ctl *Controller) HandleChat(ctx context.Context, c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.chat").Msg("ws upgrade")
		return
	}
	ws.SetReadLimit(ctl.readLimit)

	id := presence.ConnID(uuid.NewString())
	conn := newWSConn(ws)

	ctl.mu.Lock()
	ctl.conns[id] = conn
	ctl.mu.Unlock()

	log.Info().Str("module", "adapters.chat").Str("conn", string(id)).Msg("new WS connection")
	ctl.coord.Connect(id)

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, id, conn)
	go ctl.readPump(ctx, cancel, id, conn)
}

// drop tears down a connection's transport state and tells the coordinator.
func (ctl *Controller) drop(id presence.ConnID, conn *wsConn) {
	conn.Close()

	ctl.mu.Lock()
	delete(ctl.conns, id)
	ctl.mu.Unlock()

	ctl.limiter.Forget(id)
	ctl.coord.Disconnect(id)
}
