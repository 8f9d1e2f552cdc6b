package chat

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Parley/internal/app"
	"github.com/dkeye/Parley/internal/presence"
)

// Inbound payloads, one typed struct per event name. Payloads are decoded
// and shape-checked here; semantic validation lives in the coordinator.
type joinPayload struct {
	Type     string `json:"type"`
	Username string `json:"username"`
	Room     string `json:"room"`
}

type sendMessagePayload struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

type markReadPayload struct {
	Type       string  `json:"type"`
	MessageIDs []int64 `json:"message_ids"`
}

func (ctl *Controller) handleEvent(ctx context.Context, id presence.ConnID, c *wsConn, data []byte) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "adapters.chat").Msg("bad json")
		ctl.sendJSON(c, app.ErrorEvent{Type: app.TypeError, Message: "bad payload"})
		return
	}

	switch env.Type {
	case "join":
		ctl.handleJoin(ctx, id, c, data)
	case "leave":
		ctl.coord.Leave(id)
	case "send_message":
		ctl.handleSendMessage(ctx, id, c, data)
	case "mark_read":
		ctl.handleMarkRead(ctx, id, c, data)
	case "get_online_users":
		ctl.coord.OnlineUsers(id)
	case "ping":
		ctl.sendJSON(c, struct {
			Type string `json:"type"`
		}{"pong"})
	default:
		log.Warn().Str("module", "adapters.chat").Str("type", env.Type).Msg("unknown event")
	}
}

func (ctl *Controller) handleJoin(ctx context.Context, id presence.ConnID, c *wsConn, data []byte) {
	var p joinPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "adapters.chat").Msg("bad join payload")
		ctl.sendJSON(c, app.ErrorEvent{Type: app.TypeError, Message: "bad payload"})
		return
	}
	if err := ctl.coord.Join(ctx, id, p.Username, p.Room); err != nil {
		log.Warn().Err(err).Str("module", "adapters.chat").Str("conn", string(id)).Msg("join rejected")
	}
}

func (ctl *Controller) handleSendMessage(ctx context.Context, id presence.ConnID, c *wsConn, data []byte) {
	if !ctl.limiter.Allow(id) {
		ctl.sendJSON(c, app.ErrorEvent{Type: app.TypeError, Message: "slow down"})
		return
	}
	var p sendMessagePayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "adapters.chat").Msg("bad send_message payload")
		ctl.sendJSON(c, app.ErrorEvent{Type: app.TypeError, Message: "bad payload"})
		return
	}
	if err := ctl.coord.SendMessage(ctx, id, p.Content); err != nil {
		log.Warn().Err(err).Str("module", "adapters.chat").Str("conn", string(id)).Msg("send_message failed")
	}
}

func (ctl *Controller) handleMarkRead(ctx context.Context, id presence.ConnID, c *wsConn, data []byte) {
	var p markReadPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "adapters.chat").Msg("bad mark_read payload")
		ctl.sendJSON(c, app.ErrorEvent{Type: app.TypeError, Message: "bad payload"})
		return
	}
	if len(p.MessageIDs) == 0 {
		return
	}
	if err := ctl.coord.MarkRead(ctx, id, p.MessageIDs); err != nil {
		log.Warn().Err(err).Str("module", "adapters.chat").Str("conn", string(id)).Msg("mark_read failed")
	}
}

func (ctl *Controller) sendJSON(c *wsConn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.chat").Msg("sendJSON marshal")
		return
	}
	_ = c.TrySend(b)
}
