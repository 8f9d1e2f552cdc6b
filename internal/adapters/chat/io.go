package chat

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Parley/internal/presence"
)

func (ctl *Controller) writePump(ctx context.Context, id presence.ConnID, c *wsConn) {
	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "adapters.chat").Str("conn", string(id)).Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "adapters.chat").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "adapters.chat").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *Controller) readPump(ctx context.Context, cancel context.CancelFunc, id presence.ConnID, c *wsConn) {
	defer func() {
		log.Info().Str("module", "adapters.chat").Str("conn", string(id)).Msg("readPump closing")
		cancel()
		ctl.drop(id, c)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				log.Debug().Err(err).Str("module", "adapters.chat").Str("conn", string(id)).Msg("readPump read error")
				return
			}
			ctl.handleEvent(ctx, id, c, data)
		}
	}
}
