package chat

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Parley/internal/app"
	"github.com/dkeye/Parley/internal/presence"
)

var _ app.Fanout = (*Controller)(nil)

// Broadcast marshals v once and TrySends it to every connection currently
// in the room. A connection that cannot keep up is kicked: its socket is
// closed, which drives the normal disconnect path.
func (ctl *Controller) Broadcast(room string, v any, exclude presence.ConnID) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.chat").Msg("broadcast marshal")
		return
	}

	ids := ctl.coord.Registry().ConnsInRoom(room)

	ctl.mu.RLock()
	targets := make(map[presence.ConnID]*wsConn, len(ids))
	for _, id := range ids {
		if id == exclude {
			continue
		}
		if c, ok := ctl.conns[id]; ok {
			targets[id] = c
		}
	}
	ctl.mu.RUnlock()

	for id, c := range targets {
		if err := c.TrySend(data); err != nil {
			log.Warn().Err(err).Str("module", "adapters.chat").Str("conn", string(id)).Msg("broadcast send failed, kicking")
			c.Close()
		}
	}
}

func (ctl *Controller) Unicast(conn presence.ConnID, v any) {
	ctl.mu.RLock()
	c, ok := ctl.conns[conn]
	ctl.mu.RUnlock()
	if !ok {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.chat").Msg("unicast marshal")
		return
	}
	if err := c.TrySend(data); err != nil {
		log.Warn().Err(err).Str("module", "adapters.chat").Str("conn", string(conn)).Msg("unicast send failed, kicking")
		c.Close()
	}
}
