package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

// handleLayoutFeed streams the layout's ordered instance set over a
// websocket. Every message is a complete snapshot; the client replaces its
// local state wholesale on each one.
func (h *Handler) handleLayoutFeed(w http.ResponseWriter, r *http.Request) {
	layoutID := mux.Vars(r)["layoutID"]

	sub, err := h.store.WatchLayout(r.Context(), layoutID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		sub.Close()
		h.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	log := h.log.WithField("layout_id", layoutID)
	log.Debug("layout feed opened")

	// Reader goroutine: we never expect client messages, but reading is
	// required to notice closes and answer pings.
	go func() {
		defer sub.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
		sub.Close()
		log.Debug("layout feed closed")
	}()

	for {
		select {
		case snapshot, ok := <-sub.Updates():
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(snapshot); err != nil {
				log.WithError(err).Debug("layout feed write failed")
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}
