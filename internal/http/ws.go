package http

import (
	"net/http"
	"time"

	"AuctionCore/internal/models"
	"AuctionCore/internal/realtime"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

const (
	wsWriteWait = 5 * time.Second
	wsPongWait  = 60 * time.Second
	wsPingEvery = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Events streams an auction's tick, price and ended events. The connection
// is closed after the ended event.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "auctionId")

	// Subscribe before reading the auction so an end that lands in between
	// is still delivered.
	events, cancel := h.Hub.Subscribe(id)
	defer cancel()

	a, err := h.Auctions.Get(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err, "get auction failed")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Log.Debug().Err(err).Str("auction_id", id).Msg("ws upgrade failed")
		return
	}
	defer conn.Close()

	if a.Status.Terminal() {
		reason := models.EndNatural
		if a.EndReason != nil {
			reason = *a.EndReason
		}
		_ = writeEvent(conn, realtime.Event{Type: realtime.EventEnded, AuctionID: id, Reason: reason})
		closeNormally(conn)
		return
	}

	snapshot := realtime.Event{
		Type:              realtime.EventTick,
		AuctionID:         id,
		MsRemaining:       h.toAuction(a).MsRemaining,
		CurrentPriceCents: a.CurrentPriceCents,
		LeadingBidderID:   a.Leader(),
	}
	if err := writeEvent(conn, snapshot); err != nil {
		return
	}

	gone := make(chan struct{})
	go readUntilClosed(conn, gone)

	ping := time.NewTicker(wsPingEvery)
	defer ping.Stop()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				closeNormally(conn)
				return
			}
			if err := writeEvent(conn, ev); err != nil {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-gone:
			return
		}
	}
}

// readUntilClosed drains client frames so pongs and close frames are
// processed. Clients are not expected to send anything else.
func readUntilClosed(conn *websocket.Conn, gone chan<- struct{}) {
	defer close(gone)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writeEvent(conn *websocket.Conn, ev realtime.Event) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteJSON(ev)
}

func closeNormally(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteWait))
}
