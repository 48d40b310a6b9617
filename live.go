package main

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/billbatista/acasinha-split/ledger"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 64 * 1024,
}

const liveWriteTimeout = 10 * time.Second

type liveSnapshot struct {
	Event   *ledger.Event `json:"event"`
	Debts   []ledger.Debt `json:"debts"`
	Pending int           `json:"pending"`
}

// live streams the open event over a websocket: one snapshot on connect and
// another after every local change, optimistic or authoritative. The stream
// ends once no event is open.
func (s *server) live(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("failed to upgrade the websocket", "error", err)
		return
	}
	defer ws.Close()

	ctx := r.Context()
	changes := s.ctrl.Watch(ctx)

	// the client never sends anything; reading notices when it goes away
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		ev := s.ctrl.Event()
		if ev == nil {
			ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "event closed"),
				time.Now().Add(liveWriteTimeout))
			return
		}

		ws.SetWriteDeadline(time.Now().Add(liveWriteTimeout))
		err := ws.WriteJSON(liveSnapshot{Event: ev, Debts: s.ctrl.Debts(), Pending: s.ctrl.Pending()})
		if err != nil {
			slog.Warn("failed to write websocket snapshot", "error", err)
			return
		}

		select {
		case _, ok := <-changes:
			if !ok {
				return
			}
		case <-closed:
			return
		case <-ctx.Done():
			return
		}
	}
}
