package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"bairrosgo/pkg/geo"
)

const (
	liveWriteWait  = 10 * time.Second
	livePongWait   = 60 * time.Second
	livePingPeriod = (livePongWait * 9) / 10
	liveMaxMessage = 1024
)

// liveRequest is one lookup sent over the websocket.
type liveRequest struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// liveMessage answers a liveRequest. Error is set instead of Result when the lookup failed.
type liveMessage struct {
	Result *ResolveResponse `json:"result,omitempty"`
	Error  string           `json:"error,omitempty"`
}

// LiveHandler resolves a stream of points over a websocket, e.g. a map following a cursor.
type LiveHandler struct {
	resolver *ResolveHandler
	upgrader websocket.Upgrader
}

// NewLiveHandler creates a LiveHandler.
func NewLiveHandler(rh *ResolveHandler) *LiveHandler {
	return &LiveHandler{
		resolver: rh,
		upgrader: websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024},
	}
}

func (h *LiveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("Websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	conn.SetReadLimit(liveMaxMessage)
	_ = conn.SetReadDeadline(time.Now().Add(livePongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(livePongWait))
	})

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	out := make(chan liveMessage, 8)
	done := make(chan struct{})
	go h.writeLoop(conn, out, done)
	defer func() {
		close(out)
		<-done
	}()

	for {
		var req liveRequest
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("Live connection closed", "error", err)
			}
			return
		}
		out <- h.answer(ctx, req)
	}
}

func (h *LiveHandler) answer(ctx context.Context, req liveRequest) liveMessage {
	p := geo.Point{Lon: req.Lon, Lat: req.Lat}
	if err := p.Validate(); err != nil {
		h.resolver.counters.Invalid.Add(1)
		return liveMessage{Error: err.Error()}
	}
	snap, err := h.resolver.mgr.Snapshot()
	if err != nil {
		return liveMessage{Error: err.Error()}
	}
	resp, _ := h.resolver.resolve(ctx, snap, p)
	return liveMessage{Result: &resp}
}

// writeLoop owns all writes to the connection: answers and keepalive pings.
func (h *LiveHandler) writeLoop(conn *websocket.Conn, out <-chan liveMessage, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(livePingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-out:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(liveWriteWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
			if err := conn.WriteJSON(msg); err != nil {
				slog.Debug("Live write failed", "error", err)
				conn.Close()
				drain(out)
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(liveWriteWait)); err != nil {
				conn.Close()
				drain(out)
				return
			}
		}
	}
}

// drain discards pending answers until the reader closes the channel.
func drain(out <-chan liveMessage) {
	for range out {
	}
}
