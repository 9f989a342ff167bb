package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"goa.design/clue/log"

	"wick_chat/datastream"
)

const wsReadTimeout = 30 * time.Second

// upgrader accepts any origin, matching the CORS policy of the HTTP routes.
// Credentials travel as bearer tokens, never cookies.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// serveWS runs one turn over a WebSocket connection. The first text
// message carries the same body as POST /api/chat; frames follow as text
// messages and the server closes the connection when the turn ends.
func (h *chatHandler) serveWS(w http.ResponseWriter, r *http.Request) {
	user := h.resolveUser(r)
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied with an HTTP error.
		return
	}
	ws := datastream.NewWebSocketWriter(conn)

	conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	var req chatRequest
	_, msg, err := conn.ReadMessage()
	if err != nil {
		ws.CloseWith(websocket.CloseProtocolError, "expected chat request")
		return
	}
	if err := json.Unmarshal(msg, &req); err != nil {
		ws.CloseWith(websocket.CloseInvalidFramePayloadData, "invalid JSON")
		return
	}
	conn.SetReadDeadline(time.Time{})

	ctx, cancel := h.turnContext(r.Context())
	defer cancel()

	p, terr := h.prepare(ctx, req, user)
	if terr != nil {
		ws.CloseWith(websocket.ClosePolicyViolation, terr.msg)
		return
	}

	// Client messages after the request are ignored; a read error means the
	// peer went away.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	err = h.run(ctx, p, ws)
	if err != nil {
		log.Error(ctx, err, log.KV{K: "msg", V: "turn aborted"}, log.KV{K: "chat", V: p.chatID})
	}
	ws.Close(err)
}
