package handlers

import (
	"net/http"

	"github.com/cloudzz-dev/cldzchat/internal/server/ratelimit"
	"github.com/cloudzz-dev/cldzchat/internal/server/ws"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// HandleWebSocket upgrades a connection for the identity named by the
// userId query parameter.
func HandleWebSocket(hub *ws.Hub, w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		http.Error(w, "userId is required", http.StatusBadRequest)
		return
	}

	clientIP := ratelimit.GetClientIP(r)
	limiter := hub.Limiter

	// Rate limit: check connection count per IP
	if limiter != nil && !limiter.CanConnect(clientIP) {
		http.Error(w, "Too many connections from your IP", http.StatusTooManyRequests)
		hub.Log.Warn("rate limited connection", zap.String("ip", clientIP))
		return
	}
	if hub.IsConnected(userID) {
		http.Error(w, ws.ErrDuplicateIdentity.Error(), http.StatusConflict)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.Log.Warn("upgrade failed", zap.Error(err))
		return
	}

	if limiter != nil {
		limiter.AddConnection(clientIP)
	}

	client := ws.NewClient(hub, conn, userID, clientIP)
	if err := hub.Register(client); err != nil {
		if limiter != nil {
			limiter.RemoveConnection(clientIP)
		}
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error()))
		conn.Close()
		return
	}

	// Writer goroutine
	go func() {
		if limiter != nil {
			defer limiter.RemoveConnection(clientIP)
		}
		client.WritePump()
	}()

	// Reader goroutine
	go client.ReadPump()
}
