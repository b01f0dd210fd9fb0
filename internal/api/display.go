package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"airsense/internal/auth"
	"airsense/internal/display"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
	wsPongTimeout  = 2 * wsPingInterval
)

// Display is the rendered frame source. display.MirrorPanel implements it.
type Display interface {
	Last() (display.Frame, bool)
	Subscribe() (<-chan display.Frame, func())
}

// DisplayHandler streams the display over a WebSocket
type DisplayHandler struct {
	display      Display
	wsTokenStore *auth.WSTokenStore
	noAuth       bool
	upgrader     websocket.Upgrader
	logger       *zap.Logger
}

// NewDisplayHandler creates new display handler
func NewDisplayHandler(d Display, wsTokenStore *auth.WSTokenStore, noAuth bool, logger *zap.Logger) *DisplayHandler {
	h := &DisplayHandler{
		display:      d,
		wsTokenStore: wsTokenStore,
		noAuth:       noAuth,
		logger:       logger,
	}

	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}

	return h
}

// checkOrigin validates WebSocket connection using CSRF token
// This prevents Cross-Site WebSocket Hijacking (CSWSH) attacks
func (h *DisplayHandler) checkOrigin(r *http.Request) bool {
	if h.noAuth {
		return true
	}

	// Get token from query parameter
	token := r.URL.Query().Get("ws_token")
	if token == "" {
		h.logger.Warn("websocket rejected: missing ws_token", zap.String("client", getClientIP(r)))
		return false
	}

	// Validate token (one-time use, auto-deleted after validation)
	subject, valid := h.wsTokenStore.Validate(token)
	if !valid {
		h.logger.Warn("websocket rejected: invalid or expired ws_token", zap.String("client", getClientIP(r)))
		return false
	}

	h.logger.Debug("websocket authorized", zap.String("subject", subject))
	return true
}

// Stream handles GET /api/display/ws. Every rendered frame is sent as one
// JSON text message, starting with the current one.
func (h *DisplayHandler) Stream(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	frames, unsubscribe := h.display.Subscribe()
	defer unsubscribe()

	// Reader: keeps pong handling alive and notices the client leaving
	closed := make(chan struct{})
	ws.SetReadDeadline(time.Now().Add(wsPongTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(wsPongTimeout))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()
	defer func() {
		ws.Close()
		<-closed
	}()

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := ws.WriteJSON(frame); err != nil {
				return
			}
		case <-ping.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				return
			}
		}
	}
}
