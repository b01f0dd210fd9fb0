package api

import (
	"net/http"

	"airsense/internal/auth"
)

// AuthHandler handles token related endpoints
type AuthHandler struct {
	wsTokenStore *auth.WSTokenStore
}

// NewAuthHandler creates new auth handler
func NewAuthHandler(wsTokenStore *auth.WSTokenStore) *AuthHandler {
	return &AuthHandler{wsTokenStore: wsTokenStore}
}

// Me handles GET /api/auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUserFromContext(r.Context())
	if user == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Not authenticated"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user": user,
	})
}

// WSToken handles GET /api/auth/ws-token
// Returns a one-time CSRF token for WebSocket connections
func (h *AuthHandler) WSToken(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUserFromContext(r.Context())
	if user == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Not authenticated"})
		return
	}

	token, err := h.wsTokenStore.Generate(user.Subject)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to generate token"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}
