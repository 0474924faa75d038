package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/00vip7-stack/hedge-dashboard/src/logger"
	"github.com/00vip7-stack/hedge-dashboard/src/utils"
)

// Authenticator issues tokens for the admin credential.
type Authenticator interface {
	Authenticate(username, password string) (string, error)
	GenerateToken(subject, role string) (string, time.Time, error)
}

type AuthHandler struct {
	auth Authenticator
}

func NewAuthHandler(auth Authenticator) *AuthHandler {
	return &AuthHandler{auth: auth}
}

type tokenResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
	Role        string    `json:"role"`
}

func (h *AuthHandler) HandleToken(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	var credentials struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	r.Body = http.MaxBytesReader(w, r.Body, 4096)
	if err := json.NewDecoder(r.Body).Decode(&credentials); err != nil {
		log.Warn("Invalid token request body", "error", err)
		utils.SendJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	role, err := h.auth.Authenticate(credentials.Username, credentials.Password)
	if err != nil {
		log.Warn("Token request rejected", "username", credentials.Username, "remoteAddr", r.RemoteAddr)
		utils.SendJSONError(w, "Invalid username or password", http.StatusUnauthorized)
		return
	}

	token, expires, err := h.auth.GenerateToken(credentials.Username, role)
	if err != nil {
		log.Error("Failed to sign token", "username", credentials.Username, "error", err)
		utils.SendJSONError(w, "Failed to issue token", http.StatusInternalServerError)
		return
	}
	log.Info("Token issued", "username", credentials.Username, "role", role)
	utils.SendJSON(w, tokenResponse{AccessToken: token, TokenType: "Bearer", ExpiresAt: expires, Role: role}, http.StatusOK)
}
