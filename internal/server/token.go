package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// tokenRequest is the payload forwarded to the Beefree auth service
type tokenRequest struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	UID          string `json:"uid"`
}

// handleToken exchanges the configured Beefree credentials for an SDK token.
// The upstream response is relayed verbatim: same status, same body. This
// endpoint holds no token logic of its own.
func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"detail": "method not allowed"})
		return
	}

	if s.cfg.Beefree.ClientID == "" || s.cfg.Beefree.ClientSecret == "" {
		s.logger.Error("beefree credentials not configured")
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"detail": "Beefree SDK credentials not configured. Set BEEFREE_CLIENT_ID and BEEFREE_CLIENT_SECRET",
		})
		return
	}

	payload, err := json.Marshal(tokenRequest{
		ClientID:     s.cfg.Beefree.ClientID,
		ClientSecret: s.cfg.Beefree.ClientSecret,
		UID:          s.cfg.Beefree.UID,
	})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "failed to build auth request"})
		return
	}

	req, err := http.NewRequestWithContext(r.Context(), "POST", s.cfg.Beefree.AuthURL, bytes.NewBuffer(payload))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "failed to build auth request"})
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.logger.Error("auth service unreachable", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"detail": fmt.Sprintf("Failed to connect to Beefree auth service: %v", err),
		})
		return
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "failed to read auth response"})
		return
	}

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.WriteHeader(resp.StatusCode)
	w.Write(body)
}
