package web

import (
	"encoding/json"
	"net/http"

	"github.com/haasonsaas/mailpilot/internal/agent"
	"github.com/haasonsaas/mailpilot/pkg/models"
)

// chatRequest is the POST /api/chat body. Messages stays raw until
// validation so a missing field and a wrong type can both be rejected
// with a 400 before anything else happens.
type chatRequest struct {
	Messages     json.RawMessage     `json:"messages"`
	Thread       *models.EmailThread `json:"thread,omitempty"`
	Folder       string              `json:"folder,omitempty"`
	Provider     string              `json:"provider"`
	Model        string              `json:"model,omitempty"`
	AccessToken  string              `json:"accessToken,omitempty"`
	CurrentDraft *models.Draft       `json:"currentDraft,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	turns, ok := parseMessages(req.Messages)
	if !ok {
		writeJSONError(w, http.StatusBadRequest, "messages must be a list of {role, content}")
		return
	}

	providerName := req.Provider
	if providerName == "" {
		providerName = s.defaultProvider
	}
	controller, ok := s.controllers[providerName]
	if !ok {
		writeJSONError(w, http.StatusBadRequest, "unknown provider: "+providerName)
		return
	}

	runReq := &agent.RunRequest{
		System:      buildSystemPrompt(req.Thread, req.Folder),
		Model:       req.Model,
		Turns:       append(draftContinuityTurns(req.CurrentDraft), turns...),
		AccessToken: req.AccessToken,
	}
	if req.Thread != nil {
		runReq.ThreadID = req.Thread.ID
	}

	events, err := controller.Run(r.Context(), runReq)
	if err != nil {
		s.logger.Error("failed to start agent run", "provider", providerName, "error", err)
		writeJSONError(w, http.StatusInternalServerError, "failed to start run")
		return
	}

	ew, err := NewEventWriter(w, s.logger, s.metrics)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer ew.Close()

	// Drain to completion even if the client goes away; the run goroutine
	// closes the channel after its terminal event.
	for event := range events {
		ew.Send(event)
	}
}

// parseMessages validates the raw messages field: it must be present and a
// JSON array. Empty-content messages are dropped, since some providers
// reject empty turns.
func parseMessages(raw json.RawMessage) ([]models.ChatMessage, bool) {
	if len(raw) == 0 {
		return nil, false
	}

	var messages []models.ChatMessage
	if err := json.Unmarshal(raw, &messages); err != nil {
		return nil, false
	}

	filtered := make([]models.ChatMessage, 0, len(messages))
	for _, msg := range messages {
		if msg.Content == "" {
			continue
		}
		filtered = append(filtered, msg)
	}
	return filtered, true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
