// Package handlers exposes the chat HTTP surface: streaming turns over the
// data-stream protocol (HTTP or WebSocket), chat lookup and deletion.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"wick_chat/langgraph"
	"wick_chat/models"
	"wick_chat/store"
	"wick_chat/tracing"
	"wick_chat/turn"
)

// History modes select which messages are forwarded to the agent.
const (
	HistoryFull     = "full"
	HistoryLastUser = "last_user"
)

const maxRequestBytes = 4 << 20

// Config holds handler-level configuration.
type Config struct {
	// HistoryMode is HistoryFull (default) or HistoryLastUser.
	HistoryMode            string
	PersistToolInvocations bool
	// TurnTimeout bounds a whole turn. Zero means no deadline.
	TurnTimeout    time.Duration
	PersistTimeout time.Duration
	PipeCapacity   int
	// TurnRate is the sustained number of turns per second allowed per user.
	// Zero disables rate limiting.
	TurnRate  float64
	TurnBurst int
}

// Runner starts an upstream agent run.
type Runner interface {
	Start(ctx context.Context, req langgraph.RunRequest) (turn.Source, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, req langgraph.RunRequest) (turn.Source, error)

func (f RunnerFunc) Start(ctx context.Context, req langgraph.RunRequest) (turn.Source, error) {
	return f(ctx, req)
}

// LangGraphRunner runs turns on a LangGraph server, one fresh thread per turn.
func LangGraphRunner(c *langgraph.Client) Runner {
	return RunnerFunc(func(ctx context.Context, req langgraph.RunRequest) (turn.Source, error) {
		s, err := c.Start(ctx, req)
		if err != nil {
			return nil, err
		}
		return s, nil
	})
}

// Deps holds shared dependencies injected into handlers.
type Deps struct {
	Models *models.Registry
	Store  store.Store
	Runner Runner
	// Recorder is optional.
	Recorder *tracing.Recorder
	Config   Config

	// ResolveUser extracts the user id from the request context. An empty
	// result means the request is unauthenticated.
	ResolveUser func(r *http.Request) string
}

// RegisterRoutes registers the /api/chat routes on the given mux.
func RegisterRoutes(mux *http.ServeMux, deps *Deps) {
	h := newChatHandler(deps)

	mux.HandleFunc("/api/chat", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			h.post(w, r)
		case http.MethodGet:
			h.get(w, r)
		case http.MethodDelete:
			h.delete(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/api/chat/ws", h.serveWS)
	mux.HandleFunc("/api/models", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"models": deps.Models.List()})
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeText(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	w.Write([]byte(msg))
}
