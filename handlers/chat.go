package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"goa.design/clue/log"

	"wick_chat/datastream"
	"wick_chat/langgraph"
	"wick_chat/models"
	"wick_chat/store"
	"wick_chat/transcode"
	"wick_chat/turn"
)

type chatRequest struct {
	ID       string        `json:"id"`
	Messages []chatMessage `json:"messages"`
	ModelID  string        `json:"modelId"`
}

type chatMessage struct {
	ID      string `json:"id"`
	Role    string `json:"role"`
	Content string `json:"content"`
}

// turnError is a failure detected before any frame was sent.
type turnError struct {
	status int
	msg    string
}

func (e *turnError) Error() string { return e.msg }

// preparedTurn is a validated turn whose upstream run has started.
type preparedTurn struct {
	chatID string
	userID string
	model  *models.Model
	src    turn.Source
}

type chatHandler struct {
	deps    *Deps
	limiter *userLimiter
}

func newChatHandler(deps *Deps) *chatHandler {
	return &chatHandler{
		deps:    deps,
		limiter: newUserLimiter(deps.Config.TurnRate, deps.Config.TurnBurst),
	}
}

func (h *chatHandler) resolveUser(r *http.Request) string {
	if h.deps.ResolveUser != nil {
		return h.deps.ResolveUser(r)
	}
	return "local"
}

// turnContext derives the context bounding a whole turn.
func (h *chatHandler) turnContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if h.deps.Config.TurnTimeout > 0 {
		return context.WithTimeout(ctx, h.deps.Config.TurnTimeout)
	}
	return context.WithCancel(ctx)
}

func (h *chatHandler) post(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	ctx, cancel := h.turnContext(r.Context())
	defer cancel()

	// Validate before the stream writer commits 200.
	p, terr := h.prepare(ctx, req, h.resolveUser(r))
	if terr != nil {
		writeJSONError(w, terr.status, terr.msg)
		return
	}

	dw := datastream.NewWriter(w)
	if dw == nil {
		p.src.Close()
		writeJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	err := h.run(ctx, p, dw)
	if err == nil || r.Context().Err() != nil {
		return
	}
	// Headers are already sent: the only way to tell the client the turn is
	// incomplete is to break the connection.
	log.Error(ctx, err, log.KV{K: "msg", V: "turn aborted"}, log.KV{K: "chat", V: p.chatID})
	panic(http.ErrAbortHandler)
}

// prepare validates req, records the latest user message and starts the
// upstream run.
func (h *chatHandler) prepare(ctx context.Context, req chatRequest, userID string) (*preparedTurn, *turnError) {
	if req.ID == "" {
		return nil, &turnError{http.StatusBadRequest, "missing chat id"}
	}
	last := lastUserMessage(req.Messages)
	if last == nil {
		return nil, &turnError{http.StatusBadRequest, "No user message found"}
	}
	if userID == "" {
		return nil, &turnError{http.StatusUnauthorized, "Unauthorized"}
	}
	model, err := h.deps.Models.Get(req.ModelID)
	if err != nil {
		return nil, &turnError{http.StatusNotFound, "Model not found"}
	}
	if !h.limiter.Allow(userID) {
		return nil, &turnError{http.StatusTooManyRequests, "too many requests"}
	}

	if _, err := h.deps.Store.SaveChat(ctx, req.ID, userID); err != nil {
		if errors.Is(err, store.ErrForbidden) {
			return nil, &turnError{http.StatusUnauthorized, "Unauthorized"}
		}
		log.Error(ctx, err, log.KV{K: "msg", V: "save chat"}, log.KV{K: "chat", V: req.ID})
		return nil, &turnError{http.StatusInternalServerError, "failed to save chat"}
	}
	if err := h.deps.Store.AppendMessages(ctx, req.ID, []store.Message{{ID: last.ID, Role: "user", Content: last.Content}}); err != nil {
		log.Error(ctx, err, log.KV{K: "msg", V: "save user message"}, log.KV{K: "chat", V: req.ID})
		return nil, &turnError{http.StatusInternalServerError, "failed to save message"}
	}

	src, err := h.deps.Runner.Start(ctx, langgraph.RunRequest{
		AssistantID:  model.AssistantID,
		Messages:     h.history(req.Messages, last),
		Configurable: model.RunConfigurable(),
	})
	if err != nil {
		log.Error(ctx, err, log.KV{K: "msg", V: "start run"}, log.KV{K: "chat", V: req.ID})
		return nil, &turnError{http.StatusBadGateway, "failed to start agent run"}
	}
	return &preparedTurn{chatID: req.ID, userID: userID, model: model, src: src}, nil
}

// run drives the turn in its own goroutine and drains frames to sink on the
// calling goroutine. It returns once the stream is closed; persistence may
// still be in progress.
func (h *chatHandler) run(ctx context.Context, p *preparedTurn, sink turn.Sink) error {
	ctx = log.With(ctx, log.KV{K: "chat", V: p.chatID}, log.KV{K: "model", V: p.model.ID}, log.KV{K: "user", V: p.userID})

	driver := &turn.Driver{
		Persister: h.persister(p.chatID),
		Options: turn.Options{
			Transcode:      transcode.Options{PersistToolInvocations: h.deps.Config.PersistToolInvocations},
			PersistTimeout: h.deps.Config.PersistTimeout,
		},
	}
	if h.deps.Recorder != nil {
		var tr turn.Observer
		ctx, tr = h.deps.Recorder.Start(ctx, p.chatID, p.model.ID)
		driver.Observer = tr
	}

	pipe := turn.NewPipe(h.deps.Config.PipeCapacity)
	go func() {
		sum, err := driver.Run(ctx, p.src, pipe)
		fields := []log.Fielder{
			log.KV{K: "events", V: sum.Events},
			log.KV{K: "frames", V: sum.Frames},
			log.KV{K: "dropped", V: sum.Dropped},
			log.KV{K: "persisted", V: sum.Persisted},
		}
		if err != nil {
			log.Error(ctx, err, append([]log.Fielder{log.KV{K: "msg", V: "turn failed"}}, fields...)...)
			return
		}
		log.Info(ctx, append([]log.Fielder{log.KV{K: "msg", V: "turn finished"}}, fields...)...)
	}()
	return pipe.Drain(ctx, sink)
}

// persister appends the turn's assistant messages to the chat.
func (h *chatHandler) persister(chatID string) turn.Persister {
	return turn.PersisterFunc(func(ctx context.Context, msgs []transcode.Message) error {
		if len(msgs) == 0 {
			return nil
		}
		return h.deps.Store.AppendMessages(ctx, chatID, toStoreMessages(msgs))
	})
}

func (h *chatHandler) history(msgs []chatMessage, last *chatMessage) []langgraph.Message {
	if h.deps.Config.HistoryMode == HistoryLastUser {
		return []langgraph.Message{{Role: "user", Content: last.Content}}
	}
	out := make([]langgraph.Message, 0, len(msgs))
	for _, m := range msgs {
		role := "assistant"
		if m.Role == "user" {
			role = "user"
		}
		out = append(out, langgraph.Message{Role: role, Content: m.Content})
	}
	return out
}

func lastUserMessage(msgs []chatMessage) *chatMessage {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == "user" {
			return &msgs[i]
		}
	}
	return nil
}

func toStoreMessages(msgs []transcode.Message) []store.Message {
	out := make([]store.Message, 0, len(msgs))
	for _, m := range msgs {
		sm := store.Message{ID: m.ID, Role: m.Role, Content: m.Content}
		for _, inv := range m.ToolInvocations {
			sm.ToolInvocations = append(sm.ToolInvocations, store.ToolInvocation{
				State:      inv.State,
				ToolCallID: inv.ToolCallID,
				ToolName:   inv.ToolName,
				Args:       string(inv.Args),
				Result:     string(inv.Result),
			})
		}
		out = append(out, sm)
	}
	return out
}

func (h *chatHandler) get(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		writeJSONError(w, http.StatusNotFound, "Not Found")
		return
	}
	user := h.resolveUser(r)
	if user == "" {
		writeJSONError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	chat, err := h.deps.Store.GetChat(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeJSONError(w, http.StatusNotFound, "Not Found")
		return
	}
	if err != nil {
		log.Error(r.Context(), err, log.KV{K: "msg", V: "get chat"}, log.KV{K: "chat", V: id})
		writeJSONError(w, http.StatusInternalServerError, "failed to load chat")
		return
	}
	if chat.UserID != user {
		writeJSONError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	writeJSON(w, http.StatusOK, chat)
}

func (h *chatHandler) delete(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		writeText(w, http.StatusNotFound, "Not Found")
		return
	}
	user := h.resolveUser(r)
	if user == "" {
		writeText(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	const failed = "An error occurred while processing your request"
	chat, err := h.deps.Store.GetChat(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeText(w, http.StatusNotFound, "Not Found")
		return
	}
	if err != nil {
		log.Error(r.Context(), err, log.KV{K: "msg", V: "get chat"}, log.KV{K: "chat", V: id})
		writeText(w, http.StatusInternalServerError, failed)
		return
	}
	if chat.UserID != user {
		writeText(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	if err := h.deps.Store.DeleteChat(r.Context(), id); err != nil {
		log.Error(r.Context(), err, log.KV{K: "msg", V: "delete chat"}, log.KV{K: "chat", V: id})
		writeText(w, http.StatusInternalServerError, failed)
		return
	}
	writeText(w, http.StatusOK, "Chat deleted")
}
