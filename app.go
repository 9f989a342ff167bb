// Package wickchat is the chat service: it relays LangGraph agent runs to
// chat clients over the data-stream protocol and keeps chat history.
package wickchat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"goa.design/clue/log"

	"wick_chat/datastream"
	"wick_chat/handlers"
	"wick_chat/langgraph"
	"wick_chat/models"
	"wick_chat/store"
	"wick_chat/tracing"
)

// Server is the wick_chat instance. Create one with New, then call Start.
type Server struct {
	cfg *AppConfig

	models   *models.Registry
	store    store.Store
	runner   handlers.Runner
	recorder *tracing.Recorder

	srv *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithStore replaces the store selected by the configuration.
func WithStore(s store.Store) Option {
	return func(srv *Server) { srv.store = s }
}

// WithRunner replaces the LangGraph runner.
func WithRunner(r handlers.Runner) Option {
	return func(srv *Server) { srv.runner = r }
}

// WithModels replaces the registry loaded from the models file.
func WithModels(reg *models.Registry) Option {
	return func(srv *Server) { srv.models = reg }
}

// WithRecorder sets the turn recorder. By default one is built on the global
// OpenTelemetry providers.
func WithRecorder(r *tracing.Recorder) Option {
	return func(srv *Server) { srv.recorder = r }
}

// New creates a Server. A nil cfg reads the configuration from the environment.
func New(cfg *AppConfig, opts ...Option) *Server {
	if cfg == nil {
		cfg = ConfigFromEnv()
	}
	s := &Server{cfg: cfg}
	for _, o := range opts {
		o(s)
	}
	return s
}

// setup builds whatever dependencies were not injected.
func (s *Server) setup(ctx context.Context) error {
	if err := s.cfg.Validate(); err != nil {
		return err
	}
	if s.models == nil {
		reg := models.NewRegistry()
		if s.cfg.ModelsFile != "" {
			log.Printf(ctx, "loading models from %s", s.cfg.ModelsFile)
			ids, err := LoadModelsFile(s.cfg.ModelsFile, reg)
			if err != nil {
				return err
			}
			for _, id := range ids {
				log.Debugf(ctx, "registered model %q", id)
			}
		} else if err := RegisterDefaultModel(reg); err != nil {
			return err
		}
		s.models = reg
	}
	if s.runner == nil {
		var opts []langgraph.Option
		if s.cfg.LangGraphAPIKey != "" {
			opts = append(opts, langgraph.WithAPIKey(s.cfg.LangGraphAPIKey))
		}
		s.runner = handlers.LangGraphRunner(langgraph.NewClient(s.cfg.LangGraphURL, opts...))
	}
	if s.recorder == nil {
		rec, err := tracing.NewRecorder()
		if err != nil {
			return fmt.Errorf("failed to create recorder: %w", err)
		}
		s.recorder = rec
	}
	if s.store == nil {
		st, err := openStore(ctx, s.cfg)
		if err != nil {
			return err
		}
		s.store = st
	}
	return nil
}

// openStore opens the backend named by cfg.Store.
func openStore(ctx context.Context, cfg *AppConfig) (store.Store, error) {
	switch cfg.Store {
	case StoreMongo:
		client, err := store.DialMongo(ctx, cfg.MongoURI)
		if err != nil {
			return nil, err
		}
		st, err := store.NewMongoStore(ctx, store.MongoOptions{Client: client, Database: cfg.MongoDatabase})
		if err != nil {
			_ = client.Disconnect(ctx)
			return nil, err
		}
		return st, nil
	case StoreRedis:
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		return store.NewRedisStore(store.RedisOptions{Client: rdb, TTL: cfg.StoreTTL})
	default:
		ttl := cfg.StoreTTL
		if ttl <= 0 {
			ttl = store.DefaultMemoryTTL
		}
		return store.NewMemoryStore(ttl), nil
	}
}

// Handler builds the route tree. logCtx carries the clue logger copied into
// every request context.
func (s *Server) Handler(logCtx context.Context) (http.Handler, error) {
	if err := s.setup(logCtx); err != nil {
		return nil, err
	}

	mux := http.NewServeMux()

	// Health check (no auth required)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":        "ok",
			"models_loaded": s.models.Count(),
		})
	})

	// Auth routing: proxy to gateway when configured, otherwise 501 stub
	if s.cfg.WickGatewayURL != "" {
		proxy := authProxy(s.cfg.WickGatewayURL)
		mux.Handle("/auth/login", proxy)
		mux.Handle("/auth/me", proxy)
	} else {
		mux.HandleFunc("/auth/me", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotImplemented)
		})
	}

	apiMux := http.NewServeMux()
	handlers.RegisterRoutes(apiMux, &handlers.Deps{
		Models:      s.models,
		Store:       s.store,
		Runner:      s.runner,
		Recorder:    s.recorder,
		Config:      s.cfg.HandlerConfig(),
		ResolveUser: ResolveUser,
	})
	mux.Handle("/api/", authMiddleware(s.cfg, apiMux))

	return requestLogger(logCtx, corsMiddleware(mux)), nil
}

// Start initializes dependencies, builds routes and runs the HTTP server. It
// blocks until ctx is done, a signal arrives or Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	handler, err := s.Handler(ctx)
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.srv = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // disable for streaming
		IdleTimeout:  120 * time.Second,
	}

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-sigCtx.Done()
		log.Printf(ctx, "shutting down...")
		s.Shutdown()
	}()

	auth := "disabled"
	switch {
	case s.cfg.JWTSecret != "":
		auth = "jwt"
	case s.cfg.WickGatewayURL != "":
		auth = "gateway=" + s.cfg.WickGatewayURL
	}
	log.Print(ctx,
		log.KV{K: "msg", V: "wick_chat starting"},
		log.KV{K: "addr", V: addr},
		log.KV{K: "models", V: s.models.Count()},
		log.KV{K: "store", V: s.cfg.Store},
		log.KV{K: "auth", V: auth},
		log.KV{K: "langgraph", V: s.cfg.LangGraphURL})

	if err := s.srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server and closes the store.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var err error
	if s.srv != nil {
		err = s.srv.Shutdown(ctx)
	}
	if s.store != nil {
		err = errors.Join(err, s.store.Close(ctx))
	}
	return err
}

// requestLogger copies the logger from logCtx into each request context,
// tags it with a request id and logs the request once served. The response
// writer is passed through untouched: streaming needs its Flusher and the
// WebSocket upgrade its Hijacker.
func requestLogger(logCtx context.Context, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-Id")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := log.WithContext(r.Context(), logCtx)
		ctx = log.With(ctx, log.KV{K: "request_id", V: reqID})
		started := time.Now()
		next.ServeHTTP(w, r.WithContext(ctx))
		log.Print(ctx,
			log.KV{K: "http.method", V: r.Method},
			log.KV{K: "http.url", V: r.URL.Path},
			log.KV{K: "http.time_ms", V: time.Since(started).Milliseconds()})
	})
}

// corsMiddleware adds permissive CORS headers for UI development.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Expose-Headers", datastream.HeaderProtocol)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
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
