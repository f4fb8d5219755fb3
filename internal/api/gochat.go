package api

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/handlers"
	"github.com/npezzotti/geochat/internal/auth"
	"github.com/npezzotti/geochat/internal/config"
	"github.com/npezzotti/geochat/internal/database"
	"github.com/npezzotti/geochat/internal/server"
)

const defaultAPIMaxInflight = 100

type GoChatApp struct {
	log            *log.Logger
	db             database.GoChatRepository
	srv            *http.Server
	cs             *server.ChatServer
	tokens         *auth.TokenManager
	allowedOrigins []string
}

// NewGoChatApp wires the websocket endpoint and the thin HTTP API around
// the chat server. statsHandler may be nil.
func NewGoChatApp(logger *log.Logger, cs *server.ChatServer, db database.GoChatRepository,
	statsHandler http.HandlerFunc, cfg *config.Config) *GoChatApp {
	s := &GoChatApp{
		log:            logger,
		db:             db,
		cs:             cs,
		tokens:         auth.NewTokenManager(cfg.SigningKey),
		allowedOrigins: cfg.AllowedOrigins,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{Logger: logger, NoColor: true}))
	r.Use(s.errorHandler)

	r.Get("/healthz", s.healthCheck)
	r.Get("/ws", s.serveWs)
	if statsHandler != nil {
		r.Get("/debug/vars", statsHandler)
	}

	inflight := cfg.APIMaxInflight
	if inflight <= 0 {
		inflight = defaultAPIMaxInflight
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Throttle(inflight))
		r.Use(s.authMiddleware)
		r.Get("/rooms/{roomId}", s.getRoom)
		r.Get("/rooms/{roomId}/online", s.getOnlineUsers)
		r.Get("/rooms/{roomId}/messages", s.getMessages)
		r.Post("/rooms/{roomId}/invites", s.createInvite)
		r.Post("/invites/{code}/redeem", s.redeemInvite)
		r.Post("/conversations", s.createConversation)
	})

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept", "Authorization"}),
		handlers.AllowCredentials(),
	)(r)

	s.srv = &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	return s
}

func (s *GoChatApp) Handler() http.Handler {
	return s.srv.Handler
}

func (s *GoChatApp) Start() error {
	s.log.Printf("starting server on %s", s.srv.Addr)
	return s.srv.ListenAndServe()
}

func (s *GoChatApp) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
