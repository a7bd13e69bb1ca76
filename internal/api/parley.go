package api

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/parleychat/parley/internal/config"
	"github.com/parleychat/parley/internal/database"
	"github.com/parleychat/parley/internal/messaging"
	"github.com/parleychat/parley/internal/server"
	"github.com/parleychat/parley/internal/stats"
	"github.com/teris-io/shortid"
)

type ParleyApp struct {
	log             *log.Logger
	db              database.ChatRepository
	mux             *http.Server
	cs              *server.ChatServer
	ms              *messaging.MessageService
	stats           stats.StatsProvider
	signingKey      []byte
	allowedOrigins  []string
	generateShortId func() (string, error)
}

func NewParleyApp(mux *http.ServeMux, logger *log.Logger, cs *server.ChatServer, ms *messaging.MessageService, db database.ChatRepository, su stats.StatsProvider, cfg *config.Config) *ParleyApp {
	s := &ParleyApp{
		log:             logger,
		db:              db,
		cs:              cs,
		ms:              ms,
		stats:           su,
		signingKey:      cfg.SigningKey,
		allowedOrigins:  cfg.AllowedOrigins,
		generateShortId: shortid.Generate,
	}

	mux.HandleFunc("POST /api/auth/register", s.createAccount)
	mux.HandleFunc("POST /api/auth/login", s.login)
	mux.HandleFunc("GET /api/auth/session", s.authMiddleware(s.session))
	mux.Handle("GET /api/auth/logout", s.authMiddleware(s.logout))
	mux.Handle("/api/account", s.authMiddleware(s.account))
	mux.Handle("POST /api/channels", s.authMiddleware(s.createChannel))
	mux.Handle("GET /api/channels", s.authMiddleware(s.listChannels))
	mux.Handle("DELETE /api/channels", s.authMiddleware(s.deleteChannel))
	mux.Handle("POST /api/channels/join", s.authMiddleware(s.joinChannel))
	mux.Handle("POST /api/channels/leave", s.authMiddleware(s.leaveChannel))
	mux.Handle("POST /api/channels/read", s.authMiddleware(s.markChannelRead))
	mux.Handle("POST /api/messages", s.authMiddleware(s.postMessage))
	mux.Handle("GET /api/messages", s.authMiddleware(s.getMessages))
	mux.Handle("PUT /api/messages", s.authMiddleware(s.editMessage))
	mux.Handle("DELETE /api/messages", s.authMiddleware(s.deleteMessage))
	mux.Handle("POST /api/messages/react", s.authMiddleware(s.reactToMessage))
	mux.Handle("POST /api/messages/read", s.authMiddleware(s.markDirectMessageRead))
	mux.Handle("GET /api/dms", s.authMiddleware(s.getDirectMessages))
	mux.Handle("GET /api/dms/unreads", s.authMiddleware(s.getDirectMessageUnreads))
	mux.HandleFunc("GET /ws", s.serveWs)
	mux.HandleFunc("GET /healthz", s.healthCheck)

	su.RegisterMetric("TotalHandshakeRejections")

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept"}),
		handlers.AllowCredentials(),
	)(mux)

	h = s.errorHandler(h)

	srv := &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	s.mux = srv
	return s
}

func (s *ParleyApp) Start() error {
	s.log.Printf("starting server on %s\n", s.mux.Addr)
	return s.mux.ListenAndServe()
}

func (s *ParleyApp) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.mux.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
