package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/parleychat/parley/internal/api"
	"github.com/parleychat/parley/internal/avatar"
	"github.com/parleychat/parley/internal/config"
	"github.com/parleychat/parley/internal/database"
	"github.com/parleychat/parley/internal/messaging"
	"github.com/parleychat/parley/internal/server"
	"github.com/parleychat/parley/internal/stats"
)

const defaultSigningKey = "c2VjcmV0LXNpZ25pbmcta2V5LWZvci1kZXYtb25seSE="

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, strings.Split(value, ",")...)
	return nil
}

var (
	addr              string
	dsn               string
	signingKey        string
	allowedOrigins    stringSliceFlag
	heartbeatInterval time.Duration
	queryTimeout      time.Duration
	avatarAPIKey      string
	avatarModel       string
)

func main() {
	flag.StringVar(&addr, "addr", "localhost:8000", "server address")
	flag.StringVar(&dsn, "dsn", "host=localhost user=postgres password=postgres dbname=postgres sslmode=disable", "database connection string")
	flag.StringVar(&signingKey, "signing-key", defaultSigningKey, "base64 encoded signing key")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.DurationVar(&heartbeatInterval, "heartbeat-interval", 30*time.Second, "interval between connection liveness sweeps")
	flag.DurationVar(&queryTimeout, "query-timeout", 5*time.Second, "per-query database timeout")
	flag.StringVar(&avatarAPIKey, "avatar-api-key", os.Getenv("OPENAI_API_KEY"), "OpenAI API key for avatar auto-replies, disabled when empty")
	flag.StringVar(&avatarModel, "avatar-model", "", "OpenAI model for avatar auto-replies")
	flag.Parse()

	logger := log.New(os.Stderr, "[parley] ", log.LstdFlags)

	cfg, err := config.NewConfig(addr, dsn, signingKey, allowedOrigins, heartbeatInterval, queryTimeout, avatarAPIKey, avatarModel)
	if err != nil {
		logger.Fatal("config:", err)
	}

	dbConn, err := database.NewPgChatRepository(cfg.DatabaseDSN, cfg.QueryTimeout)
	if err != nil {
		logger.Fatal("db open:", err)
	}
	defer func() {
		if err := dbConn.Close(); err != nil {
			logger.Fatal("db close:", err)
		}
	}()

	if err := dbConn.Migrate(); err != nil {
		logger.Fatal("migrate:", err)
	}

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)

	chatServer, err := server.NewChatServer(logger, statsUpdater, cfg.HeartbeatInterval)
	if err != nil {
		logger.Fatal("new chat server:", err)
	}

	var responder messaging.AvatarResponder
	if cfg.AvatarAPIKey != "" {
		r, err := avatar.NewOpenAIResponder(avatar.Config{
			APIKey: cfg.AvatarAPIKey,
			Model:  cfg.AvatarModel,
		})
		if err != nil {
			logger.Fatal("avatar responder:", err)
		}
		responder = r
	}

	messageService := messaging.NewMessageService(logger, dbConn, chatServer, responder, nil)

	srv := api.NewParleyApp(mux, logger, chatServer, messageService, dbConn, statsUpdater, cfg)

	statsUpdater.Run()
	defer statsUpdater.Stop()

	go chatServer.Run()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Printf("received signal: %s\n", sig)
	case err := <-errCh:
		logger.Println("server:", err)
	}

	shutDownCtx, cancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutDownCtx); err != nil {
		logger.Fatalln("HTTP server shutdown:", err)
	}

	logger.Println("shutting down chat server...")
	if err := chatServer.Shutdown(shutDownCtx); err != nil {
		logger.Fatalln("chat server shutdown:", err)
	}

	logger.Println("shutdown complete")
}
