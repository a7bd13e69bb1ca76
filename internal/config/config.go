package config

import (
	"encoding/base64"
	"fmt"
	"time"
)

const (
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultQueryTimeout      = 5 * time.Second
)

type Config struct {
	DatabaseDSN       string
	ServerAddr        string
	SigningKey        []byte
	AllowedOrigins    []string
	HeartbeatInterval time.Duration
	QueryTimeout      time.Duration
	AvatarAPIKey      string
	AvatarModel       string
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(base64Secret)
}

func NewConfig(serverAddr, databaseDSN, base64Secret string, allowedOrigins []string,
	heartbeatInterval, queryTimeout time.Duration, avatarAPIKey, avatarModel string) (*Config, error) {
	if serverAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if databaseDSN == "" {
		return nil, fmt.Errorf("database DSN cannot be empty")
	}
	if base64Secret == "" {
		return nil, fmt.Errorf("signing secret cannot be empty")
	}
	if heartbeatInterval < 0 || queryTimeout < 0 {
		return nil, fmt.Errorf("intervals cannot be negative")
	}

	if heartbeatInterval == 0 {
		heartbeatInterval = DefaultHeartbeatInterval
	}
	if queryTimeout == 0 {
		queryTimeout = DefaultQueryTimeout
	}

	// Decode the base64 encoded signing secret
	signingKey, err := decodeSigningSecret(base64Secret)
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}

	return &Config{
		DatabaseDSN:       databaseDSN,
		ServerAddr:        serverAddr,
		SigningKey:        signingKey,
		AllowedOrigins:    allowedOrigins,
		HeartbeatInterval: heartbeatInterval,
		QueryTimeout:      queryTimeout,
		AvatarAPIKey:      avatarAPIKey,
		AvatarModel:       avatarModel,
	}, nil
}
