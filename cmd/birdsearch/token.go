package main

import (
	"fmt"
	"time"

	"github.com/xxxsen/birdsearch/internal/config"
	"github.com/xxxsen/birdsearch/internal/pkg/jwt"
)

const defaultTokenTTL = 30 * 24 * time.Hour

// issueToken signs an annotator token with the server's secret.
func issueToken(cfg *config.Config, userID string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		return "", fmt.Errorf("token ttl must be positive, got %s", ttl)
	}
	token, err := jwt.GenerateToken(userID, []byte(cfg.JWTSecret), ttl)
	if err != nil {
		return "", fmt.Errorf("issue token: %w", err)
	}
	return token, nil
}
