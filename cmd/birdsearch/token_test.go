package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/birdsearch/internal/config"
	"github.com/xxxsen/birdsearch/internal/pkg/jwt"
)

func TestIssueToken(t *testing.T) {
	cfg := &config.Config{JWTSecret: "server-secret"}
	token, err := issueToken(cfg, "annotator-3", time.Hour)
	require.NoError(t, err)
	claims, err := jwt.ParseToken(token, []byte("server-secret"))
	require.NoError(t, err)
	require.Equal(t, "annotator-3", claims.UserID)

	_, err = issueToken(cfg, "", time.Hour)
	require.ErrorIs(t, err, jwt.ErrEmptyUser)
	_, err = issueToken(cfg, "annotator-3", 0)
	require.Error(t, err)
}
