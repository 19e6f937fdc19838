package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/intake/internal/config"
	"github.com/JonMunkholm/intake/internal/core"
)

func TestOpen_SQLite(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, config.DatabaseConfig{Driver: "sqlite", URL: filepath.Join(t.TempDir(), "intake.db")})
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Ping(ctx))

	id, err := s.CreateImport(ctx, core.ImportRecord{FileName: "a.csv", TotalRows: 1, CreatedBy: "asha"})
	require.NoError(t, err)
	imp, err := s.GetImport(ctx, id)
	require.NoError(t, err)
	require.Equal(t, core.ImportProcessing, imp.Status)
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), config.DatabaseConfig{Driver: "mysql", URL: "x"})
	require.Error(t, err)
}
