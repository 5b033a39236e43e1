package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/CongSofwareEngineer/bot-dca-token/internal/domain"
	"github.com/CongSofwareEngineer/bot-dca-token/internal/storage"
	"github.com/CongSofwareEngineer/bot-dca-token/internal/storage/storagetest"
)

func TestStore(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store {
		s, err := Open(filepath.Join(t.TempDir(), "dca.db"))
		require.NoError(t, err)
		return s
	})
}

func TestStore_PersistsAcrossOpen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "dca.db")

	s, err := Open(path)
	require.NoError(t, err)
	_, err = s.Save(ctx, domain.DefaultStrategyConfig("alice", domain.StrategyV1))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	cfg, err := reopened.Load(ctx, "alice", domain.StrategyV1)
	require.NoError(t, err)
	require.Equal(t, uint64(1), cfg.Revision)
	require.True(t, cfg.LastEvaluatedAt.IsZero())
}
