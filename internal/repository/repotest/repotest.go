// Package repotest opens throwaway sqlite stores for tests.
package repotest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/delmenhorst/Buchhaltung/internal/common"
	"github.com/delmenhorst/Buchhaltung/internal/entity"
	"github.com/delmenhorst/Buchhaltung/internal/repository"
)

// DSN returns a sqlite DSN for a fresh file below dir.
func DSN(dir string) string {
	return "file:" + filepath.Join(dir, "test.db") + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
}

// NewStore opens and migrates a store that is closed when the test ends.
func NewStore(t testing.TB) *repository.Store {
	t.Helper()
	ctx := context.Background()
	store, err := repository.Open(ctx, common.DatabaseConfig{
		Driver: repository.DriverSQLite,
		DSN:    DSN(t.TempDir()),
	}, zap.NewNop().Sugar())
	require.NoError(t, err)
	require.NoError(t, store.Migrate(ctx))
	t.Cleanup(store.Close)
	return store
}

// SeedBusiness inserts a business rooted below root.
func SeedBusiness(t testing.TB, store *repository.Store, root, name, prefix string) *entity.Business {
	t.Helper()
	repo := repository.NewBusinessRepository(store, zap.NewNop().Sugar())
	b, err := repo.Ensure(context.Background(), entity.Business{
		Name:        name,
		Prefix:      prefix,
		IntakePath:  filepath.Join(root, "Intake", name),
		ArchivePath: filepath.Join(root, "Archive", name),
	})
	require.NoError(t, err)
	return b
}
