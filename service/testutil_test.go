package service

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/clusterw/wgo-ui/database"
	"github.com/clusterw/wgo-ui/logger"
	"github.com/op/go-logging"
	"github.com/stretchr/testify/require"
)

var initLogOnce sync.Once

// setupTest gives each test a fresh database with defaults seeded. The
// external address is pinned so no network probe runs.
func setupTest(t *testing.T) {
	t.Helper()
	initLogOnce.Do(func() {
		logger.InitLogger(logging.ERROR)
	})
	t.Setenv("WGO_EXTERNAL_IP", "203.0.113.10")
	require.NoError(t, database.InitDB(filepath.Join(t.TempDir(), "wgo.db")))
	settings := SettingService{}
	require.NoError(t, settings.EnsureDefaults())
}
