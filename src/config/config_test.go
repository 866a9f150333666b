package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigCacheSettings(t *testing.T) {
	t.Setenv("PROCESSING_RULES_PATH", "")
	t.Setenv("REPORT_CACHE_TTL", "5m")
	t.Setenv("REPORT_CACHE_CLEANUP_INTERVAL", "")
	t.Setenv("SESSION_TTL", "45m")
	t.Setenv("SESSION_CLEANUP_INTERVAL", "")

	LoadConfig()
	require.NotNil(t, Cfg)
	assert.Equal(t, 5*time.Minute, Cfg.ReportCacheTTL)
	assert.Equal(t, 30*time.Minute, Cfg.ReportCacheCleanupInterval)
	assert.Equal(t, 45*time.Minute, Cfg.SessionTTL)
	assert.Equal(t, 10*time.Minute, Cfg.SessionCleanupInterval)
}
