package logger

import (
	"os"
	"path/filepath"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitWritesToRotatingFile(t *testing.T) {
	defer log.SetOutput(os.Stderr)
	defer log.SetLevel(log.InfoLevel)

	file := filepath.Join(t.TempDir(), "engine.log")
	Init(Options{Level: "debug", Format: "json", File: file, MaxSizeMB: 1, MaxBackups: 1, MaxAgeDays: 1})

	assert.Equal(t, log.DebugLevel, log.GetLevel())
	log.WithField("user_id", "u1").Info("hello")

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"user_id":"u1"`)
}

func TestInitFallsBackToInfo(t *testing.T) {
	defer log.SetOutput(os.Stderr)
	Init(Options{Level: "nonsense"})
	assert.Equal(t, log.InfoLevel, log.GetLevel())
}
