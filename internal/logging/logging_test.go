package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestOpenLogFileEmptyPath(t *testing.T) {
	file, err := OpenLogFile("")
	require.NoError(t, err)
	assert.Nil(t, file)
	base := zap.NewNop()
	assert.Same(t, base, AttachFileLogger(base, nil, false))
}

func TestAttachFileLoggerWritesJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "terminal.log")
	file, err := OpenLogFile(path)
	require.NoError(t, err)

	logger := AttachFileLogger(zap.NewNop(), file, false)
	logger.Debug("hidden")
	logger.Info("sync finished", zap.Int("synced", 3))
	require.NoError(t, file.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "sync finished", entry["msg"])
	assert.EqualValues(t, 3, entry["synced"])
}
