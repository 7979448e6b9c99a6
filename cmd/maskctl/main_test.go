package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raaihank/sentinel-mask/internal/privacy"
	"github.com/raaihank/sentinel-mask/internal/stats"
)

func TestMaskThenUnmask(t *testing.T) {
	dir := t.TempDir()
	mapPath := filepath.Join(dir, "map.json")

	var masked bytes.Buffer
	err := runMask([]string{"-scope", "cli", "-map-out", mapPath, "-log-level", "error"},
		strings.NewReader("write to bob@x.io"), &masked)
	require.NoError(t, err)
	assert.Equal(t, "write to [EMAIL_MASK_cli_0]", masked.String())

	data, err := os.ReadFile(mapPath)
	require.NoError(t, err)
	var mm privacy.MaskMap
	require.NoError(t, json.Unmarshal(data, &mm))
	assert.Equal(t, "[EMAIL_MASK_cli_0]", mm[privacy.ClassEmail]["bob@x.io"])

	var restored bytes.Buffer
	err = runUnmask([]string{"-maps", mapPath, "-log-level", "error"},
		strings.NewReader("reply sent to [EMAIL_MASK_cli_0]"), &restored)
	require.NoError(t, err)
	assert.Equal(t, "reply sent to bob@x.io", restored.String())
}

func TestMaskRejectsBadScope(t *testing.T) {
	err := runMask([]string{"-scope", "a]b"}, strings.NewReader("x"), &bytes.Buffer{})
	assert.Error(t, err)
}

func TestUnmaskRequiresMaps(t *testing.T) {
	err := runUnmask(nil, strings.NewReader("x"), &bytes.Buffer{})
	assert.Error(t, err)

	err = runUnmask([]string{"-maps", filepath.Join(t.TempDir(), "missing.json")}, strings.NewReader("x"), &bytes.Buffer{})
	assert.Error(t, err)
}

func TestBatchCommand(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "in.csv")
	require.NoError(t, os.WriteFile(input, []byte("id,text\nr1,ann@y.org\n"), 0o600))

	var out bytes.Buffer
	err := runBatch([]string{"-input", input, "-workers", "2", "-log-level", "error"}, &out)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"r1","masked_text":"[EMAIL_MASK_r1_0]","tokens":1}`, strings.TrimSpace(out.String()))

	assert.Error(t, runBatch(nil, &bytes.Buffer{}))
}

func TestStatsCommand(t *testing.T) {
	mr := miniredis.RunT(t)
	t.Setenv("SENTINEL_STATS_REDIS_URL", "redis://"+mr.Addr()+"/0")

	var out bytes.Buffer
	require.NoError(t, runStats([]string{"-days", "2", "-log-level", "error"}, &out))

	var days []stats.DailyStats
	require.NoError(t, json.Unmarshal(out.Bytes(), &days))
	assert.Len(t, days, 2)

	mr.HSet("sentinel-mask:stats:2026-01-01", "op:mask", "1")
	require.NoError(t, runStats([]string{"-clear", "-log-level", "error"}, &bytes.Buffer{}))
	assert.False(t, mr.Exists("sentinel-mask:stats:2026-01-01"))
}
