package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lastRecord(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[len(lines)-1]), &rec))
	return rec
}

func TestCorrelationID(t *testing.T) {
	ctx := WithCorrelationID(context.Background())
	id := GetCorrelationID(ctx)
	assert.Len(t, id, 36)
	assert.Equal(t, id, GetCorrelationID(WithCorrelationID(ctx)))

	ctx = SetCorrelationID(context.Background(), "req-123")
	assert.Equal(t, "req-123", GetCorrelationID(ctx))
	assert.Equal(t, "", GetCorrelationID(context.Background()))
}

func TestLoggerAddsCorrelationID(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerTo(&buf, LevelInfo)

	l.Info(SetCorrelationID(context.Background(), "req-123"), "hello", "k", "v")
	rec := lastRecord(t, &buf)
	assert.Equal(t, "hello", rec["msg"])
	assert.Equal(t, "req-123", rec["correlation_id"])
	assert.Equal(t, "v", rec["k"])

	l.Info(context.Background(), "plain")
	assert.NotContains(t, lastRecord(t, &buf), "correlation_id")
}

func TestLoggerLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerTo(&buf, "WARN")

	l.Info(context.Background(), "dropped")
	assert.Empty(t, buf.String())

	l.Warn(context.Background(), "kept")
	assert.Equal(t, "kept", lastRecord(t, &buf)["msg"])
}

func TestLogClickAccountingMasksClient(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerTo(&buf, LevelDebug)
	ctx := context.Background()

	l.LogClickAccounting(ctx, "append", "link-1", "203.0.113.42", errors.New("disk full"))
	rec := lastRecord(t, &buf)
	assert.Equal(t, "ERROR", rec["level"])
	assert.Equal(t, "203***.42", rec["client"])
	assert.Equal(t, "disk full", rec["error"])
	assert.NotContains(t, buf.String(), "203.0.113.42")

	l.LogClickAccounting(ctx, "link_counter", "link-1", "::1", nil)
	rec = lastRecord(t, &buf)
	assert.Equal(t, "DEBUG", rec["level"])
	assert.Equal(t, "***", rec["client"])
}

func TestLogResolutionOmitsDestination(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerTo(&buf, LevelInfo)

	l.LogResolution(context.Background(), "a1b2c3d4", "resolved_direct")
	rec := lastRecord(t, &buf)
	assert.Equal(t, "a1b2c3d4", rec["code"])
	assert.Equal(t, "resolved_direct", rec["outcome"])
	assert.Len(t, rec, 5)
}
