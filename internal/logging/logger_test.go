package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInitializeDisabledIsNoop(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Initialize(filepath.Join(dir, "logs"), false, "info"))
	defer CloseAll()

	Get(CategoryScheduler).Info("hello %s", "world")

	_, err := os.Stat(filepath.Join(dir, "logs"))
	require.True(t, os.IsNotExist(err), "logs directory should not be created when debug mode is off")
}

func TestInitializeWritesCategoryFile(t *testing.T) {
	dir := t.TempDir()
	logsDir := filepath.Join(dir, "logs")
	require.NoError(t, Initialize(logsDir, true, "debug"))
	defer CloseAll()

	Get(CategoryDetector).Info("change detected for %s", "example.com")

	data, err := os.ReadFile(filepath.Join(logsDir, "detector.log"))
	require.NoError(t, err)
	require.Contains(t, string(data), "change detected for example.com")
}

func TestLevelFiltering(t *testing.T) {
	dir := t.TempDir()
	logsDir := filepath.Join(dir, "logs")
	require.NoError(t, Initialize(logsDir, true, "warn"))
	defer CloseAll()

	Get(CategoryStore).Debug("should not appear")
	Get(CategoryStore).Warn("should appear")

	data, err := os.ReadFile(filepath.Join(logsDir, "store.log"))
	require.NoError(t, err)
	require.NotContains(t, string(data), "should not appear")
	require.Contains(t, string(data), "should appear")
}

func TestAuditLogRecordsEvents(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.jsonl")

	audit, err := NewAuditLog(path)
	require.NoError(t, err)
	defer audit.Close()

	audit.Record(AuditEvent{
		Type:   AuditJobSucceeded,
		SiteID: "site-1",
		Fields: map[string]interface{}{"duration_ms": 120},
	})

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "job_succeeded")
	require.Contains(t, string(data), "site-1")
}

func TestAuditLogDisabledIsNoop(t *testing.T) {
	audit, err := NewAuditLog("")
	require.NoError(t, err)
	audit.Record(AuditEvent{Type: AuditAlert})
	require.NoError(t, audit.Close())
}
