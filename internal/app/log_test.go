package app

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestSnapHandlerFormat(t *testing.T) {
	var buf bytes.Buffer
	h := &snapHandler{w: &buf, opID: "20250615T103000Z"}
	logger := slog.New(h)

	logger.Info("snapshot created", "id", "2025-06-15_10-30-00", "kind", "full")

	line := buf.String()
	fields := strings.Split(strings.TrimSuffix(line, "\n"), "\t")
	if len(fields) != 6 {
		t.Fatalf("fields = %q", fields)
	}
	if _, err := time.Parse("2006-01-02T15:04:05Z", fields[0]); err != nil {
		t.Errorf("timestamp %q: %v", fields[0], err)
	}
	if fields[1] != "INFO" || fields[2] != "20250615T103000Z" || fields[3] != "snapshot created" {
		t.Errorf("fields = %q", fields)
	}
	if fields[4] != "id=2025-06-15_10-30-00" || fields[5] != "kind=full" {
		t.Errorf("attrs = %q", fields[4:])
	}
}

func TestSnapHandlerWithAttrs(t *testing.T) {
	var buf bytes.Buffer
	h := &snapHandler{w: &buf, opID: "op"}
	logger := slog.New(h).With("instance", "paperless")

	logger.Warn("domain root missing", "domain", "export")

	line := buf.String()
	if !strings.Contains(line, "instance=paperless") {
		t.Errorf("pre-set attr missing: %q", line)
	}
	if !strings.Contains(line, "domain=export") {
		t.Errorf("per-record attr missing: %q", line)
	}
	if !strings.Contains(line, "WARN") {
		t.Errorf("level missing: %q", line)
	}
}

func TestSnapHandlerEnabledForAllLevels(t *testing.T) {
	h := &snapHandler{}
	for _, level := range []slog.Level{slog.LevelDebug, slog.LevelInfo, slog.LevelWarn, slog.LevelError} {
		if !h.Enabled(context.Background(), level) {
			t.Errorf("level %s disabled", level)
		}
	}
}
