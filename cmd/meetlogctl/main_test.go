package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"isRecording":true,"meetingId":"abc-defg-hij","startedAt":1709283600000,"messageCount":3,"state":"recording","locating":false}`))
	})
	mux.HandleFunc("POST /api/recording/start", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"started":false,"pending":true}`))
	})
	mux.HandleFunc("GET /api/export", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("format") != "csv" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"no messages to export"}`))
			return
		}
		w.Header().Set("Content-Disposition", `attachment; filename="meet-chat_abc-defg-hij_2024-03-01_09-00-00.csv"`)
		_, _ = w.Write([]byte("Timestamp,Sender,Content\n"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func run(t *testing.T, fn func(*cobra.Command, []string) error) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)
	cmd.SetContext(context.Background())
	err := fn(cmd, nil)
	return out.String(), err
}

// The commands share package-level flag variables, so these tests run serially.

func TestStatusCommand(t *testing.T) {
	serverURL = newServer(t).URL
	timeout = 5 * time.Second

	out, err := run(t, runStatus)
	require.NoError(t, err)
	if !strings.Contains(out, "recording") || !strings.Contains(out, "abc-defg-hij") || !strings.Contains(out, "Messages:  3") {
		t.Errorf("Unexpected status output:\n%s", out)
	}
}

func TestStartCommandPending(t *testing.T) {
	serverURL = newServer(t).URL
	timeout = 5 * time.Second

	out, err := run(t, runStart)
	require.NoError(t, err)
	if !strings.Contains(out, "Waiting for the chat panel") {
		t.Errorf("Expected pending message, got %q", out)
	}
}

func TestExportCommand(t *testing.T) {
	serverURL = newServer(t).URL
	timeout = 5 * time.Second
	dir := t.TempDir()

	exportFormat = "csv"
	exportOut = filepath.Join(dir, "out.csv")
	out, err := run(t, runExport)
	require.NoError(t, err)
	if !strings.Contains(out, "out.csv") {
		t.Errorf("Expected saved path in output, got %q", out)
	}
	data, err := os.ReadFile(exportOut)
	require.NoError(t, err)
	if !strings.HasPrefix(string(data), "Timestamp,Sender,Content") {
		t.Errorf("Unexpected export content %q", data)
	}

	exportFormat = "md"
	_, err = run(t, runExport)
	if err == nil || !strings.Contains(err.Error(), "no messages to export") {
		t.Errorf("Expected server error to surface, got %v", err)
	}
}
