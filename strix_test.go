package strix_test

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/strixlab/strix/internal/model"
	"github.com/stretchr/testify/require"
)

var strixPath string

func TestMain(m *testing.M) {
	flag.Parse()
	if testing.Short() {
		slog.Warn("integration tests with -short are ignored")
		os.Exit(0)
	}

	if !isExecutable("strix-ci") {
		slog.Warn("cannot locate strix-ci binary: run go build -race -cover -covermode=atomic -o strix-ci ./cmd/strix/ first, skipping integration tests")
		os.Exit(0)
	}

	var err error
	strixPath, err = filepath.Abs("strix-ci")
	if err != nil {
		slog.Error("can't get abspath for strix-ci", "error", err)
		os.Exit(1)
	}
	coverDir, err := filepath.Abs("coverage")
	if err != nil {
		slog.Error("can't get value for GOCOVERDIR for strix-ci", "error", err)
		os.Exit(1)
	}
	err = rmRfMkdirp(coverDir)
	if err != nil {
		slog.Error("can't reset GOCOVERDIR for strix-ci", "error", err, "coverdir", coverDir)
		os.Exit(1)
	}
	err = os.Setenv("GOCOVERDIR", coverDir)
	if err != nil {
		slog.Error("can't set GOCOVERDIR env variable", "error", err)
		os.Exit(1)
	}

	os.Exit(m.Run())
}

func TestAnalyzeObservable(t *testing.T) {
	t.Chdir(t.TempDir())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<h4 class="info_title">Category: Malicious Websites</h4>`))
	}))
	t.Cleanup(srv.Close)

	config := fmt.Sprintf(`
version: 0
store:
    path: "strix.db"
service:
    mode: "manual"
analyzers:
    fortiguard:
        enabled: true
        params:
            base_url: %q
`, srv.URL)
	creat(t, "strix.yaml", []byte(config))

	ctx, cancel := context.WithTimeout(t.Context(), 60*time.Second)
	t.Cleanup(cancel)
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, strixPath, "analyze", "observable", "example.com", "domain", "--config", "strix.yaml")
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	if err != nil {
		t.Logf("%s", stderr.String())
		require.NoError(t, err)
	}

	// store the $TEST_NAME json
	creat(t, t.Name()+".json", stdout.Bytes())

	var job model.Job
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &job))
	require.Equal(t, model.StatusReportedWithoutFails, job.Status)
	require.Equal(t, []string{"fortiguard"}, job.AnalyzersToExecute)
	require.Len(t, job.AnalysisReports, 1)
	require.True(t, job.AnalysisReports[0].Success)
	require.Equal(t, "Malicious Websites", job.AnalysisReports[0].Report["category"])
	require.NotNil(t, job.FinishedAnalysisTime)
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().Perm()&0111 != 0
}

func rmRfMkdirp(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove directory: %w", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	return nil
}

func creat(t *testing.T, path string, content []byte) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, f.Close())
	}()
	_, err = f.Write(content)
	require.NoError(t, err)
	err = f.Sync()
	require.NoError(t, err)
}
