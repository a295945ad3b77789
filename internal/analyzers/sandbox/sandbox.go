// Package sandbox delegates file analysis to an external docker worker:
// the sample is POSTed as multipart, the submission response is
// validated and the result is obtained by polling the worker with the
// request key it returned.
package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"

	"github.com/strixlab/strix/internal/analyzer"
	"github.com/strixlab/strix/internal/model"
	"github.com/strixlab/strix/internal/worker"
)

type Analyzer struct {
	name       string
	client     *worker.Client
	httpClient *http.Client
}

// New builds the analyzer from its worker config. An absent worker
// section is a configuration error, the analyzer cannot do anything
// locally.
func New(cfg model.AnalyzerConfig) (*Analyzer, error) {
	const name = "sandbox"
	if cfg.Worker == nil {
		return nil, analyzer.Configurationf("%s: worker configuration is missing", name)
	}
	client, err := worker.NewClient(name, *cfg.Worker)
	if err != nil {
		return nil, err
	}
	return &Analyzer{
		name:       name,
		client:     client,
		httpClient: &http.Client{},
	}, nil
}

func (a *Analyzer) Name() string { return a.name }

func (a *Analyzer) Run(ctx context.Context, target model.Target) (map[string]any, error) {
	if target.Kind != model.TargetKindFile || target.File == nil {
		return nil, analyzer.Runf("%s supports files only", a.name)
	}

	key, err := a.submit(ctx, *target.File)
	if err != nil {
		return nil, err
	}

	data, err := a.client.PollForResult(ctx, key)
	if err != nil {
		return nil, err
	}

	// the worker reports its payload as a JSON string under "report"
	if raw, ok := data["report"].(string); ok {
		var decoded map[string]any
		if err := json.Unmarshal([]byte(raw), &decoded); err == nil {
			data["report"] = decoded
		}
	}
	return data, nil
}

// submit uploads the sample and returns the request key to poll for.
func (a *Analyzer) submit(ctx context.Context, file model.File) (string, error) {
	f, err := os.Open(file.Path)
	if err != nil {
		return "", analyzer.WrapRun(err)
	}
	defer func() {
		_ = f.Close()
	}()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("filetoscan", file.Name)
	if err != nil {
		return "", fmt.Errorf("building multipart request: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", analyzer.WrapRun(err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("closing multipart request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.client.URL(), &buf)
	if err != nil {
		return "", fmt.Errorf("building submit request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", analyzer.WrapRun(err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if err := a.client.CheckResponse(resp); err != nil {
		return "", err
	}

	var body struct {
		Key string `json:"key"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", analyzer.Runf("decoding %s submit response: %v", a.name, err)
	}
	if body.Key == "" {
		return "", analyzer.Runf("%s submit response has no key", a.name)
	}
	return body.Key, nil
}
