// Package fortiguard classifies URLs and domains against the
// FortiGuard web filter.
package fortiguard

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"

	"github.com/strixlab/strix/internal/analyzer"
	"github.com/strixlab/strix/internal/model"
)

const defaultBaseURL = "https://www.fortiguard.com"

var categoryRx = regexp.MustCompile(`(?:Category: )([\w\s]+)`)

type Analyzer struct {
	baseURL    string
	httpClient *http.Client
}

// New builds the analyzer. Param "base_url" overrides the FortiGuard
// endpoint, used by tests.
func New(cfg model.AnalyzerConfig) (*Analyzer, error) {
	return &Analyzer{
		baseURL:    cfg.Param("base_url", defaultBaseURL),
		httpClient: &http.Client{},
	}, nil
}

func (a *Analyzer) Name() string { return "fortiguard" }

func (a *Analyzer) Run(ctx context.Context, target model.Target) (map[string]any, error) {
	if target.Kind != model.TargetKindObservable || target.Observable == nil {
		return nil, analyzer.Runf("fortiguard supports observables only")
	}

	url := fmt.Sprintf("%s/webfilter?q=%s", a.baseURL, target.Observable.Value)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, analyzer.WrapRun(err)
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, analyzer.WrapRun(err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return nil, analyzer.Runf("fortiguard returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, analyzer.WrapRun(err)
	}

	category := ""
	if m := categoryRx.FindSubmatch(body); m != nil {
		category = string(m[1])
	}
	return map[string]any{"category": category}, nil
}
