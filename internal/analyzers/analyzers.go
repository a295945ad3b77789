// Package analyzers wires the built-in analyzers into a registry.
package analyzers

import (
	"github.com/strixlab/strix/internal/analyzer"
	"github.com/strixlab/strix/internal/analyzers/fortiguard"
	"github.com/strixlab/strix/internal/analyzers/sandbox"
	"github.com/strixlab/strix/internal/model"
	"github.com/strixlab/strix/internal/service"
)

// Builtins returns a registry with every analyzer shipped in this
// binary.
func Builtins() *service.Registry {
	r := service.NewRegistry()
	r.Register("fortiguard", func(cfg model.AnalyzerConfig) (analyzer.Analyzer, error) {
		return fortiguard.New(cfg)
	})
	r.Register("sandbox", func(cfg model.AnalyzerConfig) (analyzer.Analyzer, error) {
		return sandbox.New(cfg)
	})
	return r
}
