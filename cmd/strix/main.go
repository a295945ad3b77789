package main

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"sort"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/strixlab/strix/internal/analyzers"
	"github.com/strixlab/strix/internal/log"
	"github.com/strixlab/strix/internal/model"
	"github.com/strixlab/strix/internal/service"
	"github.com/strixlab/strix/internal/store"
)

var (
	userConfigPath string // /default/config/path/strix on given OS
	configPath     string // actual config file used (if loaded)
	config         model.Config

	flagConfigFilePath string // value of --config flag
	flagVerbose        bool   // value of --verbose flag
)

func init() {
	d, err := os.UserConfigDir()
	if err != nil {
		panic(err)
	}
	userConfigPath = filepath.Join(d, "strix")
}

func main() {
	rootCmd.PersistentFlags().StringVar(&flagConfigFilePath, "config", "", "Config file to load - default is strix.yaml in current directory or in "+userConfigPath)
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "verbose logging")

	// never print messages
	rootCmd.SilenceErrors = true

	// parse or create a config, setup logging
	rootCmd.PersistentPreRunE = initStrix

	analyzeCmd.AddCommand(analyzeObservableCmd)
	analyzeCmd.AddCommand(analyzeFileCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		slog.Error("strix failed", "err", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "strix",
	Short:        "Multi-analyzer triage engine for files and observables",
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "run keeps the store open and reaps stale jobs until interrupted",
	RunE:  doRun,
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "analyze executes all configured analyzers against one target",
}

var analyzeObservableCmd = &cobra.Command{
	Use:   "observable <value> [classification]",
	Short: "analyze an IP, URL, domain or hash",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  doAnalyzeObservable,
}

var analyzeFileCmd = &cobra.Command{
	Use:   "file <path>",
	Short: "analyze a file sample",
	Args:  cobra.ExactArgs(1),
	RunE:  doAnalyzeFile,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "version provides version of a strix",
	Run: func(cmd *cobra.Command, args []string) {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			fmt.Println("strix: version info not available")
		}

		if configPath != "" {
			fmt.Printf("config: %s\n", configPath)
		}
		fmt.Printf("strix: %s\n", info.Main.Version)
		fmt.Printf("go:    %s\n", info.GoVersion)
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				fmt.Printf("commit: %s\n", s.Value)
			case "vcs.time":
				fmt.Printf("date:   %s\n", s.Value)
			}
		}
		fmt.Println()
	},
}

func doRun(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	attrs := slog.Group("strix",
		slog.String("cmd", "run"),
		slog.Int("pid", os.Getpid()),
	)
	ctx = log.ContextAttrs(ctx, attrs)

	st, err := store.New(ctx, config.Store.Path)
	if err != nil {
		return fmt.Errorf("opening job store: %w", err)
	}
	defer func() {
		_ = st.Close()
	}()

	if config.Service.Reaper == nil {
		slog.InfoContext(ctx, "no reaper configured, idling until interrupted")
		<-ctx.Done()
		return nil
	}

	reaper, err := service.NewReaper(ctx, st, *config.Service.Reaper)
	if err != nil {
		return err
	}
	reaper.Start()
	defer func() {
		if err := reaper.Shutdown(); err != nil {
			slog.ErrorContext(ctx, "shutting down reaper has failed", "error", err)
		}
	}()

	<-ctx.Done()
	return nil
}

func doAnalyzeObservable(cmd *cobra.Command, args []string) error {
	classification := "url"
	if len(args) == 2 {
		classification = args[1]
	}
	return analyzeTarget(cmd.Context(), model.ObservableTarget(args[0], classification))
}

func doAnalyzeFile(cmd *cobra.Command, args []string) error {
	path, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}
	sum, err := md5sum(path)
	if err != nil {
		return fmt.Errorf("hashing %s: %w", path, err)
	}
	return analyzeTarget(cmd.Context(), model.FileTarget(path, filepath.Base(path), sum))
}

func analyzeTarget(ctx context.Context, target model.Target) error {
	attrs := slog.Group("strix",
		slog.String("cmd", "analyze"),
		slog.Int("pid", os.Getpid()),
	)
	ctx = log.ContextAttrs(ctx, attrs)

	st, err := store.New(ctx, config.Store.Path)
	if err != nil {
		return fmt.Errorf("opening job store: %w", err)
	}
	defer func() {
		_ = st.Close()
	}()

	registry := analyzers.Builtins()
	toExecute := enabledAnalyzers(registry)
	if len(toExecute) == 0 {
		return fmt.Errorf("no analyzer is enabled in %s", configPath)
	}

	job := model.Job{
		ID:                   uuid.New().String(),
		Status:               model.StatusPending,
		Target:               target,
		AnalyzersToExecute:   toExecute,
		ReceivedAnalysisTime: time.Now().UTC(),
	}
	if err := st.Create(ctx, job); err != nil {
		return fmt.Errorf("creating job: %w", err)
	}

	executor := service.NewExecutor(registry, config.Analyzers, st)
	final, err := executor.Run(ctx, job)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(final)
}

// enabledAnalyzers intersects the registry with analyzers enabled in
// the configuration.
func enabledAnalyzers(registry *service.Registry) []string {
	var names []string
	for _, name := range registry.Names() {
		cfg, ok := config.Analyzers[name]
		if ok && cfg.Enabled {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func md5sum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = f.Close()
	}()
	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func initStrix(cmd *cobra.Command, _ []string) error {
	if envConfig, ok := os.LookupEnv("STRIXCONFIG"); ok {
		configPath = envConfig
	} else if flagConfigFilePath != "" {
		configPath = flagConfigFilePath
	} else {
		for _, d := range []string{userConfigPath, "."} {
			path := filepath.Join(d, "strix.yaml")
			if exists(path) {
				configPath = path
				break
			}
		}
	}

	// store default configuration
	if configPath == "" {
		config = model.DefaultConfig()
		configPath = filepath.Join(userConfigPath, "strix.yaml")
		err := os.MkdirAll(filepath.Dir(configPath), 0755)
		if err != nil {
			return fmt.Errorf("creating directory %s: %w", filepath.Dir(configPath), err)
		}

		f, err := os.Create(configPath)
		if err != nil {
			return fmt.Errorf("creating file %s: %w", configPath, err)
		}
		defer func() {
			_ = f.Close()
		}()
		enc := yaml.NewEncoder(f)
		err = enc.Encode(config)
		if err != nil {
			return fmt.Errorf("storing configuration: %w", err)
		}
		if err := enc.Close(); err != nil {
			return fmt.Errorf("storing configuration: %w", err)
		}
	} else {
		f, err := os.Open(configPath)
		if err != nil {
			return fmt.Errorf("opening config file: %w", err)
		}
		defer func() {
			_ = f.Close()
		}()
		cfg, err := model.LoadConfig(f)
		if err != nil {
			for _, d := range model.CueErrDetails(err) {
				slog.Error(d)
			}
			return fmt.Errorf("parsing config: %w", err)
		}
		config = *cfg
	}

	// --verbose has a precedence over config file
	if flagVerbose {
		config.Service.Verbose = true
	}

	slog.SetDefault(log.New(os.Stderr, config.Service.Verbose))

	slog.Debug("strix run", "configPath", configPath)
	return nil
}

func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
