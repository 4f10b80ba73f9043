package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/joescharf/prt/internal/credentials"
	"github.com/joescharf/prt/internal/github"
	"github.com/joescharf/prt/internal/ingest"
	"github.com/joescharf/prt/internal/logger"
	"github.com/joescharf/prt/internal/output"
	"github.com/joescharf/prt/internal/stats"
	"github.com/joescharf/prt/internal/store"
	"github.com/joescharf/prt/internal/workflow"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui        *output.UI
	dataStore store.Store
	zlog      *zap.Logger
	creds     credentials.Store
	ghClient  github.Client

	verbose bool
	dryRun  bool
)

var rootCmd = &cobra.Command{
	Use:   "prt",
	Short: "PR Tracker - track GitHub pull requests through review",
	Long: `prt tracks GitHub pull requests through a review workflow.
It ingests PRs by URL or owner/repo#N reference, moves them across the
Waiting, Reviewing, Action, Approved and Archived columns, records scores,
and summarizes review throughput per author.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
}

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date

	err := rootCmd.Execute()
	closeDeps()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig, initDeps)

	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return rootRun(cmd)
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVarP(&dryRun, "dry-run", "n", false, "Show what would happen without making changes")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/prt/config.yaml)")
}

func initConfig() {
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		dir, err := defaultConfigDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot find home directory: %v\n", err)
			os.Exit(1)
		}
		viper.AddConfigPath(dir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("PRT")
	viper.AutomaticEnv()

	dir, _ := defaultConfigDir()
	setDefaults(dir)

	_ = viper.ReadInConfig()
}

// setDefaults registers every config key with its default, rooted at dir.
func setDefaults(dir string) {
	viper.SetDefault("state_dir", dir)
	viper.SetDefault("db_path", filepath.Join(dir, "prt.db"))
	viper.SetDefault("github.backend", github.BackendAPI)
	viper.SetDefault("github.api_url", "")
	viper.SetDefault("github.token", "")
	viper.SetDefault("github.timeout", 30*time.Second)
	viper.SetDefault("keyring.service", "prt")
	viper.SetDefault("keyring.account", "github_token")
	viper.SetDefault("log.level", "warn")
	viper.SetDefault("log.file", "")
	viper.SetDefault("serve.port", 8080)
	viper.SetDefault("serve.request_timeout", 60*time.Second)
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose
	ui.DryRun = dryRun

	// Store, logger and GitHub client are created lazily so config and
	// version commands work without a database.
}

func closeDeps() {
	if dataStore != nil {
		_ = dataStore.Close()
		dataStore = nil
	}
	if zlog != nil {
		_ = zlog.Sync()
	}
}

// rootRun handles `prt` with no subcommand: print the board summary.
func rootRun(cmd *cobra.Command) error {
	s, err := getStore()
	if err != nil {
		return cmd.Help()
	}
	return dashboardRun(cmd.Context(), s)
}

func dashboardRun(ctx context.Context, s store.Store) error {
	if ctx == nil {
		ctx = context.Background()
	}
	counts, err := stats.NewService(s).StatusCounts(ctx)
	if err != nil {
		return err
	}
	printStatusCounts(counts)
	fmt.Fprintln(ui.Out)

	prs, err := s.ListPullRequests(ctx, store.PullRequestFilter{})
	if err != nil {
		return fmt.Errorf("list pull requests: %w", err)
	}
	if len(prs) == 0 {
		ui.Info("No pull requests tracked yet. Add one with: prt pr add <url>")
		return nil
	}
	printPullRequestTable(prs)
	return nil
}

// getStore returns the shared store, initializing it on first call.
func getStore() (store.Store, error) {
	if dataStore != nil {
		return dataStore, nil
	}

	dbPath := viper.GetString("db_path")
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	ctx := rootCmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	dataStore = s
	return dataStore, nil
}

// getLogger returns the shared diagnostics logger.
func getLogger() *zap.Logger {
	if zlog != nil {
		return zlog
	}
	level := viper.GetString("log.level")
	if verbose {
		level = "debug"
	}
	l, err := logger.New(logger.Config{Level: level, File: viper.GetString("log.file")})
	if err != nil {
		ui.Warning("Logger disabled: %v", err)
		l = zap.NewNop()
	}
	zlog = l
	return zlog
}

// getCredentials returns the token store: the configured token first, then the keyring.
func getCredentials() credentials.Store {
	if creds != nil {
		return creds
	}
	from := "config"
	if _, ok := os.LookupEnv("PRT_GITHUB_TOKEN"); ok {
		from = "env: PRT_GITHUB_TOKEN"
	}
	creds = credentials.NewChain(
		&credentials.Static{Token: viper.GetString("github.token"), From: from},
		credentials.NewKeyring(viper.GetString("keyring.service"), viper.GetString("keyring.account")),
	)
	return creds
}

// getGitHubClient returns the configured GitHub backend.
func getGitHubClient() (github.Client, error) {
	if ghClient != nil {
		return ghClient, nil
	}
	c, err := github.New(github.Options{
		Backend: viper.GetString("github.backend"),
		BaseURL: viper.GetString("github.api_url"),
		Timeout: viper.GetDuration("github.timeout"),
	})
	if err != nil {
		return nil, err
	}
	ghClient = c
	return ghClient, nil
}

func getPipeline() (*ingest.Pipeline, error) {
	s, err := getStore()
	if err != nil {
		return nil, err
	}
	c, err := getGitHubClient()
	if err != nil {
		return nil, err
	}
	return ingest.New(s, c, getCredentials(), getLogger()), nil
}

func getEngine() (*workflow.Engine, error) {
	s, err := getStore()
	if err != nil {
		return nil, err
	}
	return workflow.New(s, getLogger()), nil
}
