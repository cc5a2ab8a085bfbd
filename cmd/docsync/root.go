package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/aretw0/docsync/internal/platform"
	"github.com/aretw0/docsync/pkg/adapters/fs"
)

var (
	verbose    bool
	configPath string
	flags      fileConfig
	settings   fileConfig
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "docsync",
	Short: "Inspect and synchronize docsync snapshot directories",
	Long: `docsync operates on the snapshot files written by the docsync engine.
It lists what is stored locally, pulls collections from a remote API and
pushes the operations that were recorded while offline.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
		slog.SetDefault(logger)

		path := configPath
		if path == "" {
			path = locateConfig()
		}
		settings = flags
		if path != "" {
			file, err := loadConfig(path)
			if err != nil {
				return err
			}
			settings.merge(file)
			slog.Debug("loaded config", "path", path)
		}
		settings.merge(fileConfig{Dir: ".", Format: fs.DefaultFormat})
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main().
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	pf.StringVar(&configPath, "config", "", "Path to docsync.yaml (default: nearest one above the working directory)")
	pf.StringVarP(&flags.Dir, "dir", "d", "", "Snapshot directory")
	pf.StringVar(&flags.URL, "url", "", "Origin of the remote API")
	pf.StringVar(&flags.BaseURL, "base-url", "", "Path prefix of collection endpoints (default /api)")
	pf.StringVar(&flags.Format, "format", "", "Snapshot format: .json, .yaml or .cbor")
	pf.StringVar(&flags.AppID, "app-id", "", "Stamp created records with this appId")
	pf.StringVar(&flags.IDField, "id-field", "", "Canonical identity field (default _id)")
}

// openStore opens the snapshot directory without going through an engine.
func openStore() (*fs.Store, error) {
	return fs.NewStore(fs.Config{
		Dir:       settings.Dir,
		Format:    settings.Format,
		Logger:    slog.Default(),
		MustExist: true,
	})
}

// openEngine builds an engine over the snapshot directory and the remote.
func openEngine() (*platform.Engine, error) {
	opts := []platform.Option{
		platform.WithDir(settings.Dir),
		platform.WithCodec(settings.Format),
		platform.WithDevSafety(false),
		platform.WithUnauthenticated(true),
		platform.WithLogger(slog.Default()),
	}
	if settings.URL != "" {
		opts = append(opts, platform.WithRemote(settings.URL))
	}
	if settings.BaseURL != "" {
		opts = append(opts, platform.WithBaseURL(settings.BaseURL))
	}
	if settings.AppID != "" {
		opts = append(opts, platform.WithAppID(settings.AppID))
	}
	if settings.IDField != "" {
		opts = append(opts, platform.WithIDField(settings.IDField))
	}
	for k, v := range settings.Headers {
		opts = append(opts, platform.WithHeader(k, v))
	}
	return platform.New(opts...)
}

func requireRemote() error {
	if settings.URL == "" {
		return fmt.Errorf("no remote configured: pass --url or set url in %s", platform.ConfigFile)
	}
	return nil
}
