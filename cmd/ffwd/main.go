package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/ffwdhq/ffwd/internal/httpapi"
	"github.com/ffwdhq/ffwd/internal/job"
	"github.com/ffwdhq/ffwd/internal/log"
	"github.com/ffwdhq/ffwd/internal/model"
	"github.com/ffwdhq/ffwd/internal/service"
	"github.com/ffwdhq/ffwd/internal/storage"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	userConfigPath string // /default/config/path/ffwd on given OS
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
	userConfigPath = filepath.Join(d, "ffwd")
}

func main() {
	// root flags
	rootCmd.PersistentFlags().StringVar(&flagConfigFilePath, "config", "", "Config file to load - default is ffwd.yaml in current directory or in "+userConfigPath)
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "verbose logging")

	// never print messages
	rootCmd.SilenceErrors = true

	// parse or create a config, setup logging
	rootCmd.PersistentPreRunE = initFfwd

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		slog.Error("ffwd failed", "err", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "ffwd",
	Short:        "Async transcoding service wrapping an ffmpeg binary",
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "run command reads the configuration and starts the HTTP api",
	RunE:  doRun,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "version provides version of ffwd",
	Run: func(cmd *cobra.Command, args []string) {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			fmt.Println("ffwd: version info not available")
		}

		if configPath != "" {
			fmt.Printf("config: %s\n", configPath)
		}
		fmt.Printf("ffwd: %s\n", info.Main.Version)
		fmt.Printf("go:   %s\n", info.GoVersion)
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				fmt.Printf("commit: %s\n", s.Value)
			case "vcs.time":
				fmt.Printf("date:   %s\n", s.Value)
			case "vcs.modified":
				fmt.Printf("dirty:  %s\n", s.Value)
			}
		}
		fmt.Println()
	},
}

func doRun(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	attrs := slog.Group("ffwd",
		slog.String("cmd", "run"),
		slog.Int("pid", os.Getpid()),
	)
	ctx = log.ContextAttrs(ctx, attrs)

	ws, err := storage.NewWorkspace(config.DataDir)
	if err != nil {
		return fmt.Errorf("preparing data dir %s: %w", config.DataDir, err)
	}

	store := job.NewMemStore()
	manager := service.NewManager(config, store, ws)

	sweeper, err := service.NewSweeper(ctx, store, ws, config.Retention, config.SweepInterval)
	if err != nil {
		return fmt.Errorf("starting sweeper: %w", err)
	}
	sweeper.Start()
	defer func() {
		if err := sweeper.Shutdown(); err != nil {
			slog.WarnContext(ctx, "shutting down sweeper", "err", err)
		}
	}()

	srv := &http.Server{
		Addr:              config.Listen,
		Handler:           httpapi.New(config, store, manager).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return manager.Run(ctx)
	})
	g.Go(func() error {
		slog.InfoContext(ctx, "listening", "addr", config.Listen)
		err := srv.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func initFfwd(cmd *cobra.Command, _ []string) error {
	if envConfig, ok := os.LookupEnv("FFWDCONFIG"); ok {
		configPath = envConfig
	} else if flagConfigFilePath != "" {
		configPath = flagConfigFilePath
	} else {
		for _, d := range []string{userConfigPath, "."} {
			path := filepath.Join(d, "ffwd.yaml")
			if exists(path) {
				configPath = path
				break
			}
		}
	}

	// store default configuration
	if configPath == "" {
		configPath = filepath.Join(userConfigPath, "ffwd.yaml")
		if err := model.WriteDefault(configPath); err != nil {
			return err
		}
	}

	var err error
	config, err = model.Load(configPath)
	if err != nil {
		return err
	}

	// --verbose has a precedence over config file
	if flagVerbose {
		config.Verbose = true
	}

	slog.SetDefault(log.New(config.Verbose))

	slog.Debug("ffwd run", "configPath", configPath)
	slog.Debug("ffwd run", "config", config)
	return nil
}

func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info != nil && info.Mode().IsRegular()
}
