package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"feedbridge/internal/bot"
	"feedbridge/internal/browser"
	"feedbridge/internal/config"
	"feedbridge/internal/dispatch"
	"feedbridge/internal/feed"
	"feedbridge/internal/runner"
	"feedbridge/internal/sessions"
)

const version = "0.3.0"

var (
	cfgFile string
	verbose bool

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "feedbridge",
	Short: "Bridge a chat feed to a command-line AI assistant",
	Long: `feedbridge watches a browser-rendered chat feed, forwards new messages
to an external assistant CLI, and posts the replies back into the feed.

Configuration comes from a YAML file plus FEEDBRIDGE_* environment
overrides (double underscore separates path segments, e.g.
FEEDBRIDGE_CHANNEL__URL).`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: runBridge,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the feedbridge version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("feedbridge %s\n", version)
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration commands",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat(cfgFile); err == nil {
			return fmt.Errorf("%s already exists", cfgFile)
		}
		if err := config.Default().Save(cfgFile); err != nil {
			return err
		}
		fmt.Printf("wrote %s\n", cfgFile)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "config.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(versionCmd, configCmd)
}

func runBridge(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	br := browser.New(browser.Config{
		Bin:               cfg.Browser.Bin,
		DebuggerURL:       cfg.Browser.DebuggerURL,
		UserDataDir:       cfg.Browser.UserDataDir,
		Headless:          cfg.Browser.Headless,
		ViewportWidth:     cfg.Browser.ViewportWidth,
		ViewportHeight:    cfg.Browser.ViewportHeight,
		NavigationTimeout: cfg.NavigationTimeout(),
		InputSelectors:    cfg.Selectors.Input,
	}, logger.Named("browser"))

	if err := br.Start(ctx); err != nil {
		return fmt.Errorf("start browser: %w", err)
	}
	defer func() { _ = br.Close() }()

	if err := br.Navigate(ctx, cfg.Channel.URL); err != nil {
		return fmt.Errorf("open channel: %w", err)
	}

	selectors := feed.SelectorSet{
		Content:   cfg.Selectors.Content,
		Container: cfg.Selectors.Container,
		Username:  cfg.Selectors.Username,
		Quote:     cfg.Selectors.Quote,
		Timestamp: cfg.Selectors.Timestamp,
	}
	source := feed.NewDOMSource(br, selectors, logger.Named("feed"))

	// The feed container must render before the first poll; the channel
	// may sit behind a login the user completes in a headed browser.
	if err := br.WaitVisible(ctx, source.Selectors().Content, cfg.NavigationTimeout()); err != nil {
		return fmt.Errorf("feed not visible: %w", err)
	}

	reader := feed.NewReader(source, cfg.Bot.Name, cfg.Bot.StartupLimit, logger.Named("feed"))

	store := sessions.NewStore(cfg.Assistant.SessionFile, logger.Named("sessions"))
	if err := store.Load(); err != nil {
		return fmt.Errorf("load sessions: %w", err)
	}

	invoker := runner.New(runner.Config{
		Binary:   cfg.Assistant.Binary,
		Model:    cfg.Assistant.Model,
		MaxTurns: cfg.Assistant.MaxTurns,
		Timeout:  cfg.AssistantTimeout(),
	}, logger.Named("runner"))

	dispatcher := dispatch.New(br, dispatch.Config{
		MaxMessageLength: cfg.Bot.MaxMessageLength,
		Delay:            cfg.Bot.ResponseDelay,
		TestingMode:      cfg.Bot.TestingMode,
		Filter:           cfg.Bot.Filter,
	}, logger.Named("dispatch"))

	b := bot.New(bot.Config{
		ChannelKey:       cfg.Channel.Key,
		ConversationMode: cfg.Bot.ConversationMode,
		PollInterval:     cfg.PollInterval(),
		ErrorBackoff:     cfg.ErrorBackoff(),
	}, reader, invoker, store, dispatcher, logger.Named("bot"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return b.Run(gctx)
	})
	g.Go(func() error {
		// Closing the browser on shutdown unblocks any in-flight DOM
		// operation so the loop can observe cancellation.
		<-gctx.Done()
		_ = br.Close()
		return gctx.Err()
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
