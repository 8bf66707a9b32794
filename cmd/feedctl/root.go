package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"nostr-feed/internal/config"
	"nostr-feed/internal/logging"
)

type rootFlags struct {
	configPath  string
	verbose     bool
	logFormat   string
	metricsAddr string
	relays      []string
	timeout     time.Duration
}

type appKey struct{}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:   "feedctl",
		Short: "Query nostr relays through a pooled, cached client core",
		Long: `feedctl opens pooled relay connections, merges what they return into one
timeline, indexes replies and resolves profiles and relay documents through
batched, cached loaders.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(flags.configPath)
			if err != nil {
				return err
			}
			if flags.verbose {
				cfg.Log.Level = "debug"
			}
			if flags.logFormat != "" {
				cfg.Log.Format = flags.logFormat
			}
			if flags.metricsAddr != "" {
				cfg.Metrics.Addr = flags.metricsAddr
			}
			if len(flags.relays) > 0 {
				cfg.Relays.Default = flags.relays
				if err := cfg.Validate(); err != nil {
					return err
				}
			}
			logger := logging.Init(cfg.Log.Format, cfg.Log.Level)

			a, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey{}, a))
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if a, ok := cmd.Context().Value(appKey{}).(*app); ok {
				return a.Close()
			}
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", "", "config file (default $NOSTR_FEED_CONFIG or "+config.DefaultPath+")")
	pf.BoolVarP(&flags.verbose, "verbose", "v", false, "Enable verbose logging")
	pf.StringVar(&flags.logFormat, "log-format", "", "log output: console or json (default from config)")
	pf.StringVar(&flags.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while running")
	pf.StringSliceVar(&flags.relays, "relay", nil, "query these relays instead of the configured ones")
	pf.DurationVar(&flags.timeout, "timeout", 5*time.Second, "how long to wait for relays")

	root.AddCommand(
		newTimelineCmd(flags),
		newThreadCmd(flags),
		newProfileCmd(flags),
		newRelayInfoCmd(flags),
	)
	return root
}

// appFrom returns the app built by the root command
func appFrom(cmd *cobra.Command) *app {
	a, ok := cmd.Context().Value(appKey{}).(*app)
	if !ok {
		panic("feedctl: command run without root pre-run")
	}
	return a
}

func withTimeout(cmd *cobra.Command, flags *rootFlags) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), flags.timeout)
}

func logDone(log *slog.Logger, what string, start time.Time, attrs ...any) {
	log.Debug(fmt.Sprintf("%s done", what), append(attrs, "duration_ms", time.Since(start).Milliseconds())...)
}
