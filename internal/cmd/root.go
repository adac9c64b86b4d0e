// Package cmd wires configuration, detection, and reconciliation into the
// cfddns command line interface.
package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/quarterhalt/cfddns/internal/config"
	"github.com/quarterhalt/cfddns/internal/detect"
	"github.com/quarterhalt/cfddns/internal/provider"
	"github.com/quarterhalt/cfddns/internal/reconcile"
)

var (
	verbose  bool
	interval time.Duration

	logger = logrus.New()

	rootCmd = &cobra.Command{
		Use:   "cfddns",
		Short: "Reconcile Cloudflare DNS records against the current public IP",
		Long: `cfddns detects the host's current public IPv4/IPv6 addresses and
reconciles a set of Cloudflare DNS records against them, updating only
what has actually changed. It is designed to be invoked repeatedly by an
external scheduler such as a Kubernetes CronJob.

The exit code is 0 only if every configured domain reconciled cleanly.`,
		Version:       "1.0.0",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				logger.SetLevel(logrus.DebugLevel)
			}
		},
		RunE: runReconcile,
	}
)

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.Flags().DurationVar(&interval, "interval", 0, "keep running and repeat the pass on this interval (minimum 1m); default is one pass")
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(detectCmd)

	// Load environment variables from a .env file in the current directory.
	// A missing file is fine - the environment can be set in the shell or
	// by the orchestrator's secret mounts.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Warning: error loading .env file: %v\n", err)
	}
}

func runReconcile(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	runner, err := buildRunner(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	report, err := runner.Run(ctx)
	if err != nil {
		return err
	}
	if interval > 0 {
		runner.RunEvery(ctx, interval)
		return nil
	}
	if n := report.Failures(); n > 0 {
		return fmt.Errorf("%d record(s) failed to reconcile", n)
	}
	return nil
}

func buildRunner(cfg *config.Config) (*reconcile.Runner, error) {
	token, err := cfg.ResolveToken()
	if err != nil {
		return nil, err
	}

	client, err := provider.NewCloudflare(token,
		provider.WithLogger(logrus.NewEntry(logger)),
		provider.WithTimeout(cfg.RequestTimeout),
		provider.WithMaxRetries(cfg.MaxRetries),
		provider.WithLimiter(rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)),
	)
	if err != nil {
		return nil, err
	}

	detector, err := buildDetector(cfg)
	if err != nil {
		return nil, err
	}

	return &reconcile.Runner{
		Client:   client,
		Detector: detector,
		Logger:   logrus.NewEntry(logger),
		Domains:  cfg.Domains,
		Proxied:  cfg.Proxied,
		TTL:      cfg.TTL,
		Workers:  cfg.Workers,
	}, nil
}

func buildDetector(cfg *config.Config) (*detect.Detector, error) {
	ipv4, err := detect.ParseSource(cfg.IP4Provider, detect.IPv4)
	if err != nil {
		return nil, fmt.Errorf("IP4_PROVIDER: %w", err)
	}
	ipv6, err := detect.ParseSource(cfg.IP6Provider, detect.IPv6)
	if err != nil {
		return nil, fmt.Errorf("IP6_PROVIDER: %w", err)
	}
	return detect.New(ipv4, ipv6, cfg.RequestTimeout, logrus.NewEntry(logger), http.DefaultClient), nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
