package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"eventpay_echo/internal/client"
	"eventpay_echo/internal/config"
	"eventpay_echo/internal/reconcile"
)

var Version = "dev"

type globalOptions struct {
	apiURL  string
	token   string
	verbose bool
}

func main() {
	cfg := config.Load()
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:     "paycheck",
		Short:   "Create, watch and reconcile event payments from the terminal",
		Version: Version,
	}
	rootCmd.PersistentFlags().StringVar(&opts.apiURL, "api", envOr("PAYCHECK_API_URL", cfg.AppURL), "Payment API base URL")
	rootCmd.PersistentFlags().StringVar(&opts.token, "token", os.Getenv("PAYCHECK_TOKEN"), "Firebase ID token")
	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log engine activity")

	rootCmd.AddCommand(payCmd(cfg, opts))
	rootCmd.AddCommand(watchCmd(cfg, opts))
	rootCmd.AddCommand(syncCmd(cfg, opts))
	rootCmd.AddCommand(verifyCryptoCmd(cfg, opts))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newEngine(cfg *config.Config, opts *globalOptions) *reconcile.Engine {
	logger := zap.NewNop()
	if opts.verbose {
		if l, err := zap.NewDevelopment(); err == nil {
			logger = l
		}
	}
	api := client.New(opts.apiURL, opts.token)
	return reconcile.NewEngine(api, api, reconcile.Options{
		PollInterval: cfg.PollInterval,
		PollWindow:   cfg.PollWindow,
		Logger:       logger,
	})
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
