package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/ytget/ytrelay"
	"github.com/ytget/ytrelay/config"
	"github.com/ytget/ytrelay/internal/logger"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "ytrelay",
		Short:         "HTTP relay for YouTube video metadata and downloads",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runServe,
	}

	root.PersistentFlags().String("config", "", "Config file (default ./ytrelay.{yaml,json,toml})")
	root.PersistentFlags().String("log-level", "", "Log level: TRACE, DEBUG, INFO, WARN, ERROR")
	root.PersistentFlags().String("log-format", "", "Log format: text, json, color")
	bindServeFlags(root.Flags())

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE:  runServe,
	}
	bindServeFlags(serve.Flags())

	root.AddCommand(serve, newVersionCmd())
	return root
}

func bindServeFlags(fs *pflag.FlagSet) {
	fs.String("addr", ":8000", "Listen address")
	fs.Bool("buffered", false, "Buffer the whole video before responding")
	fs.Bool("expose-errors", true, "Return upstream error messages to clients")
	fs.Duration("progress-interval", 500*time.Millisecond, "Progress event interval")
	fs.String("js-engine", "goja", "JavaScript engine for signatures: goja, otto")
	fs.String("proxy", "", "Proxy URL for outbound requests")
	fs.Bool("fingerprint", false, "Use a browser TLS fingerprint for outbound requests")
	fs.String("botguard", "off", "Botguard mode: off, auto, force")
	fs.String("botguard-script", "", "Botguard solver script")
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "ytrelay", ytrelay.Version)
		},
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	// Bootstrap logging from the environment until the config is loaded.
	if l, err := logger.CreateLoggerFromConfig(logger.EnvironmentConfig()); err == nil {
		logger.SetGlobalLogger(l)
	}

	v := config.New()
	if err := config.BindFlags(v, cmd.Flags()); err != nil {
		return err
	}
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(v, path)
	if err != nil {
		return err
	}

	l, err := logger.CreateLoggerFromConfig(&cfg.Log)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	logger.SetGlobalLogger(l)

	app, err := ytrelay.New(cfg, nil)
	if err != nil {
		return err
	}
	return app.Run(cmd.Context())
}
