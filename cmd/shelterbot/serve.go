package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"shelterbot/internal/channel"
	"shelterbot/internal/config"
	"shelterbot/internal/logger"
)

func serveCmd() *cobra.Command {
	var noPrefetch bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			log, closeLog, err := logger.New(cfg.General)
			if err != nil {
				return err
			}
			defer closeLog()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := buildApp(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()

			if a.cloudwatch != nil {
				flushed := make(chan struct{})
				go func() {
					a.cloudwatch.Run(ctx)
					close(flushed)
				}()
				defer func() {
					stop()
					<-flushed
				}()
			}

			jobs, err := a.schedule(ctx, log)
			if err != nil {
				return err
			}
			jobs.Start()
			defer jobs.Stop()

			if !noPrefetch {
				go func() {
					if err := a.shelter.Prefetch(ctx); err != nil {
						log.Warn("initial shelter prefetch failed", "err", err)
					}
				}()
			}

			wcfg := channel.WebhookConfig{
				Addr:            cfg.Addr(),
				StaticDir:       cfg.Server.StaticDir,
				ChannelSecret:   cfg.Line.ChannelSecret,
				VerifySignature: cfg.Line.VerifySignature,
				MaxBodyBytes:    cfg.Server.MaxBodyBytes,
				RateLimit:       float64(cfg.Server.RateLimitPerSecond),
				RateBurst:       cfg.Server.RateLimitBurst,
				Logger:          log,
			}
			if a.collector != nil {
				wcfg.MetricsPath = cfg.Metrics.Endpoint
				wcfg.Metrics = a.collector.Handler()
			}

			log.Info("shelterbot starting",
				"version", version,
				"addr", wcfg.Addr,
				"base_url", cfg.Server.BaseURL,
				"journal", a.journal != nil,
			)
			return channel.NewWebhook(wcfg, a.router).Start(ctx)
		},
	}
	cmd.Flags().BoolVar(&noPrefetch, "no-prefetch", false, "skip downloading today's shelter photo at startup")
	return cmd
}
