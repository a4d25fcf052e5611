package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/robfig/cron/v3"

	"shelterbot/internal/answer"
	"shelterbot/internal/classifier"
	"shelterbot/internal/config"
	"shelterbot/internal/journal"
	"shelterbot/internal/metrics"
	"shelterbot/internal/provider"
	"shelterbot/internal/reply"
	"shelterbot/internal/router"
	"shelterbot/internal/shelter"
	"shelterbot/internal/storage"
)

// app holds every wired component of a running bot.
type app struct {
	cfg        *config.Config
	line       *provider.Line
	collector  *metrics.MetricsCollector
	cloudwatch *metrics.CloudWatchRecorder
	shelter    *shelter.Service
	journal    *journal.Store
	router     *router.Router
}

func (a *app) Close() {
	if a.journal != nil {
		a.journal.Close()
	}
}

// buildApp wires the components described by cfg. The journal is opened
// only when enabled and must be released with Close.
func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg}

	line, err := provider.NewLine(provider.LineConfig{
		AccessToken: cfg.Line.ChannelAccessToken,
		APIBase:     cfg.Line.APIBase,
		DataAPIBase: cfg.Line.DataAPIBase,
		Timeout:     config.Seconds(cfg.Line.TimeoutSeconds, 15*time.Second),
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}
	a.line = line

	var recorders metrics.Multi
	if cfg.Metrics.Enabled {
		a.collector = metrics.NewMetricsCollector("shelterbot")
		recorders = append(recorders, metrics.NewPrometheus(a.collector))
	}
	if cfg.Metrics.CloudWatchNamespace != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("load aws config for cloudwatch: %w", err)
		}
		a.cloudwatch = metrics.NewCloudWatchRecorder(
			cloudwatch.NewFromConfig(awsCfg),
			cfg.Metrics.CloudWatchNamespace,
			map[string]string{"Service": "shelterbot"},
			logger,
		)
		recorders = append(recorders, a.cloudwatch)
	}
	var recorder metrics.Recorder = metrics.Nop{}
	if len(recorders) > 0 {
		recorder = recorders
	}

	local, err := storage.NewDiskStore(cfg.Server.StaticDir)
	if err != nil {
		return nil, fmt.Errorf("static dir: %w", err)
	}
	remote, err := storage.NewS3ObjectStore(ctx, storage.S3Config{
		Bucket:   cfg.Shelter.Bucket,
		Endpoint: cfg.Shelter.Endpoint,
		Region:   cfg.Shelter.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("object store: %w", err)
	}
	cache := storage.NewCache(storage.CacheConfig{
		Local:    local,
		Remote:   remote,
		Timeout:  config.Seconds(cfg.Shelter.TimeoutSeconds, 30*time.Second),
		Observer: recorder,
		Logger:   logger,
	})

	a.shelter = shelter.New(shelter.Config{
		Cache:       cache,
		KeyPrefix:   cfg.Shelter.KeyPrefix,
		BaseURL:     cfg.Server.BaseURL,
		MapLinkText: cfg.Shelter.MapLinkText,
		Location:    cfg.Location(),
		Logger:      logger,
	})

	steps, err := reply.LoadGuide(cfg.Guide.File)
	if err != nil {
		return nil, err
	}
	commands := reply.NewCommandTable(a.shelter, reply.Guide(steps, cfg.Server.BaseURL))

	cls := classifier.NewBreaker(
		classifier.NewHTTP(classifier.HTTPConfig{
			URL:        cfg.Classifier.URL,
			HTTPClient: provider.SharedHTTPClient(config.Seconds(cfg.Classifier.TimeoutSeconds, 60*time.Second)),
			Logger:     logger,
		}),
		classifier.BreakerConfig{
			MaxFailures: cfg.Classifier.Breaker.MaxFailures,
			OpenTimeout: config.Seconds(cfg.Classifier.Breaker.OpenSeconds, 0),
			Interval:    config.Seconds(cfg.Classifier.Breaker.IntervalSeconds, 0),
		},
		logger,
	)

	forwarder := answer.New(answer.Config{
		URL:          cfg.Answer.URL,
		FallbackText: cfg.Answer.FallbackText,
		HTTPClient:   provider.SharedHTTPClient(config.Seconds(cfg.Answer.TimeoutSeconds, 30*time.Second)),
		Breaker: answer.BreakerConfig{
			MaxFailures: cfg.Answer.Breaker.MaxFailures,
			OpenTimeout: config.Seconds(cfg.Answer.Breaker.OpenSeconds, 0),
			Interval:    config.Seconds(cfg.Answer.Breaker.IntervalSeconds, 0),
		},
		Observer: recorder,
		Logger:   logger,
	})

	var deliveries router.Journal
	if cfg.Journal.Enabled {
		store, err := journal.Open(cfg.Journal.DBPath, logger)
		if err != nil {
			return nil, fmt.Errorf("journal: %w", err)
		}
		a.journal = store
		deliveries = store
	}

	a.router = router.New(router.Config{
		Replier:        a.line,
		Content:        a.line,
		Classifier:     cls,
		Answerer:       forwarder,
		Commands:       commands,
		StaticDir:      local.Root(),
		BaseURL:        cfg.Server.BaseURL,
		ErrorReplyText: cfg.Router.ErrorReplyText,
		Metrics:        recorder,
		Journal:        deliveries,
		Logger:         logger,
	})
	return a, nil
}

// schedule registers the daily shelter prefetch and journal pruning.
func (a *app) schedule(ctx context.Context, logger *slog.Logger) (cronRunner, error) {
	var runners cronRunner
	if spec := a.cfg.Shelter.PrefetchSchedule; spec != "" {
		c, err := a.shelter.Schedule(ctx, spec, config.Seconds(a.cfg.Shelter.TimeoutSeconds, 30*time.Second))
		if err != nil {
			return nil, err
		}
		runners = append(runners, c)
	}
	if a.journal != nil && a.cfg.Journal.RetentionDays > 0 {
		c := cron.New(cron.WithLocation(a.cfg.Location()))
		retention := time.Duration(a.cfg.Journal.RetentionDays) * 24 * time.Hour
		if _, err := c.AddFunc("@daily", func() {
			n, err := a.journal.Prune(ctx, time.Now().Add(-retention))
			if err != nil {
				logger.Warn("journal prune failed", "err", err)
				return
			}
			logger.Info("journal pruned", "removed", n)
		}); err != nil {
			return nil, err
		}
		runners = append(runners, c)
	}
	return runners, nil
}

type cronRunner []*cron.Cron

func (r cronRunner) Start() {
	for _, c := range r {
		c.Start()
	}
}

// Stop stops every scheduler and waits for running jobs.
func (r cronRunner) Stop() {
	for _, c := range r {
		<-c.Stop().Done()
	}
}
