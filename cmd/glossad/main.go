package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"
	"time"

	"glossa/internal/cache"
	"glossa/internal/classifier"
	"glossa/internal/config"
	"glossa/internal/corpus"
	"glossa/internal/daemon"
	"glossa/internal/jobs"
	"glossa/internal/killswitch"
	"glossa/internal/lexicon"
	"glossa/internal/logging"
	"glossa/internal/ratelimit"
	"glossa/internal/rules"
	"glossa/internal/services/ai"
	"glossa/internal/workflow"
)

func main() {
	configPath := flag.String("config", "", "configuration file path")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, _, _, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		log.Fatalf("ensure directories: %v", err)
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}

	jobStore, err := jobs.Open(cfg)
	if err != nil {
		log.Fatalf("open job store: %v", err)
	}
	cacheStore, err := cache.Open(cfg)
	if err != nil {
		log.Fatalf("open cache store: %v", err)
	}
	defer cacheStore.Close()
	lexiconStore, err := lexicon.Open(cfg)
	if err != nil {
		log.Fatalf("open lexicon store: %v", err)
	}
	defer lexiconStore.Close()
	corpora, err := corpus.Open(cfg)
	if err != nil {
		log.Fatalf("open corpus store: %v", err)
	}
	defer corpora.Close()

	flags, err := killswitch.NewFlagStore(
		cfg.Paths.FlagPath,
		time.Duration(cfg.KillSwitch.TTLMinutes)*time.Minute,
		time.Duration(cfg.KillSwitch.CooldownMinutes)*time.Minute,
	)
	if err != nil {
		log.Fatalf("open kill-switch flag store: %v", err)
	}
	stop := killswitch.NewSwitch(flags, jobStore,
		time.Duration(cfg.KillSwitch.CancelTimeoutSeconds)*time.Second, logger)

	limiter := ratelimit.New(
		cfg.RateLimit.MaxRequests,
		time.Duration(cfg.RateLimit.WindowMs)*time.Millisecond,
		time.Duration(cfg.RateLimit.MinDelayMs)*time.Millisecond,
	)
	aiClient := ai.NewClient(ai.FromAppConfig(cfg))
	engine := rules.NewEngine(cfg, lexiconStore)
	tiered := classifier.New(cfg, cacheStore, engine, lexiconStore, aiClient, limiter, logger)

	executor := workflow.NewExecutor(cfg, jobStore, corpora, cacheStore, tiered, aiClient, limiter, stop, logger)
	manager := workflow.NewManager(cfg, jobStore, executor, logger)

	d, err := daemon.New(cfg, jobStore, manager, logger)
	if err != nil {
		log.Fatalf("create daemon: %v", err)
	}
	defer d.Close()

	if err := d.Start(ctx); err != nil {
		log.Fatalf("start daemon: %v", err)
	}

	<-ctx.Done()
	logger.Info("glossad shutting down")
}
