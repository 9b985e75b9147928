package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"goa.design/clue/log"

	"github.com/lectern-ai/lectern/classroom"
	"github.com/lectern-ai/lectern/config"
	factsredis "github.com/lectern-ai/lectern/facts/redis"
	"github.com/lectern-ai/lectern/scheduler"
	"github.com/lectern-ai/lectern/summarize"
	"github.com/lectern-ai/lectern/summarize/anthropic"
	"github.com/lectern-ai/lectern/summarize/openai"
)

func main() {
	var (
		configF = flag.String("config", "", "Path to YAML configuration file")
		dbgF    = flag.Bool("debug", false, "Enable debug logs")
	)
	flag.Parse()

	// Setup logger.
	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if *dbgF {
		ctx = log.Context(ctx, log.WithDebug())
		log.Debugf(ctx, "debug logs enabled")
	}

	cfg, err := config.Load(*configF)
	if err != nil {
		log.Fatalf(ctx, err, "load configuration")
	}

	rdb := goredis.NewClient(&goredis.Options{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf(ctx, err, "connect to redis at %s", cfg.Redis.Addr)
	}
	store, err := factsredis.New(rdb)
	if err != nil {
		log.Fatalf(ctx, err, "build fact store")
	}

	chat, err := buildChatClient(cfg.Chat)
	if err != nil {
		log.Fatalf(ctx, err, "build chat client")
	}
	summarizer, err := summarize.NewLLM(summarize.LLMOptions{Chat: chat, RateLimit: cfg.Chat.RateLimit})
	if err != nil {
		log.Fatalf(ctx, err, "build summarizer")
	}

	svc, err := classroom.New(classroom.Options{
		Store:             store,
		Summarizer:        summarizer,
		SubscribeCapacity: cfg.Events.QueueCapacity,
	})
	if err != nil {
		log.Fatalf(ctx, err, "build classroom service")
	}

	sched, err := scheduler.New(scheduler.Options{
		Store:         store,
		Summarizer:    summarizer,
		TickInterval:  time.Duration(cfg.Scheduler.TickSeconds) * time.Second,
		MinInterval:   time.Duration(cfg.Scheduler.MinIntervalSeconds) * time.Second,
		MinChars:      cfg.Scheduler.MinChars,
		MaxUtterances: cfg.Scheduler.MaxUtterances,
	})
	if err != nil {
		log.Fatalf(ctx, err, "build scheduler")
	}
	sched.Start(ctx)
	log.Print(ctx, log.KV{K: "msg", V: "lectern started"}, log.KV{K: "redis", V: cfg.Redis.Addr})

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Print(ctx, log.KV{K: "msg", V: "shutting down"})

	stopCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := sched.Stop(stopCtx); err != nil {
		log.Errorf(ctx, err, "stop scheduler")
	}
	if err := svc.Shutdown(stopCtx); err != nil {
		log.Errorf(ctx, err, "drain final reports")
	}
	if err := rdb.Close(); err != nil {
		log.Errorf(ctx, err, "close redis")
	}
}

func buildChatClient(cfg config.Chat) (summarize.ChatClient, error) {
	switch cfg.Backend {
	case "anthropic":
		key := cfg.APIKey
		if key == "" {
			key = os.Getenv("ANTHROPIC_API_KEY")
		}
		return anthropic.NewFromAPIKey(key, cfg.Model)
	default:
		key := cfg.APIKey
		if key == "" {
			key = os.Getenv("OPENAI_API_KEY")
		}
		return openai.NewFromAPIKey(key, cfg.Model)
	}
}
