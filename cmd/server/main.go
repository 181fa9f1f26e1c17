package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	cache "github.com/Code-Hex/go-generics-cache"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	waitingroom "github.com/antoinedelia/waiting-room"
	"github.com/antoinedelia/waiting-room/pkg/config"
	"github.com/antoinedelia/waiting-room/pkg/flagstore"
	"github.com/antoinedelia/waiting-room/pkg/messaging"
	"github.com/antoinedelia/waiting-room/pkg/pass"
	"github.com/antoinedelia/waiting-room/pkg/statestore"
	"github.com/antoinedelia/waiting-room/pkg/wrlog"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		wrlog.Fatalf("failed to load config: %+v", err)
	}

	redisAddr := cfg.RedisAddr
	if os.Getenv("USE_MINIREDIS") != "" {
		mr := miniredis.NewMiniRedis()
		if err := mr.Start(); err != nil {
			wrlog.Fatalf("failed to start miniredis: %+v", err)
		}
		redisAddr = mr.Addr()
	}
	wrlog.Debugf("connecting to redis at %s", redisAddr)
	rc := redis.NewClient(&redis.Options{
		Addr:     redisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	store := statestore.NewStoreWithWatermarkCache(
		statestore.NewRedisStore(rc),
		cache.New[string, uint64](),
	)
	channel := messaging.NewRedisChannel(rc)
	flags := flagstore.NewRedisFlagStore(rc)
	signer := pass.NewSigner([]byte(cfg.PassSecret), pass.WithTTL(cfg.PassTTL))

	wr, err := waitingroom.NewWaitingRoom(store, channel, flags, signer,
		waitingroom.WithFrontendOptions(
			waitingroom.WithFlagName(cfg.FlagName),
			waitingroom.WithEntryTTL(cfg.EntryTTL),
		),
		waitingroom.WithProcessorOptions(
			waitingroom.WithBatchSize(cfg.BatchSize),
			waitingroom.WithReceiveWait(cfg.ReceiveWait),
		),
	)
	if err != nil {
		wrlog.Fatalf("failed to build waiting room: %+v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := wr.Start(ctx, cfg.Addr, cfg.TickInterval); err != nil {
		wrlog.Fatalf("waiting room stopped: %+v", err)
	}
}
