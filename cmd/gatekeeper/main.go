package main

import (
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/redis/go-redis/v9"

	waitingroom "github.com/antoinedelia/waiting-room"
	"github.com/antoinedelia/waiting-room/pkg/config"
	"github.com/antoinedelia/waiting-room/pkg/flagstore"
	"github.com/antoinedelia/waiting-room/pkg/pass"
	"github.com/antoinedelia/waiting-room/pkg/wrlog"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		wrlog.Fatalf("failed to load config: %+v", err)
	}

	origin, err := url.Parse(cfg.OriginURL)
	if err != nil {
		wrlog.Fatalf("invalid origin URL %s: %+v", cfg.OriginURL, err)
	}
	proxy := httputil.NewSingleHostReverseProxy(origin)

	rc := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	cached := flagstore.NewCached(
		flagstore.NewRedisFlagStore(rc),
		cfg.FlagName,
		flagstore.WithCacheTTL(cfg.FlagCacheTTL),
	)
	signer := pass.NewSigner([]byte(cfg.PassSecret), pass.WithTTL(cfg.PassTTL))
	gatekeeper := waitingroom.NewGatekeeper(cached, signer, cfg.WaitingRoomURL,
		waitingroom.WithPassCookieName(cfg.PassCookieName))

	wrlog.Infof("gatekeeper listening on %s, protecting %s", cfg.GatekeeperAddr, cfg.OriginURL)
	if err := http.ListenAndServe(cfg.GatekeeperAddr, gatekeeper.Handler(proxy)); err != nil {
		wrlog.Fatalf("gatekeeper stopped: %+v", err)
	}
}
