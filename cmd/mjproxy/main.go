package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/trueai-org/midjourney-proxy-sub002/pkg/cache"
	"github.com/trueai-org/midjourney-proxy-sub002/pkg/config"
	"github.com/trueai-org/midjourney-proxy-sub002/pkg/discord"
	"github.com/trueai-org/midjourney-proxy-sub002/pkg/gateway"
	"github.com/trueai-org/midjourney-proxy-sub002/pkg/handler"
	"github.com/trueai-org/midjourney-proxy-sub002/pkg/instance"
	"github.com/trueai-org/midjourney-proxy-sub002/pkg/logger"
	"github.com/trueai-org/midjourney-proxy-sub002/pkg/notify"
	"github.com/trueai-org/midjourney-proxy-sub002/pkg/pool"
	"github.com/trueai-org/midjourney-proxy-sub002/pkg/sender"
	"github.com/trueai-org/midjourney-proxy-sub002/pkg/store"
)

func main() {
	configPath := flag.String("config", "config.json", "path to the config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "mjproxy: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}

	logger.SetLevel(logger.ParseLevel(cfg.Logging.Level))
	if cfg.Logging.FileEnabled {
		if err := logger.EnableFileLogging(cfg.Logging.FilePath); err != nil {
			return fmt.Errorf("file logging: %w", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	accounts, err := openStore(cfg)
	if err != nil {
		return err
	}

	endpoints := discord.DefaultEndpoints()
	if cfg.Discord.GatewayServer != "" {
		endpoints.Gateway = cfg.Discord.GatewayServer
		endpoints.WSS = cfg.Discord.GatewayServer
	}
	if cfg.Discord.RestServer != "" {
		endpoints.Rest = cfg.Discord.RestServer
	}
	if cfg.Discord.CDNServer != "" {
		endpoints.CDN = cfg.Discord.CDNServer
	}

	snd := sender.NewInteractions(endpoints)
	notifier := notify.New(cfg.Notify.DefaultHook, time.Duration(cfg.Notify.TimeoutSeconds)*time.Second)
	dedup := cache.NewDedup(0, 0)

	instances := pool.New(pool.Rule(cfg.Routing.Rule))
	enabled := 0
	for _, ac := range cfg.Accounts {
		if !ac.Enabled() {
			continue
		}
		account := accountFromConfig(ac)
		if err := accounts.Save(ctx, account); err != nil {
			return fmt.Errorf("seed account %s: %w", account.ID, err)
		}
		inst := instance.New(account, snd)
		inst.SetNotifier(notifier)
		pipe := handler.NewPipeline(inst, dedup, notifier)
		link := gateway.NewLink(account, accounts, pipe, gateway.Options{Endpoints: endpoints})
		inst.AttachLink(link)
		instances.Add(inst)
		enabled++
	}
	if enabled == 0 {
		return fmt.Errorf("no enabled accounts configured")
	}

	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{Addr: cfg.Metrics.Listen, Handler: mux}
		go func() {
			logger.InfoCF("main", "metrics listening", map[string]interface{}{
				"addr": cfg.Metrics.Listen,
			})
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.ErrorCF("main", "metrics server failed", map[string]interface{}{
					"error": err.Error(),
				})
			}
		}()
	}

	logger.InfoCF("main", "mjproxy started", map[string]interface{}{
		"accounts": enabled,
		"rule":     cfg.Routing.Rule,
	})

	err = instances.Run(ctx)

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		metricsServer.Shutdown(shutdownCtx)
		cancel()
	}
	logger.InfoC("main", "mjproxy stopped")
	return err
}

func openStore(cfg *config.Config) (store.Store, error) {
	if cfg.Redis.URL == "" {
		return store.NewMemoryStore(), nil
	}
	st, err := store.NewRedisStore(cfg.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("redis store: %w", err)
	}
	return st, nil
}

func accountFromConfig(ac config.AccountConfig) *store.Account {
	account := &store.Account{
		ID:             ac.ID,
		GuildID:        ac.GuildID,
		ChannelID:      ac.ChannelID,
		UserToken:      ac.UserToken,
		BotToken:       ac.BotToken,
		UserAgent:      ac.UserAgent,
		Proxy:          ac.Proxy,
		CoreSize:       ac.CoreSize,
		QueueSize:      ac.QueueSize,
		TimeoutMinutes: ac.TimeoutMinutes,
		Interval:       ac.Interval,
		Weight:         ac.Weight,
		Sort:           ac.Sort,
		Enable:         ac.Enabled(),
	}
	if account.CoreSize <= 0 {
		account.CoreSize = 3
	}
	if account.QueueSize <= 0 {
		account.QueueSize = 10
	}
	if account.TimeoutMinutes <= 0 {
		account.TimeoutMinutes = 5
	}
	return account
}
