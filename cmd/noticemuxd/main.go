// Command noticemuxd serves shared SSE multiplexers and tab bus channels
// over websockets.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/kbukum/noticemux/bootstrap"
	"github.com/kbukum/noticemux/config"
	"github.com/kbukum/noticemux/gateway"
	"github.com/kbukum/noticemux/logger"
	"github.com/kbukum/noticemux/mux"
	"github.com/kbukum/noticemux/observability"
	"github.com/kbukum/noticemux/redis"
	"github.com/kbukum/noticemux/upstream"
	"github.com/kbukum/noticemux/version"
)

const serviceName = "noticemuxd"

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()
	if *showVersion {
		fmt.Println(version.Get())
		return
	}
	if err := run(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", serviceName, err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	var cfg Config
	if err := config.Load(serviceName, &cfg); err != nil {
		return err
	}
	app, err := bootstrap.NewApp(&cfg)
	if err != nil {
		return err
	}
	logger.RegisterDefaults("mux", "tabbus", "gateway", "upstream", "redis")

	if err := setupTelemetry(ctx, app); err != nil {
		return err
	}

	dialer, err := upstream.NewHTTPDialer(cfg.Upstream, logger.Get("upstream"))
	if err != nil {
		return fmt.Errorf("upstream dialer: %w", err)
	}
	pool := mux.NewPool(dialer, cfg.Mux, logger.Get("mux"))

	var redisComp *redis.Component
	if cfg.Redis.Enabled {
		redisComp = redis.NewComponent(cfg.Redis, logger.Get("redis"))
		if err := app.RegisterComponent(redisComp); err != nil {
			return err
		}
	}
	if err := app.RegisterComponent(mux.NewComponent(pool)); err != nil {
		return err
	}

	server := gateway.New(cfg.Gateway, gateway.Deps{
		Pool:    pool,
		Bus:     busEnv(redisComp, logger.Get("tabbus")),
		Health:  app.Components.HealthAll,
		Service: cfg.Name,
		Version: cfg.Version,
	}, logger.Get("gateway"))
	if err := app.RegisterComponent(gateway.NewComponent(server)); err != nil {
		return err
	}

	return app.Run(ctx)
}

func setupTelemetry(ctx context.Context, app *bootstrap.App[*Config]) error {
	cfg := app.Cfg
	tel, err := observability.Setup(ctx, cfg.Observability, observability.Identity{
		Service:     cfg.Name,
		Version:     cfg.Version,
		Environment: cfg.Environment,
	})
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	app.OnStop(tel.Shutdown)
	return nil
}
