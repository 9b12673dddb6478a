package main

import (
	"time"

	"github.com/dmitrymomot/billingkit/pkg/config"
	"github.com/dmitrymomot/billingkit/pkg/dunning"
	"github.com/dmitrymomot/billingkit/pkg/email"
	"github.com/dmitrymomot/billingkit/pkg/gateway"
	"github.com/dmitrymomot/billingkit/pkg/httpserver"
	"github.com/dmitrymomot/billingkit/pkg/pg"
	"github.com/dmitrymomot/billingkit/pkg/redis"
	"github.com/dmitrymomot/billingkit/svc/api"
)

type appConfig struct {
	Env       string `env:"APP_ENV" envDefault:"development"`
	LogLevel  string `env:"LOG_LEVEL"`
	PlansFile string `env:"PLANS_FILE" envDefault:"plans.yaml"`

	LockTTL           time.Duration `env:"BILLING_LOCK_TTL" envDefault:"2m"`
	LockPrefix        string        `env:"BILLING_LOCK_PREFIX" envDefault:"billing:lock:"`
	ReconcileInterval time.Duration `env:"RECONCILE_INTERVAL" envDefault:"15m"`
	StalePendingAfter time.Duration `env:"RECONCILE_STALE_AFTER" envDefault:"1h"`
	DrainTimeout      time.Duration `env:"NOTIFY_DRAIN_TIMEOUT" envDefault:"30s"`
}

type configs struct {
	app     appConfig
	pg      pg.Config
	redis   redis.Config
	email   email.Config
	stripe  gateway.StripeConfig
	dunning dunning.Config
	http    httpserver.Config
	api     api.Config
}

func loadConfigs() (configs, error) {
	var c configs
	for _, load := range []func() error{
		func() error { return config.Load(&c.app) },
		func() error { return config.Load(&c.pg) },
		func() error { return config.Load(&c.redis) },
		func() error { return config.Load(&c.email) },
		func() error { return config.Load(&c.stripe) },
		func() error { return config.Load(&c.dunning) },
		func() error { return config.Load(&c.http) },
		func() error { return config.Load(&c.api) },
	} {
		if err := load(); err != nil {
			return configs{}, err
		}
	}
	return c, nil
}
