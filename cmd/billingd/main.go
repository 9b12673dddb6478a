// Command billingd runs the billing API and the dunning scheduler.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/billingkit/pkg/discount"
	"github.com/dmitrymomot/billingkit/pkg/dunning"
	"github.com/dmitrymomot/billingkit/pkg/email"
	"github.com/dmitrymomot/billingkit/pkg/gateway"
	"github.com/dmitrymomot/billingkit/pkg/httpserver"
	"github.com/dmitrymomot/billingkit/pkg/ledger"
	"github.com/dmitrymomot/billingkit/pkg/lock"
	"github.com/dmitrymomot/billingkit/pkg/logger"
	"github.com/dmitrymomot/billingkit/pkg/notify"
	"github.com/dmitrymomot/billingkit/pkg/pg"
	"github.com/dmitrymomot/billingkit/pkg/pgstore"
	"github.com/dmitrymomot/billingkit/pkg/redis"
	"github.com/dmitrymomot/billingkit/pkg/requestid"
	"github.com/dmitrymomot/billingkit/pkg/subscription"
	"github.com/dmitrymomot/billingkit/svc/api"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		slog.Error("billingd stopped", logger.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := loadConfigs()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logOpts := []logger.Option{
		logger.WithEnvironment(cfg.app.Env, "billingd"),
		logger.WithContextExtractors(requestid.LoggerExtractor),
	}
	if cfg.app.LogLevel != "" {
		logOpts = append(logOpts, logger.WithLevelName(cfg.app.LogLevel))
	}
	log := logger.New(logOpts...)
	logger.SetAsDefault(log)

	pool, err := pg.Connect(ctx, cfg.pg)
	if err != nil {
		return err
	}
	defer pool.Close()
	if err := pg.Migrate(ctx, pool, cfg.pg, log); err != nil {
		return err
	}

	rdb, err := redis.Connect(ctx, cfg.redis)
	if err != nil {
		return err
	}
	defer rdb.Close()
	locker := lock.NewRedisLocker(rdb, lock.WithKeyPrefix(cfg.app.LockPrefix), lock.WithDefaultTTL(cfg.app.LockTTL))

	subs := pgstore.NewSubscriptions(pool)
	contacts := pgstore.NewContacts(pool)

	gw := gateway.WithTimeout(
		gateway.NewStripeGateway(cfg.stripe, gateway.WithLogger(log)),
		cfg.stripe.Timeout,
	)
	led := ledger.New(pgstore.NewPayments(pool), gw,
		ledger.WithLocker(locker),
		ledger.WithLogger(log),
	)
	discounts := discount.NewEngine(pgstore.NewDiscounts(pool), discount.WithLogger(log))
	charger := subscription.NewCharger(pgstore.NewPaymentMethods(pool), led, discounts, log)

	svc, err := subscription.NewService(ctx,
		subscription.NewYAMLFileSource(cfg.app.PlansFile),
		subs,
		charger,
		subscription.WithLogger(log),
		subscription.WithLocker(locker),
		subscription.WithLockTTL(cfg.app.LockTTL),
		subscription.WithRetryPolicy(cfg.dunning.RetryPolicy()),
	)
	if err != nil {
		return err
	}

	mailer, err := email.New(cfg.email)
	if err != nil {
		return err
	}
	sender := notify.NewAsync(
		notify.NewEmailSender(mailer, contacts, cfg.email.SupportEmail, notify.WithEmailLogger(log)),
		notify.WithAsyncLogger(log),
	)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	sched, err := dunning.New(cfg.dunning, svc, subs, sender,
		dunning.WithLogger(log),
		dunning.WithMetrics(dunning.NewMetrics(reg)),
	)
	if err != nil {
		return err
	}

	handler := api.New(svc, led,
		api.WithConfig(cfg.api),
		api.WithLogger(log),
		api.WithContacts(contacts),
		api.WithMetrics(reg),
		api.WithHealthChecks(
			httpserver.Check{Name: "postgres", Probe: pg.Healthcheck(pool)},
			httpserver.Check{Name: "redis", Probe: redis.Healthcheck(rdb)},
		),
	)
	srv := httpserver.NewFromConfig(cfg.http, httpserver.WithLogger(log))
	rec := newReconciler(led, cfg.app.StalePendingAfter, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx, handler.Routes()) })
	g.Go(func() error { return ignoreCanceled(sched.Run(gctx)) })
	g.Go(func() error { return ignoreCanceled(rec.Run(gctx, cfg.app.ReconcileInterval)) })
	runErr := g.Wait()

	drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.app.DrainTimeout)
	defer cancel()
	if err := sender.Close(drainCtx); err != nil {
		log.WarnContext(drainCtx, "notifications not drained", logger.Error(err))
	}
	return runErr
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
