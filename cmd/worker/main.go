package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/geocoder89/placehub/internal/config"
	"github.com/geocoder89/placehub/internal/observability"
	"github.com/geocoder89/placehub/internal/reconcile"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// The worker runs the membership reconciler on an interval. It repairs
// drift between places.owner_id and users.place_ids that slipped past the
// transactional write path (manual data edits, restored backups).
func main() {
	cfg := config.Load()

	log := observability.NewLogger(cfg.Env)

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)

	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DBURL)

	if err != nil {
		log.Error("db connect failed", "err", err)
		os.Exit(1)
	}

	defer pool.Close()

	prom := observability.NewProm(prometheus.DefaultRegisterer)

	rec := reconcile.New(pool, log, prom)

	interval := time.Duration(cfg.ReconcileIntervalSeconds) * time.Second

	if interval <= 0 {
		interval = 5 * time.Minute
	}

	ticker := time.NewTicker(interval)

	defer ticker.Stop()

	log.Info("reconcile worker started", "interval", interval.String())

	// run once at startup, then on every tick
	runOnce(ctx, rec, log)

	for {
		select {
		case <-ctx.Done():
			log.Info("worker shutdown complete")
			return

		case <-ticker.C:
			runOnce(ctx, rec, log)
		}
	}
}

func runOnce(ctx context.Context, rec *reconcile.Reconciler, log *slog.Logger) {
	report, err := rec.Run(ctx)

	if err != nil {
		log.Error("reconcile run failed", "err", err)
		return
	}

	log.Info("reconcile run complete",
		"missing_links", report.MissingLinks,
		"dangling_refs", report.DanglingRefs,
		"repaired_users", report.RepairedUsers,
	)
}
