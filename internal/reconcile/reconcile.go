package reconcile

import (
	"context"
	"log/slog"

	"github.com/geocoder89/placehub/internal/observability"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Reconciler audits the bidirectional link between places.owner_id and
// users.place_ids and repairs any drift. The transactional engine is supposed
// to make drift impossible; this is the belt-and-suspenders for the
// denormalized inverse index.
type Reconciler struct {
	pool *pgxpool.Pool
	log  *slog.Logger
	prom *observability.Prom
}

func New(pool *pgxpool.Pool, log *slog.Logger, prom *observability.Prom) *Reconciler {
	return &Reconciler{
		pool: pool,
		log:  log,
		prom: prom,
	}
}

type Report struct {
	// places whose id is missing from their owner's membership list
	MissingLinks int `json:"missingLinks"`
	// membership entries pointing at a missing place or someone else's place
	DanglingRefs int `json:"danglingRefs"`
	// owner documents rewritten to the authoritative state
	RepairedUsers int `json:"repairedUsers"`
}

func (r *Reconciler) observe(op string, fn func() error) error {
	if r.prom != nil {
		return r.prom.ObserveDB(op, fn)
	}
	return fn()
}

// Run audits both directions and rewrites every drifted membership list from
// the authoritative owner field, all inside one transaction.
func (r *Reconciler) Run(ctx context.Context) (report Report, err error) {
	defer func() {
		if r.prom == nil {
			return
		}

		result := "ok"
		if err != nil {
			result = "error"
		}
		r.prom.ReconcileRuns.WithLabelValues(result).Inc()
	}()

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})

	if err != nil {
		return
	}

	defer func() { _ = tx.Rollback(ctx) }()

	err = r.observe("reconcile.audit_missing_links", func() error {
		return tx.QueryRow(ctx, `
			SELECT COUNT(*)
			FROM places p
			JOIN users u ON u.id = p.owner_id
			WHERE NOT (p.id = ANY(u.place_ids))
		`).Scan(&report.MissingLinks)
	})

	if err != nil {
		return
	}

	err = r.observe("reconcile.audit_dangling_refs", func() error {
		return tx.QueryRow(ctx, `
			SELECT COUNT(*)
			FROM users u
			CROSS JOIN LATERAL unnest(u.place_ids) AS pid
			LEFT JOIN places p ON p.id = pid
			WHERE p.id IS NULL OR p.owner_id <> u.id
		`).Scan(&report.DanglingRefs)
	})

	if err != nil {
		return
	}

	if report.MissingLinks == 0 && report.DanglingRefs == 0 {
		err = tx.Commit(ctx)
		return
	}

	// set equality via mutual containment; plain array equality is order
	// sensitive and would rewrite rows that only differ in ordering
	var tag int64

	err = r.observe("reconcile.repair", func() error {
		res, e := tx.Exec(ctx, `
			WITH authoritative AS (
				SELECT u.id AS user_id,
				       COALESCE(array_agg(p.id) FILTER (WHERE p.id IS NOT NULL), '{}') AS ids
				FROM users u
				LEFT JOIN places p ON p.owner_id = u.id
				GROUP BY u.id
			)
			UPDATE users u
			SET place_ids = a.ids,
			    updated_at = NOW()
			FROM authoritative a
			WHERE u.id = a.user_id
			  AND NOT (u.place_ids <@ a.ids AND a.ids <@ u.place_ids)
		`)
		if e != nil {
			return e
		}
		tag = res.RowsAffected()
		return nil
	})

	if err != nil {
		return
	}

	report.RepairedUsers = int(tag)

	err = tx.Commit(ctx)

	if err != nil {
		return
	}

	if report.RepairedUsers > 0 {
		if r.prom != nil {
			r.prom.ReconcileRepairs.Add(float64(report.RepairedUsers))
		}
		r.log.Warn("membership drift repaired",
			"missing_links", report.MissingLinks,
			"dangling_refs", report.DanglingRefs,
			"repaired_users", report.RepairedUsers,
		)
	}

	return
}
