package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"tripopt/internal/model"
)

type Postgres struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Close() error { return p.db.Close() }

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

// MigrateDir applies every *.sql file in dir, in name order, that is not yet
// recorded in schema_migrations. Each file runs in its own transaction.
func (p *Postgres) MigrateDir(ctx context.Context, dir string) error {
	if _, err := p.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (name text PRIMARY KEY, applied_at timestamptz NOT NULL DEFAULT now())`); err != nil {
		return fmt.Errorf("migrations table: %w", err)
	}
	files, err := filepath.Glob(filepath.Join(dir, "*.sql"))
	if err != nil {
		return err
	}
	sort.Strings(files)
	for _, f := range files {
		name := filepath.Base(f)
		var done bool
		if err := p.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE name=$1)`, name).Scan(&done); err != nil {
			return err
		}
		if done {
			continue
		}
		body, err := os.ReadFile(f)
		if err != nil {
			return err
		}
		if err := p.inTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, string(body)); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (name) VALUES ($1)`, name)
			return err
		}); err != nil {
			return fmt.Errorf("migrate %s: %w", name, err)
		}
	}
	return nil
}

func (p *Postgres) CreatePlan(ctx context.Context, pl model.Plan) (model.Plan, error) {
	if pl.ID == "" {
		pl.ID = uuid.New().String()
	}
	if pl.CreatedAt.IsZero() {
		pl.CreatedAt = time.Now().UTC()
	}
	body, err := json.Marshal(pl)
	if err != nil {
		return model.Plan{}, err
	}
	_, err = p.db.ExecContext(ctx, `INSERT INTO plans (id, status, mode, created_at, default_index, selected_index, body) VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		pl.ID, pl.Status, pl.Mode, pl.CreatedAt, pl.DefaultIndex, nullIndex(pl.SelectedIndex), body)
	if err != nil {
		return model.Plan{}, err
	}
	return pl, nil
}

func (p *Postgres) UpdatePlan(ctx context.Context, pl model.Plan) error {
	body, err := json.Marshal(pl)
	if err != nil {
		return err
	}
	res, err := p.db.ExecContext(ctx, `UPDATE plans SET status=$2, mode=$3, default_index=$4, selected_index=$5, body=jsonb_set($6::jsonb, '{createdAt}', body->'createdAt') WHERE id=$1`,
		pl.ID, pl.Status, pl.Mode, pl.DefaultIndex, nullIndex(pl.SelectedIndex), body)
	if err != nil {
		return err
	}
	return expectOne(res)
}

func (p *Postgres) GetPlan(ctx context.Context, id string) (model.Plan, error) {
	if _, err := uuid.Parse(id); err != nil {
		return model.Plan{}, ErrNotFound
	}
	var body []byte
	err := p.db.QueryRowContext(ctx, `SELECT body FROM plans WHERE id=$1`, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Plan{}, ErrNotFound
	}
	if err != nil {
		return model.Plan{}, err
	}
	return decodePlan(body)
}

// ListPlans pages newest first using (created_at, id) keyset pagination.
func (p *Postgres) ListPlans(ctx context.Context, cursor string, limit int) ([]model.Plan, string, error) {
	limit = clampLimit(limit)
	var rows *sql.Rows
	var err error
	if cursor != "" {
		if _, perr := uuid.Parse(cursor); perr != nil {
			return nil, "", fmt.Errorf("invalid cursor: %w", perr)
		}
		rows, err = p.db.QueryContext(ctx, `SELECT body FROM plans
			WHERE (created_at, id) < (SELECT created_at, id FROM plans WHERE id=$1)
			ORDER BY created_at DESC, id DESC LIMIT $2`, cursor, limit+1)
	} else {
		rows, err = p.db.QueryContext(ctx, `SELECT body FROM plans ORDER BY created_at DESC, id DESC LIMIT $1`, limit+1)
	}
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()
	out := []model.Plan{}
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, "", err
		}
		pl, err := decodePlan(body)
		if err != nil {
			return nil, "", err
		}
		out = append(out, pl)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}
	var next string
	if len(out) > limit {
		out = out[:limit]
		next = out[limit-1].ID
	}
	return out, next, nil
}

func (p *Postgres) SelectCandidate(ctx context.Context, id string, index int) (model.Plan, error) {
	if _, err := uuid.Parse(id); err != nil {
		return model.Plan{}, ErrNotFound
	}
	var out model.Plan
	err := p.inTx(ctx, func(tx *sql.Tx) error {
		var body []byte
		err := tx.QueryRowContext(ctx, `SELECT body FROM plans WHERE id=$1 FOR UPDATE`, id).Scan(&body)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		pl, err := decodePlan(body)
		if err != nil {
			return err
		}
		if err := checkSelectable(pl, index); err != nil {
			return err
		}
		pl.SelectedIndex = &index
		nb, err := json.Marshal(pl)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE plans SET selected_index=$2, body=$3 WHERE id=$1`, id, index, nb); err != nil {
			return err
		}
		out = pl
		return nil
	})
	return out, err
}

func (p *Postgres) SaveRunMetrics(ctx context.Context, planID string, runs []model.SolverRun) error {
	if _, err := uuid.Parse(planID); err != nil {
		return ErrNotFound
	}
	return p.inTx(ctx, func(tx *sql.Tx) error {
		var base int
		if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq)+1, 0) FROM plan_solver_runs WHERE plan_id=$1`, planID).Scan(&base); err != nil {
			return err
		}
		for i, r := range runs {
			details, err := json.Marshal(r.Details)
			if err != nil {
				return err
			}
			_, err = tx.ExecContext(ctx, `INSERT INTO plan_solver_runs (plan_id, seq, solver, mode, duration_ms, ok, error, tour_distance_km, details) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
				planID, base+i, r.Solver, nullIfEmpty(r.Mode), r.DurationMs, r.OK, nullIfEmpty(r.Error), r.TourDistanceKm, details)
			if err != nil {
				if strings.Contains(err.Error(), "foreign key") {
					return ErrNotFound
				}
				return err
			}
		}
		return nil
	})
}

func (p *Postgres) ListRunMetrics(ctx context.Context, planID string) ([]model.SolverRun, error) {
	if _, err := p.GetPlan(ctx, planID); err != nil {
		return nil, err
	}
	rows, err := p.db.QueryContext(ctx, `SELECT solver, COALESCE(mode,''), duration_ms, ok, COALESCE(error,''), tour_distance_km, details FROM plan_solver_runs WHERE plan_id=$1 ORDER BY seq`, planID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.SolverRun{}
	for rows.Next() {
		var r model.SolverRun
		var details []byte
		if err := rows.Scan(&r.Solver, &r.Mode, &r.DurationMs, &r.OK, &r.Error, &r.TourDistanceKm, &details); err != nil {
			return nil, err
		}
		if len(details) > 0 && string(details) != "null" {
			if err := json.Unmarshal(details, &r.Details); err != nil {
				return nil, err
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *Postgres) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func decodePlan(body []byte) (model.Plan, error) {
	var pl model.Plan
	if err := json.Unmarshal(body, &pl); err != nil {
		return model.Plan{}, fmt.Errorf("decode plan: %w", err)
	}
	return pl, nil
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullIndex(i *int) any {
	if i == nil {
		return nil
	}
	return *i
}
