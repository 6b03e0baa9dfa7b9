package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"mailreach/internal/models"
)

const verdictColumns = `normalized_email, email, domain, reachability, status, deliverable, is_catch_all, is_disposable, is_role, is_free, mx_host, smtp_code, smtp_message, provider, tier, error_reason, verified_at`

// Postgres is the remote backend, for deployments where several verifier
// nodes share one verdict store.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(ctx context.Context, connString string) (*Postgres, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}
	p := &Postgres{pool: pool}
	if err := p.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

// migrate creates the necessary tables if they don't exist. One statement
// per Exec since pgx speaks the extended protocol.
func (p *Postgres) migrate(ctx context.Context) error {
	statements := []struct {
		name  string
		query string
	}{
		{"verified_emails", `
	CREATE TABLE IF NOT EXISTS verified_emails (
		normalized_email TEXT PRIMARY KEY,
		email TEXT NOT NULL,
		domain TEXT NOT NULL,
		reachability TEXT NOT NULL,
		status TEXT NOT NULL,
		deliverable BOOLEAN,
		is_catch_all BOOLEAN NOT NULL DEFAULT FALSE,
		is_disposable BOOLEAN NOT NULL DEFAULT FALSE,
		is_role BOOLEAN NOT NULL DEFAULT FALSE,
		is_free BOOLEAN NOT NULL DEFAULT FALSE,
		mx_host TEXT NOT NULL DEFAULT '',
		smtp_code INT NOT NULL DEFAULT 0,
		smtp_message TEXT NOT NULL DEFAULT '',
		provider TEXT NOT NULL DEFAULT '',
		tier TEXT NOT NULL DEFAULT '',
		error_reason TEXT NOT NULL DEFAULT '',
		verified_at TIMESTAMPTZ NOT NULL
	)`},
		{"idx_verified_domain",
			`CREATE INDEX IF NOT EXISTS idx_verified_domain ON verified_emails(domain)`},
		{"idx_verified_reachability",
			`CREATE INDEX IF NOT EXISTS idx_verified_reachability ON verified_emails(reachability)`},
		{"idx_verified_at",
			`CREATE INDEX IF NOT EXISTS idx_verified_at ON verified_emails(verified_at)`},
		// Tracks bulk upload batches.
		{"jobs", `
	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		total_count INT DEFAULT 0,
		processed_count INT DEFAULT 0,
		created_at TIMESTAMPTZ DEFAULT NOW(),
		completed_at TIMESTAMPTZ
	)`},
		// Full verdict JSON per job row so results can be re-served untouched.
		{"job_results", `
	CREATE TABLE IF NOT EXISTS job_results (
		id BIGSERIAL PRIMARY KEY,
		job_id TEXT NOT NULL REFERENCES jobs(id),
		email TEXT NOT NULL,
		reachability TEXT NOT NULL,
		data JSONB NOT NULL
	)`},
		{"idx_job_results_job",
			`CREATE INDEX IF NOT EXISTS idx_job_results_job ON job_results(job_id)`},
	}

	for _, st := range statements {
		if _, err := p.pool.Exec(ctx, st.query); err != nil {
			return fmt.Errorf("migration failed (%s): %w", st.name, err)
		}
	}
	return nil
}

func (p *Postgres) Get(ctx context.Context, normalized string) (*models.Verdict, time.Duration, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT `+verdictColumns+` FROM verified_emails WHERE normalized_email = $1`, normalized)
	v, err := scanVerdict(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, 0, ErrNotFound
	}
	if err != nil {
		return nil, 0, err
	}
	return v, time.Since(v.VerifiedAt), nil
}

func (p *Postgres) Put(ctx context.Context, v *models.Verdict) error {
	_, err := p.pool.Exec(ctx, `
	INSERT INTO verified_emails (`+verdictColumns+`)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
	ON CONFLICT (normalized_email) DO UPDATE SET
		email = EXCLUDED.email,
		domain = EXCLUDED.domain,
		reachability = EXCLUDED.reachability,
		status = EXCLUDED.status,
		deliverable = EXCLUDED.deliverable,
		is_catch_all = EXCLUDED.is_catch_all,
		is_disposable = EXCLUDED.is_disposable,
		is_role = EXCLUDED.is_role,
		is_free = EXCLUDED.is_free,
		mx_host = EXCLUDED.mx_host,
		smtp_code = EXCLUDED.smtp_code,
		smtp_message = EXCLUDED.smtp_message,
		provider = EXCLUDED.provider,
		tier = EXCLUDED.tier,
		error_reason = EXCLUDED.error_reason,
		verified_at = EXCLUDED.verified_at
	WHERE verified_emails.verified_at <= EXCLUDED.verified_at`,
		v.Normalized, v.Email, v.Domain, v.Reachability, v.Status, v.Deliverable,
		v.CatchAll, v.Disposable, v.Role, v.Free, v.MXHost, v.SmtpCode,
		v.SmtpMessage, v.Provider, v.Tier, v.Error, v.VerifiedAt)
	return err
}

func (p *Postgres) Stats(ctx context.Context) (*models.StoreStats, error) {
	s := &models.StoreStats{ByReachability: make(map[models.Reachability]int64)}

	rows, err := p.pool.Query(ctx,
		`SELECT reachability, COUNT(*) FROM verified_emails GROUP BY reachability`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var r models.Reachability
		var n int64
		if err := rows.Scan(&r, &n); err != nil {
			return nil, err
		}
		s.ByReachability[r] = n
		s.Total += n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := p.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM verified_emails WHERE is_catch_all`).Scan(&s.CatchAll); err != nil {
		return nil, err
	}
	return s, nil
}

func (p *Postgres) Scan(ctx context.Context, f Filter, fn func(*models.Verdict) error) error {
	q := `SELECT ` + verdictColumns + ` FROM verified_emails`
	var conds []string
	var args []any
	if f.Reachability != "" {
		args = append(args, f.Reachability)
		conds = append(conds, fmt.Sprintf("reachability = $%d", len(args)))
	}
	if f.Domain != "" {
		args = append(args, f.Domain)
		conds = append(conds, fmt.Sprintf("domain = $%d", len(args)))
	}
	if f.OlderThan > 0 {
		args = append(args, time.Now().Add(-f.OlderThan))
		conds = append(conds, fmt.Sprintf("verified_at < $%d", len(args)))
	}
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY verified_at"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := p.pool.Query(ctx, q, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		v, err := scanVerdict(rows)
		if err != nil {
			return err
		}
		if err := fn(v); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (p *Postgres) Ping(ctx context.Context) error { return p.pool.Ping(ctx) }

func (p *Postgres) Close() { p.pool.Close() }

func (p *Postgres) CreateJob(ctx context.Context, id string, total int) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO jobs (id, status, total_count, created_at) VALUES ($1, $2, $3, $4)`,
		id, JobPending, total, time.Now())
	return err
}

func (p *Postgres) Job(ctx context.Context, id string) (*Job, error) {
	j := &Job{}
	err := p.pool.QueryRow(ctx,
		`SELECT id, status, total_count, processed_count, created_at, completed_at FROM jobs WHERE id = $1`, id).
		Scan(&j.ID, &j.Status, &j.Total, &j.Processed, &j.CreatedAt, &j.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return j, nil
}

// AddJobResult stores the verdict and advances the job counter in one
// transaction, flipping the job to completed when the last address lands.
func (p *Postgres) AddJobResult(ctx context.Context, jobID string, v *models.Verdict) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO job_results (job_id, email, reachability, data)
		VALUES ($1, $2, $3, $4)
	`, jobID, v.Email, v.Reachability, data); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE jobs
		SET processed_count = processed_count + 1,
		    status = CASE
		        WHEN processed_count + 1 >= total_count THEN 'completed'
		        ELSE status
		    END,
		    completed_at = CASE
		        WHEN processed_count + 1 >= total_count THEN NOW()
		        ELSE completed_at
		    END
		WHERE id = $1
	`, jobID); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (p *Postgres) JobResults(ctx context.Context, jobID string, limit, offset int) ([]JobResultRow, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.pool.Query(ctx, `
		SELECT email, reachability, data FROM job_results
		WHERE job_id = $1 ORDER BY id LIMIT $2 OFFSET $3
	`, jobID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []JobResultRow
	for rows.Next() {
		var r JobResultRow
		if err := rows.Scan(&r.Email, &r.Reachability, &r.Data); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// rowScanner lets both pgx rows and database/sql rows share one mapper.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanVerdict(row rowScanner) (*models.Verdict, error) {
	v := &models.Verdict{}
	err := row.Scan(
		&v.Normalized, &v.Email, &v.Domain, &v.Reachability, &v.Status,
		&v.Deliverable, &v.CatchAll, &v.Disposable, &v.Role, &v.Free,
		&v.MXHost, &v.SmtpCode, &v.SmtpMessage, &v.Provider, &v.Tier,
		&v.Error, &v.VerifiedAt)
	if err != nil {
		return nil, err
	}
	return v, nil
}
