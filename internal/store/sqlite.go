package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"mailreach/internal/models"
)

// SQLite is the embedded backend, the default for single-node deployments.
// Timestamps are stored as INTEGER UnixNano so reads do not depend on the
// driver's text time formats.
type SQLite struct {
	db *sql.DB
}

func NewSQLite(ctx context.Context, path string) (*SQLite, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to open database: %w", err)
	}
	// One writer connection keeps SQLITE_BUSY out of the hot path.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}
	s := &SQLite{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) migrate(ctx context.Context) error {
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
		deliverable INTEGER,
		is_catch_all INTEGER NOT NULL DEFAULT 0,
		is_disposable INTEGER NOT NULL DEFAULT 0,
		is_role INTEGER NOT NULL DEFAULT 0,
		is_free INTEGER NOT NULL DEFAULT 0,
		mx_host TEXT NOT NULL DEFAULT '',
		smtp_code INTEGER NOT NULL DEFAULT 0,
		smtp_message TEXT NOT NULL DEFAULT '',
		provider TEXT NOT NULL DEFAULT '',
		tier TEXT NOT NULL DEFAULT '',
		error_reason TEXT NOT NULL DEFAULT '',
		verified_at INTEGER NOT NULL
	)`},
		{"idx_verified_domain",
			`CREATE INDEX IF NOT EXISTS idx_verified_domain ON verified_emails(domain)`},
		{"idx_verified_reachability",
			`CREATE INDEX IF NOT EXISTS idx_verified_reachability ON verified_emails(reachability)`},
		{"idx_verified_at",
			`CREATE INDEX IF NOT EXISTS idx_verified_at ON verified_emails(verified_at)`},
		{"jobs", `
	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		total_count INTEGER DEFAULT 0,
		processed_count INTEGER DEFAULT 0,
		created_at INTEGER NOT NULL,
		completed_at INTEGER
	)`},
		{"job_results", `
	CREATE TABLE IF NOT EXISTS job_results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		job_id TEXT NOT NULL REFERENCES jobs(id),
		email TEXT NOT NULL,
		reachability TEXT NOT NULL,
		data TEXT NOT NULL
	)`},
		{"idx_job_results_job",
			`CREATE INDEX IF NOT EXISTS idx_job_results_job ON job_results(job_id)`},
	}

	for _, st := range statements {
		if _, err := s.db.ExecContext(ctx, st.query); err != nil {
			return fmt.Errorf("migration failed (%s): %w", st.name, err)
		}
	}
	return nil
}

func (s *SQLite) Get(ctx context.Context, normalized string) (*models.Verdict, time.Duration, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+verdictColumns+` FROM verified_emails WHERE normalized_email = ?`, normalized)
	v, err := scanVerdictNano(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, ErrNotFound
	}
	if err != nil {
		return nil, 0, err
	}
	return v, time.Since(v.VerifiedAt), nil
}

func (s *SQLite) Put(ctx context.Context, v *models.Verdict) error {
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO verified_emails (`+verdictColumns+`)
	VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
	ON CONFLICT (normalized_email) DO UPDATE SET
		email = excluded.email,
		domain = excluded.domain,
		reachability = excluded.reachability,
		status = excluded.status,
		deliverable = excluded.deliverable,
		is_catch_all = excluded.is_catch_all,
		is_disposable = excluded.is_disposable,
		is_role = excluded.is_role,
		is_free = excluded.is_free,
		mx_host = excluded.mx_host,
		smtp_code = excluded.smtp_code,
		smtp_message = excluded.smtp_message,
		provider = excluded.provider,
		tier = excluded.tier,
		error_reason = excluded.error_reason,
		verified_at = excluded.verified_at
	WHERE verified_emails.verified_at <= excluded.verified_at`,
		v.Normalized, v.Email, v.Domain, v.Reachability, v.Status, v.Deliverable,
		v.CatchAll, v.Disposable, v.Role, v.Free, v.MXHost, v.SmtpCode,
		v.SmtpMessage, v.Provider, v.Tier, v.Error, v.VerifiedAt.UnixNano())
	return err
}

func (s *SQLite) Stats(ctx context.Context) (*models.StoreStats, error) {
	st := &models.StoreStats{ByReachability: make(map[models.Reachability]int64)}

	rows, err := s.db.QueryContext(ctx,
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
		st.ByReachability[r] = n
		st.Total += n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM verified_emails WHERE is_catch_all = 1`).Scan(&st.CatchAll); err != nil {
		return nil, err
	}
	return st, nil
}

func (s *SQLite) Scan(ctx context.Context, f Filter, fn func(*models.Verdict) error) error {
	q := `SELECT ` + verdictColumns + ` FROM verified_emails`
	var conds []string
	var args []any
	if f.Reachability != "" {
		conds = append(conds, "reachability = ?")
		args = append(args, f.Reachability)
	}
	if f.Domain != "" {
		conds = append(conds, "domain = ?")
		args = append(args, f.Domain)
	}
	if f.OlderThan > 0 {
		conds = append(conds, "verified_at < ?")
		args = append(args, time.Now().Add(-f.OlderThan).UnixNano())
	}
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY verified_at"
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		v, err := scanVerdictNano(rows)
		if err != nil {
			return err
		}
		if err := fn(v); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *SQLite) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLite) Close() { s.db.Close() }

func (s *SQLite) CreateJob(ctx context.Context, id string, total int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, status, total_count, created_at) VALUES (?, ?, ?, ?)`,
		id, JobPending, total, time.Now().UnixNano())
	return err
}

func (s *SQLite) Job(ctx context.Context, id string) (*Job, error) {
	j := &Job{}
	var created int64
	var completed sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, status, total_count, processed_count, created_at, completed_at FROM jobs WHERE id = ?`, id).
		Scan(&j.ID, &j.Status, &j.Total, &j.Processed, &created, &completed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	j.CreatedAt = time.Unix(0, created)
	if completed.Valid {
		t := time.Unix(0, completed.Int64)
		j.CompletedAt = &t
	}
	return j, nil
}

func (s *SQLite) AddJobResult(ctx context.Context, jobID string, v *models.Verdict) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO job_results (job_id, email, reachability, data)
		VALUES (?, ?, ?, ?)
	`, jobID, v.Email, v.Reachability, data); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE jobs
		SET processed_count = processed_count + 1,
		    status = CASE
		        WHEN processed_count + 1 >= total_count THEN 'completed'
		        ELSE status
		    END,
		    completed_at = CASE
		        WHEN processed_count + 1 >= total_count THEN ?
		        ELSE completed_at
		    END
		WHERE id = ?
	`, time.Now().UnixNano(), jobID); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *SQLite) JobResults(ctx context.Context, jobID string, limit, offset int) ([]JobResultRow, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT email, reachability, data FROM job_results
		WHERE job_id = ? ORDER BY id LIMIT ? OFFSET ?
	`, jobID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []JobResultRow
	for rows.Next() {
		var r JobResultRow
		var data []byte
		if err := rows.Scan(&r.Email, &r.Reachability, &data); err != nil {
			return nil, err
		}
		r.Data = json.RawMessage(data)
		out = append(out, r)
	}
	return out, rows.Err()
}

// scanVerdictNano reads a row whose verified_at column is INTEGER UnixNano.
func scanVerdictNano(row rowScanner) (*models.Verdict, error) {
	v := &models.Verdict{}
	var at int64
	err := row.Scan(
		&v.Normalized, &v.Email, &v.Domain, &v.Reachability, &v.Status,
		&v.Deliverable, &v.CatchAll, &v.Disposable, &v.Role, &v.Free,
		&v.MXHost, &v.SmtpCode, &v.SmtpMessage, &v.Provider, &v.Tier,
		&v.Error, &at)
	if err != nil {
		return nil, err
	}
	v.VerifiedAt = time.Unix(0, at)
	return v, nil
}
