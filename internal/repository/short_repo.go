package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"github.com/darkodi/shorts/internal/config"
	"github.com/darkodi/shorts/internal/logger"
	"github.com/darkodi/shorts/internal/model"
	"github.com/darkodi/shorts/internal/repository/migrations"
)

var (
	ErrNotFound  = errors.New("short not found")
	ErrDuplicate = errors.New("short already exists")
)

const (
	queryLongByShortID = `SELECT long_url FROM shorts WHERE id = ?`
	queryShortByLong   = `SELECT id FROM shorts WHERE long_url = ?`
	queryInsertShort   = `INSERT INTO shorts (id, long_url, created_at) VALUES (?, ?, ?)`
	queryInsertGoto    = `INSERT INTO shorts_goto_stats (short_id, created_at) SELECT id, ? FROM shorts WHERE id = ?`
	queryTopGotoStats  = `
		SELECT s.long_url, COUNT(sg.id) AS total
		FROM shorts s
		JOIN shorts_goto_stats sg ON s.id = sg.short_id
		GROUP BY s.long_url
		ORDER BY total DESC, s.long_url ASC
		LIMIT ?`
)

// ShortRepository is the authoritative store for mappings and goto stats.
// Every method is a single statement bounded by the configured query timeout.
type ShortRepository struct {
	db      *sql.DB
	driver  string
	timeout time.Duration
	queries map[string]string
}

// NewShortRepository opens the pool, applies migrations and checks connectivity
func NewShortRepository(cfg *config.DatabaseConfig, log *logger.Logger) (*ShortRepository, error) {
	if err := migrations.Run(cfg.Driver, cfg.URL, log); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	db, err := sql.Open(cfg.Driver, cfg.URL)
	if err != nil {
		return nil, err
	}

	if cfg.Driver == config.DriverSQLite {
		// sqlite allows a single writer; serialize through one connection
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)

	r := &ShortRepository{
		db:      db,
		driver:  cfg.Driver,
		timeout: cfg.QueryTimeout,
		queries: make(map[string]string),
	}
	for _, q := range []string{queryLongByShortID, queryShortByLong, queryInsertShort, queryInsertGoto, queryTopGotoStats} {
		r.queries[q] = rebind(cfg.Driver, q)
	}

	ctx, cancel := r.withTimeout(context.Background())
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return r, nil
}

// FindLongByShortID returns the long URL for id, or ErrNotFound
func (r *ShortRepository) FindLongByShortID(ctx context.Context, id string) (string, error) {
	return r.queryString(ctx, queryLongByShortID, id)
}

// FindShortByLongURL returns the short id already issued for longURL, or ErrNotFound
func (r *ShortRepository) FindShortByLongURL(ctx context.Context, longURL string) (string, error) {
	return r.queryString(ctx, queryShortByLong, longURL)
}

// InsertMapping stores a new mapping. A clash on either the id or the long
// URL is reported as ErrDuplicate.
func (r *ShortRepository) InsertMapping(ctx context.Context, m *model.Mapping) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	_, err := r.db.ExecContext(ctx, r.queries[queryInsertShort], m.ID, m.LongURL, m.CreatedAt)
	if err != nil {
		if isDuplicate(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert short %s: %w", m.ID, err)
	}
	return nil
}

// IncrementGotoStat appends one visit row for shortID. Unknown ids insert nothing.
func (r *ShortRepository) IncrementGotoStat(ctx context.Context, shortID string) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	_, err := r.db.ExecContext(ctx, r.queries[queryInsertGoto], time.Now().UTC(), shortID)
	if err != nil {
		return fmt.Errorf("insert goto stat %s: %w", shortID, err)
	}
	return nil
}

// TopGotoStats returns the most visited long URLs, highest count first
func (r *ShortRepository) TopGotoStats(ctx context.Context, limit int) ([]model.GotoStatTotal, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, r.queries[queryTopGotoStats], limit)
	if err != nil {
		return nil, fmt.Errorf("query goto stats: %w", err)
	}
	defer rows.Close()

	stats := make([]model.GotoStatTotal, 0, limit)
	for rows.Next() {
		var s model.GotoStatTotal
		if err := rows.Scan(&s.LongURL, &s.Total); err != nil {
			return nil, fmt.Errorf("scan goto stat: %w", err)
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

// Ping checks the database is reachable
func (r *ShortRepository) Ping(ctx context.Context) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	return r.db.PingContext(ctx)
}

// Close releases the connection pool
func (r *ShortRepository) Close() error {
	return r.db.Close()
}

func (r *ShortRepository) queryString(ctx context.Context, query, arg string) (string, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var value string
	err := r.db.QueryRowContext(ctx, r.queries[query], arg).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

func (r *ShortRepository) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.timeout)
}

// rebind turns ? placeholders into $1..$n for postgres
func rebind(driver, query string) string {
	if driver != config.DriverPostgres {
		return query
	}

	var b strings.Builder
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func isDuplicate(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505" // unique_violation
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}

	return false
}
