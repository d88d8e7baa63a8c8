package infra

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
)

// SQLExecutor is the query contract shared by the repositories.
type SQLExecutor interface {
	Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, query string, args ...any) pgx.Row
	Query(ctx context.Context, query string, args ...any) (pgx.Rows, error)
}

var markerRegexp = regexp.MustCompile(`^--sql [0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

// ErrMissingMarker is returned for queries without a leading --sql <uuid> line.
var ErrMissingMarker = errors.New("sql marker missing or invalid")

// SQLRunner executes marked queries against a pgx pool and logs each one by
// its marker so slow or failing statements can be traced back to sqlinline.
type SQLRunner struct {
	db     SQLExecutor
	logger zerolog.Logger
}

// NewSQLRunner wraps db, typically a *pgxpool.Pool.
func NewSQLRunner(db SQLExecutor, logger zerolog.Logger) *SQLRunner {
	return &SQLRunner{db: db, logger: logger.With().Str("component", "sql").Logger()}
}

func (r *SQLRunner) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	marker, trimmed, err := extractMarker(query)
	if err != nil {
		return pgconn.CommandTag{}, err
	}
	tag, err := r.db.Exec(ctx, trimmed, args...)
	if err != nil {
		r.logger.Error().Err(err).Str("marker", marker).Msg("exec failed")
		return tag, err
	}
	r.logger.Debug().Str("marker", marker).Int64("rows", tag.RowsAffected()).Msg("exec")
	return tag, nil
}

func (r *SQLRunner) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	marker, trimmed, err := extractMarker(query)
	if err != nil {
		return errorRow{err: err}
	}
	r.logger.Debug().Str("marker", marker).Msg("query_row")
	return loggingRow{row: r.db.QueryRow(ctx, trimmed, args...), logger: r.logger, marker: marker}
}

func (r *SQLRunner) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	marker, trimmed, err := extractMarker(query)
	if err != nil {
		return nil, err
	}
	rows, err := r.db.Query(ctx, trimmed, args...)
	if err != nil {
		r.logger.Error().Err(err).Str("marker", marker).Msg("query failed")
		return nil, err
	}
	r.logger.Debug().Str("marker", marker).Msg("query")
	return rows, nil
}

// IsNoRows reports whether err is pgx's empty result error.
func IsNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

type loggingRow struct {
	row    pgx.Row
	logger zerolog.Logger
	marker string
}

func (l loggingRow) Scan(dest ...any) error {
	err := l.row.Scan(dest...)
	if err != nil && !IsNoRows(err) {
		l.logger.Error().Err(err).Str("marker", l.marker).Msg("scan failed")
	}
	return err
}

type errorRow struct {
	err error
}

func (e errorRow) Scan(dest ...any) error {
	return e.err
}

func extractMarker(query string) (string, string, error) {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return "", "", errors.New("empty query")
	}
	lines := strings.Split(trimmed, "\n")
	markerLine := strings.TrimSpace(lines[0])
	if !markerRegexp.MatchString(markerLine) {
		return "", "", ErrMissingMarker
	}
	return strings.TrimPrefix(markerLine, "--sql "), strings.Join(lines[1:], "\n"), nil
}

var _ SQLExecutor = (*SQLRunner)(nil)
