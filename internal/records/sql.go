package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/ippousyuga/search-lucene/pkg/config"
	apperrors "github.com/ippousyuga/search-lucene/pkg/errors"
	"github.com/ippousyuga/search-lucene/pkg/postgres"
	_ "modernc.org/sqlite"
)

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// DB is the database the sources of all collections read from.
type DB struct {
	db     *sql.DB
	driver string
	close  func() error
}

// Open connects to the database selected by cfg.Source.
func Open(ctx context.Context, cfg *config.Config) (*DB, error) {
	switch cfg.Source.Driver {
	case config.DriverPostgres:
		client, err := postgres.New(ctx, cfg.Postgres)
		if err != nil {
			return nil, err
		}
		return &DB{db: client.DB, driver: config.DriverPostgres, close: client.Close}, nil
	case config.DriverSQLite:
		return OpenSQLite(ctx, cfg.Source.SQLitePath)
	default:
		return nil, apperrors.Op(apperrors.ErrInvalidInput, "open record source", "unknown driver %q", cfg.Source.Driver)
	}
}

// OpenSQLite opens the SQLite database file at path.
func OpenSQLite(ctx context.Context, path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite %s: %w", path, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging sqlite %s: %w", path, err)
	}
	return &DB{db: db, driver: config.DriverSQLite, close: db.Close}, nil
}

// SQL exposes the connection pool, for seeding and health checks.
func (d *DB) SQL() *sql.DB {
	return d.db
}

// Driver reports which of config.DriverPostgres or config.DriverSQLite
// backs d.
func (d *DB) Driver() string {
	return d.driver
}

// Placeholder returns the bind parameter marker for the n-th argument.
func (d *DB) Placeholder(n int) string {
	if d.driver == config.DriverPostgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func (d *DB) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

func (d *DB) Close() error {
	return d.close()
}

// Source returns the record source of one table. Table and column names
// come from configuration and must be plain identifiers.
func (d *DB) Source(t config.SourceTable) (*SQLSource, error) {
	for _, ident := range []string{t.Table, t.IDColumn, t.TextColumn} {
		if !identPattern.MatchString(ident) {
			return nil, apperrors.Op(apperrors.ErrInvalidInput, "record source", "invalid identifier %q", ident)
		}
	}
	ph := d.Placeholder
	return &SQLSource{
		db:     d.db,
		column: t.TextColumn,
		countQ: fmt.Sprintf("SELECT COUNT(*) FROM %s", t.Table),
		listQ:  fmt.Sprintf("SELECT %s, %s FROM %s ORDER BY %s LIMIT %s OFFSET %s", t.IDColumn, t.TextColumn, t.Table, t.IDColumn, ph(1), ph(2)),
		getQ:   fmt.Sprintf("SELECT %s, %s FROM %s WHERE %s = %s", t.IDColumn, t.TextColumn, t.Table, t.IDColumn, ph(1)),
		logger: slog.Default().With("component", "record-source", "table", t.Table),
	}, nil
}

// SQLSource reads the id and text columns of one table.
type SQLSource struct {
	db     *sql.DB
	column string
	countQ string
	listQ  string
	getQ   string
	logger *slog.Logger
}

func (s *SQLSource) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, s.countQ).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting records: %w", err)
	}
	return n, nil
}

func (s *SQLSource) List(ctx context.Context, offset, limit int) ([]Record, error) {
	if offset < 0 || limit <= 0 {
		return nil, apperrors.Op(apperrors.ErrInvalidInput, "list records", "offset %d limit %d", offset, limit)
	}
	rows, err := s.db.QueryContext(ctx, s.listQ, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing records at offset %d: %w", offset, err)
	}
	defer rows.Close()

	out := make([]Record, 0, limit)
	for rows.Next() {
		r, err := s.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating records at offset %d: %w", offset, err)
	}
	s.logger.Debug("records page read", "offset", offset, "count", len(out))
	return out, nil
}

func (s *SQLSource) Get(ctx context.Context, id int64) (Record, error) {
	r, err := s.scan(s.db.QueryRowContext(ctx, s.getQ, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, apperrors.Op(apperrors.ErrNotFound, "get record", "id %d", id)
	}
	return r, err
}

type scanner interface {
	Scan(dest ...any) error
}

func (s *SQLSource) scan(row scanner) (Record, error) {
	var (
		id   int64
		text sql.NullString
	)
	if err := row.Scan(&id, &text); err != nil {
		return Record{}, fmt.Errorf("scanning record: %w", err)
	}
	r := Record{ID: id, Fields: map[string]string{}}
	if text.Valid {
		r.Fields[s.column] = text.String
	}
	return r, nil
}
