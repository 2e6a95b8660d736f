package store

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

var sqliteTablePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SQLiteClient reads a key-value table stored in SQLite. The table must have
// BLOB (or TEXT) columns named key and value. Keys are compared as BLOBs,
// which SQLite orders with memcmp, so TEXT keys sort bytewise too. In WAL
// mode a read transaction sees one snapshot from its first read until it
// ends.
type SQLiteClient struct {
	db        *sql.DB
	table     string
	scanQuery string
	logger    *logrus.Logger
}

// SQLiteOptions contains configuration options for SQLiteClient
type SQLiteOptions struct {
	Path     string
	Table    string
	ReadOnly bool
	Logger   *logrus.Logger
}

// NewSQLiteClient opens the SQLite database at Path and checks that Table is
// readable.
func NewSQLiteClient(ctx context.Context, opts SQLiteOptions) (*SQLiteClient, error) {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if opts.Table == "" {
		opts.Table = "kv"
	}
	if !sqliteTablePattern.MatchString(opts.Table) {
		return nil, fmt.Errorf("invalid table name %q", opts.Table)
	}

	dsn := opts.Path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	if opts.ReadOnly {
		dsn += "&_pragma=query_only(1)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// The casts keep TEXT and BLOB keys in one bytewise order but bypass the
	// key index, so every batch sorts the remaining rows.
	c := &SQLiteClient{
		db:        db,
		table:     opts.Table,
		scanQuery: fmt.Sprintf(`SELECT key, value FROM "%s" WHERE CAST(key AS BLOB) >= ? ORDER BY CAST(key AS BLOB) LIMIT ?`, opts.Table),
		logger:    opts.Logger,
	}

	if err := c.ping(ctx); err != nil {
		db.Close()
		return nil, err
	}

	opts.Logger.WithFields(logrus.Fields{
		"db_path": opts.Path,
		"table":   opts.Table,
	}).Info("SQLite store opened")

	return c, nil
}

func (c *SQLiteClient) ping(ctx context.Context) error {
	if err := c.db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	q := fmt.Sprintf(`SELECT key, value FROM "%s" LIMIT 0`, c.table)
	rows, err := c.db.QueryContext(ctx, q)
	if err != nil {
		return fmt.Errorf("table %q is not readable: %w", c.table, err)
	}
	return rows.Close()
}

// DB returns the underlying database handle
func (c *SQLiteClient) DB() *sql.DB {
	return c.db
}

// Backend implements Client.
func (c *SQLiteClient) Backend() string { return "sqlite" }

// Begin implements Client.
func (c *SQLiteClient) Begin(ctx context.Context) (Txn, error) {
	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &sqliteTxn{tx: tx, query: c.scanQuery}, nil
}

// Close implements Client.
func (c *SQLiteClient) Close() error {
	c.logger.Info("Closing SQLite store")
	return c.db.Close()
}

type sqliteTxn struct {
	tx    *sql.Tx
	query string
}

func (t *sqliteTxn) Scan(ctx context.Context, start []byte, limit int) ([]Pair, error) {
	if err := checkLimit(limit); err != nil {
		return nil, err
	}
	if start == nil {
		start = []byte{}
	}

	rows, err := t.tx.QueryContext(ctx, t.query, start, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	pairs := make([]Pair, 0, min(limit, 1024))
	for rows.Next() {
		var p Pair
		if err := rows.Scan(&p.Key, &p.Value); err != nil {
			return nil, fmt.Errorf("failed to read row: %w", err)
		}
		pairs = append(pairs, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return pairs, nil
}

func (t *sqliteTxn) Commit(ctx context.Context) error {
	return t.tx.Commit()
}

func (t *sqliteTxn) Rollback(ctx context.Context) error {
	return t.tx.Rollback()
}

var _ Client = (*SQLiteClient)(nil)
