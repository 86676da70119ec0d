// Package db defines the narrow database interfaces the analysis packages
// depend on, plus a pgx-backed implementation.
//
// Everything above this package talks to PostgreSQL exclusively through
// Queryer, Execer and Beginner, so tests can substitute fakes and the
// analysis code never sees a concrete driver type.
package db

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/jackc/pgx/v5"
)

// Rows is the subset of a driver result set the analysis code iterates.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close()
}

// Queryer issues queries returning row sets.
type Queryer interface {
	Query(ctx context.Context, sql string, args ...any) (Rows, error)
}

// Execer issues statements whose results are discarded (SET, DDL).
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) error
}

// Tx is a transaction scope. Session state set inside it (such as the
// hypopg.enabled GUC) is visible to subsequent statements on the same Tx.
type Tx interface {
	Queryer
	Execer
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Beginner opens transactions.
type Beginner interface {
	Begin(ctx context.Context) (Tx, error)
}

// Session is one live database connection.
type Session interface {
	Queryer
	Execer
	Beginner
	Close(ctx context.Context) error
}

// Connect opens a single pgx connection to the given URL.
func Connect(ctx context.Context, connURL string) (Session, error) {
	conn, err := pgx.Connect(ctx, connURL)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	return &pgxSession{conn: conn}, nil
}

type pgxSession struct {
	conn *pgx.Conn
}

func (s *pgxSession) Query(ctx context.Context, sql string, args ...any) (Rows, error) {
	rows, err := s.conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *pgxSession) Exec(ctx context.Context, sql string, args ...any) error {
	_, err := s.conn.Exec(ctx, sql, args...)
	return err
}

func (s *pgxSession) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &pgxTx{tx: tx}, nil
}

func (s *pgxSession) Close(ctx context.Context) error {
	return s.conn.Close(ctx)
}

type pgxTx struct {
	tx pgx.Tx
}

func (t *pgxTx) Query(ctx context.Context, sql string, args ...any) (Rows, error) {
	rows, err := t.tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (t *pgxTx) Exec(ctx context.Context, sql string, args ...any) error {
	_, err := t.tx.Exec(ctx, sql, args...)
	return err
}

func (t *pgxTx) Commit(ctx context.Context) error   { return t.tx.Commit(ctx) }
func (t *pgxTx) Rollback(ctx context.Context) error { return t.tx.Rollback(ctx) }

// Cluster hands out sessions against arbitrary databases of one server,
// rewriting the database name of a base connection URL. Sampling EXPLAIN
// plans runs against the database a query was observed in, which is rarely
// the one holding the statistics tables.
type Cluster struct {
	baseURL string
	open    map[string]Session
}

// NewCluster returns a Cluster using connURL as the template connection.
func NewCluster(connURL string) *Cluster {
	return &Cluster{baseURL: connURL, open: make(map[string]Session)}
}

// Acquire returns a session connected to the named database, reusing an
// already-open one. An empty name means the database of the base URL.
func (c *Cluster) Acquire(ctx context.Context, database string) (Session, error) {
	if s, ok := c.open[database]; ok {
		return s, nil
	}
	target := c.baseURL
	if database != "" {
		u, err := rewriteDatabase(c.baseURL, database)
		if err != nil {
			return nil, err
		}
		target = u
	}
	s, err := Connect(ctx, target)
	if err != nil {
		return nil, err
	}
	c.open[database] = s
	return s, nil
}

// Explain runs EXPLAIN for the query against the named database and
// returns the plan lines.
func (c *Cluster) Explain(ctx context.Context, database, query string) ([]string, error) {
	s, err := c.Acquire(ctx, database)
	if err != nil {
		return nil, err
	}
	rows, err := s.Query(ctx, "EXPLAIN "+query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []string
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

// Close closes every session the cluster opened. The first error wins.
func (c *Cluster) Close(ctx context.Context) error {
	var first error
	for name, s := range c.open {
		if err := s.Close(ctx); err != nil && first == nil {
			first = fmt.Errorf("close %q: %w", name, err)
		}
		delete(c.open, name)
	}
	return first
}

// rewriteDatabase swaps the database (path) component of a postgres URL.
func rewriteDatabase(connURL, database string) (string, error) {
	u, err := url.Parse(connURL)
	if err != nil {
		return "", fmt.Errorf("parse connection url: %w", err)
	}
	if !strings.HasPrefix(u.Scheme, "postgres") {
		return "", fmt.Errorf("unsupported connection url scheme %q", u.Scheme)
	}
	u.Path = "/" + database
	return u.String(), nil
}
