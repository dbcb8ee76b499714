// Package pgtable stores registry groups in PostgreSQL.
//
// All groups share one entries relation keyed by (table, key). A batch runs in one transaction
// holding the row lock of its table, so batches of one group are serialized while different
// groups proceed in parallel. Entry versions come from one global sequence.
package pgtable

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tryfix/errors"
	"github.com/tryfix/log"
	sr "github.com/tryfix/schemaregistry/v3"
	"github.com/tryfix/schemaregistry/v3/storage"
)

// DefaultMaxEntrySize is the largest entry value stored unless configured.
const DefaultMaxEntrySize = 1024 * 1024

const migration = `
CREATE TABLE IF NOT EXISTS schemaregistry_tables (
	name TEXT PRIMARY KEY
);
CREATE TABLE IF NOT EXISTS schemaregistry_entries (
	table_name TEXT   NOT NULL REFERENCES schemaregistry_tables (name) ON DELETE CASCADE,
	key        BYTEA  NOT NULL,
	value      BYTEA  NOT NULL,
	version    BIGINT NOT NULL,
	PRIMARY KEY (table_name, key)
);
CREATE SEQUENCE IF NOT EXISTS schemaregistry_versions;
`

type options struct {
	logger       log.Logger
	maxEntrySize int
}

// Option is a type to host New configurations
type Option func(*options)

// WithLogger returns a Configurations to create a New table with given PrefixedLogger
func WithLogger(logger log.Logger) Option {
	return func(options *options) {
		options.logger = logger
	}
}

// WithMaxEntrySize limits entry values to size bytes.
func WithMaxEntrySize(size int) Option {
	return func(options *options) {
		options.maxEntrySize = size
	}
}

// Table is a storage.Table backed by a pgx connection pool.
type Table struct {
	pool         *pgxpool.Pool
	maxEntrySize int
	logger       log.Logger
}

var _ storage.Table = (*Table)(nil)

// Connect opens a pool for connStr and returns a migrated Table. Close releases the pool.
func Connect(ctx context.Context, connStr string, opts ...Option) (*Table, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, unavailable(`pgtable.Connect`, err, `pool creation failed`)
	}

	t, err := New(ctx, pool, opts...)
	if err != nil {
		pool.Close()
		return nil, err
	}

	return t, nil
}

// New returns a Table using pool, creating its relations if they do not exist.
func New(ctx context.Context, pool *pgxpool.Pool, opts ...Option) (*Table, error) {
	o := &options{maxEntrySize: DefaultMaxEntrySize}
	for _, opt := range opts {
		opt(o)
	}

	if o.logger == nil {
		o.logger = log.NewNoopLogger()
	}

	if _, err := pool.Exec(ctx, migration); err != nil {
		return nil, unavailable(`pgtable.New`, err, `migration failed`)
	}

	t := &Table{
		pool:         pool,
		maxEntrySize: o.maxEntrySize,
		logger:       o.logger.NewLog(log.Prefixed(`PgTable`)),
	}
	t.logger.Info(`relations ready`)

	return t, nil
}

func (t *Table) Close() {
	t.pool.Close()
}

func (t *Table) CreateTable(ctx context.Context, table string) error {
	tag, err := t.pool.Exec(ctx, `INSERT INTO schemaregistry_tables (name) VALUES ($1) ON CONFLICT DO NOTHING`, table)
	if err != nil {
		return unavailable(`pgtable.CreateTable`, err, table)
	}

	if tag.RowsAffected() == 0 {
		return sr.NewError(sr.KindGroupExists, `pgtable.CreateTable`, fmt.Sprintf(`table [%s] exists`, table))
	}

	t.logger.Debug(fmt.Sprintf(`table [%s] created`, table))

	return nil
}

func (t *Table) DeleteTable(ctx context.Context, table string) error {
	tag, err := t.pool.Exec(ctx, `DELETE FROM schemaregistry_tables WHERE name = $1`, table)
	if err != nil {
		return unavailable(`pgtable.DeleteTable`, err, table)
	}

	if tag.RowsAffected() == 0 {
		return tableNotFound(`pgtable.DeleteTable`, table)
	}

	t.logger.Debug(fmt.Sprintf(`table [%s] deleted`, table))

	return nil
}

func (t *Table) Get(ctx context.Context, table string, key []byte) (storage.Entry, error) {
	e := storage.Entry{Key: key}
	err := t.pool.QueryRow(ctx,
		`SELECT value, version FROM schemaregistry_entries WHERE table_name = $1 AND key = $2`,
		table, key).Scan(&e.Value, &e.Version)
	if err == nil {
		return e, nil
	}

	if !stderrors.Is(err, pgx.ErrNoRows) {
		return storage.Entry{}, unavailable(`pgtable.Get`, err, table)
	}

	var exists bool
	if err := t.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM schemaregistry_tables WHERE name = $1)`, table).Scan(&exists); err != nil {
		return storage.Entry{}, unavailable(`pgtable.Get`, err, table)
	}

	if !exists {
		return storage.Entry{}, tableNotFound(`pgtable.Get`, table)
	}

	return storage.Entry{}, sr.NewError(sr.KindNotFound, `pgtable.Get`, fmt.Sprintf(`key not found in [%s]`, table))
}

func (t *Table) Put(ctx context.Context, table string, entries ...storage.Entry) ([]storage.Version, error) {
	for _, e := range entries {
		if len(e.Value) > t.maxEntrySize {
			return nil, sr.NewError(sr.KindConfiguration, `pgtable.Put`,
				fmt.Sprintf(`entry of %d bytes exceeds the limit of %d`, len(e.Value), t.maxEntrySize))
		}
	}

	var versions []storage.Version
	err := t.inTx(ctx, `pgtable.Put`, table, entries, func(tx pgx.Tx) error {
		versions = make([]storage.Version, len(entries))
		for i, e := range entries {
			value := e.Value
			if value == nil {
				value = []byte{}
			}

			if err := tx.QueryRow(ctx, `
				INSERT INTO schemaregistry_entries (table_name, key, value, version)
				VALUES ($1, $2, $3, nextval('schemaregistry_versions'))
				ON CONFLICT (table_name, key) DO UPDATE SET value = EXCLUDED.value, version = EXCLUDED.version
				RETURNING version`, table, e.Key, value).Scan(&versions[i]); err != nil {
				return unavailable(`pgtable.Put`, err, table)
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return versions, nil
}

func (t *Table) Delete(ctx context.Context, table string, keys ...storage.Entry) error {
	return t.inTx(ctx, `pgtable.Delete`, table, keys, func(tx pgx.Tx) error {
		for _, k := range keys {
			if _, err := tx.Exec(ctx,
				`DELETE FROM schemaregistry_entries WHERE table_name = $1 AND key = $2`, table, k.Key); err != nil {
				return unavailable(`pgtable.Delete`, err, table)
			}
		}

		return nil
	})
}

func (t *Table) MaxEntrySize() int { return t.maxEntrySize }

// inTx locks table, verifies the expected versions of entries and runs fn in one transaction.
func (t *Table) inTx(ctx context.Context, op, table string, entries []storage.Entry, fn func(tx pgx.Tx) error) error {
	tx, err := t.pool.Begin(ctx)
	if err != nil {
		return unavailable(op, err, `begin failed`)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var name string
	err = tx.QueryRow(ctx, `SELECT name FROM schemaregistry_tables WHERE name = $1 FOR UPDATE`, table).Scan(&name)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return tableNotFound(op, table)
	}
	if err != nil {
		return unavailable(op, err, table)
	}

	for _, e := range entries {
		if err := check(ctx, tx, op, table, e); err != nil {
			return err
		}
	}

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return unavailable(op, err, `commit failed`)
	}

	return nil
}

func check(ctx context.Context, tx pgx.Tx, op, table string, e storage.Entry) error {
	if e.Version == storage.AnyVersion {
		return nil
	}

	var current storage.Version
	err := tx.QueryRow(ctx,
		`SELECT version FROM schemaregistry_entries WHERE table_name = $1 AND key = $2`, table, e.Key).Scan(&current)
	exists := err == nil
	if err != nil && !stderrors.Is(err, pgx.ErrNoRows) {
		return unavailable(op, err, table)
	}

	switch {
	case e.Version == storage.NotExists && exists:
		return sr.NewError(sr.KindConcurrentModification, op, fmt.Sprintf(`key exists at version %d`, current))
	case e.Version == storage.NotExists:
	case !exists:
		return sr.NewError(sr.KindConcurrentModification, op, fmt.Sprintf(`expected version %d, key does not exist`, e.Version))
	case current != e.Version:
		return sr.NewError(sr.KindConcurrentModification, op, fmt.Sprintf(`expected version %d, found %d`, e.Version, current))
	}

	return nil
}

func unavailable(op string, err error, msg string) error {
	return sr.WrapError(sr.KindServiceUnavailable, op, errors.WithPrevious(err, msg), ``)
}

func tableNotFound(op, table string) error {
	return sr.NewError(sr.KindGroupNotFound, op, fmt.Sprintf(`table [%s] does not exist`, table))
}
