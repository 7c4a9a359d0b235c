package db

import "github.com/jmoiron/sqlx"

// Pool splits database access into a write handle and a read handle.
//
// On SQLite the split is what makes WAL mode pay off: the writer is capped at
// one connection so statements never fight over the write lock, and the
// reader keeps several read-only connections that serve queries from WAL
// snapshots. On Postgres both handles are the same *sqlx.DB, since pgx pools
// connections on its own.
type Pool struct {
	writer *sqlx.DB
	reader *sqlx.DB
}

// NewPool wraps the given write and read handles. Passing the same handle
// twice is valid and is how the Postgres pool is built.
func NewPool(writer, reader *sqlx.DB) *Pool {
	return &Pool{writer: writer, reader: reader}
}

// Writer returns the handle for statements that mutate data or open
// transactions.
func (p *Pool) Writer() *sqlx.DB { return p.writer }

// Reader returns the handle for queries.
func (p *Pool) Reader() *sqlx.DB { return p.reader }

// Close closes both handles, closing a shared handle only once.
func (p *Pool) Close() error {
	err := p.writer.Close()
	if p.reader != p.writer {
		if rErr := p.reader.Close(); rErr != nil && err == nil {
			err = rErr
		}
	}
	return err
}
