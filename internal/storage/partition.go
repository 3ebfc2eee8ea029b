package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // Registers the "sqlite3" driver.
)

// ErrNotFound is returned when a requested row doesn't exist.
var ErrNotFound = errors.New("not found")

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
	Query(query string, args ...interface{}) (*sql.Rows, error)
	QueryRow(query string, args ...interface{}) *sql.Row
}

// Partition is one SQLite database file together with its long-running
// transaction. The transaction is a small state machine: either there is
// no transaction, or one is open at some nesting depth. Only the outermost
// CommitTransaction commits. While a transaction is open, every statement
// of the partition runs within it.
//
// A Partition is owned by a single context and is not safe for concurrent use.
type Partition struct {
	name  string
	db    *sql.DB
	tx    *sql.Tx
	depth int

	stmts map[string]*sql.Stmt
}

// OpenPartition opens the SQLite database at |path| (which may be
// ":memory:") and applies |migrations| to it.
func OpenPartition(name, path, journalMode string, migrations []migration) (*Partition, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	// All statements share the one connection of the long-running
	// transaction. This is also what makes ":memory:" a single database.
	db.SetMaxOpenConns(1)

	if err := NewMigrationRunner(db, journalMode, migrations).Run(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate %s: %w", name, err)
	}
	return &Partition{name: name, db: db, stmts: make(map[string]*sql.Stmt)}, nil
}

// Name of the Partition, for logging.
func (p *Partition) Name() string { return p.name }

// DB returns the underlying database handle.
func (p *Partition) DB() *sql.DB { return p.db }

// BeginTransaction opens the transaction, or nests within the open one.
func (p *Partition) BeginTransaction() error {
	if p.depth == 0 {
		tx, err := p.db.Begin()
		if err != nil {
			return fmt.Errorf("begin %s transaction: %w", p.name, err)
		}
		p.tx = tx
	}
	p.depth++
	return nil
}

// CommitTransaction closes one level of nesting, committing when the
// outermost level closes.
func (p *Partition) CommitTransaction() error {
	if p.depth == 0 {
		return fmt.Errorf("commit %s: no transaction is open", p.name)
	}
	p.depth--
	if p.depth != 0 {
		return nil
	}
	var tx = p.tx
	p.tx = nil
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s transaction: %w", p.name, err)
	}
	return nil
}

// TransactionNesting returns the depth of the open transaction, or zero.
func (p *Partition) TransactionNesting() int { return p.depth }

// Vacuum reclaims free pages. It requires that no transaction is open.
func (p *Partition) Vacuum() error {
	if p.depth != 0 {
		return fmt.Errorf("vacuum %s: transaction is open", p.name)
	}
	if _, err := p.db.Exec("VACUUM"); err != nil {
		return fmt.Errorf("vacuum %s: %w", p.name, err)
	}
	return nil
}

// Close rolls back any open transaction and closes the database.
func (p *Partition) Close() error {
	if p.tx != nil {
		p.tx.Rollback() //nolint:errcheck
		p.tx, p.depth = nil, 0
	}
	for _, s := range p.stmts {
		s.Close()
	}
	return p.db.Close()
}

// q returns the open transaction, or the database if there is none.
func (p *Partition) q() queryer {
	if p.tx != nil {
		return p.tx
	}
	return p.db
}

// prepare a named statement. Statements must be prepared before the first
// transaction is opened.
func (p *Partition) prepare(name, query string) error {
	s, err := p.db.Prepare(query)
	if err != nil {
		return fmt.Errorf("prepare %s: %w", name, err)
	}
	p.stmts[name] = s
	return nil
}

// stmt returns the named statement, bound to the open transaction if any.
func (p *Partition) stmt(name string) *sql.Stmt {
	var s = p.stmts[name]
	if p.tx != nil {
		return p.tx.Stmt(s)
	}
	return s
}

// tableExists reports whether |table| is in the schema.
func (p *Partition) tableExists(table string) (bool, error) {
	var n int
	if err := p.q().QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table,
	).Scan(&n); err != nil {
		return false, err
	}
	return n != 0, nil
}

// toDB converts a time to its stored form: microseconds since the Unix
// epoch, with zero for the zero time.
func toDB(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMicro()
}

// fromDB inverts toDB.
func fromDB(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.UnixMicro(v).UTC()
}

// endToDB converts an exclusive range end, where the zero time is unbounded.
func endToDB(t time.Time) int64 {
	if t.IsZero() {
		return maxTime
	}
	return t.UnixMicro()
}

const maxTime = int64(^uint64(0) >> 1)

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
