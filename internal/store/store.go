// Package store persists a raw gadget corpus across invocations, so a
// slow analyse-and-classify pass over a large binary does not have to
// rerun for every subsequent compile against the same target.
// Grounded on internal/database/db_manager.go's connection-manager
// shape from the retrieved language-toolchain repo: a mutex-guarded map
// of named *sql.DB connections, one blank-imported driver per DSN
// scheme.
package store

import (
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/denisenkom/go-mssqldb"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"

	"ropgen/internal/gadgetdb"
)

// Manager owns a set of named database connections, each backing a
// gadget corpus cache.
type Manager struct {
	mu          sync.RWMutex
	connections map[string]*conn
}

type conn struct {
	db      *sql.DB
	driver  string
	created time.Time
}

func NewManager() *Manager {
	return &Manager{connections: make(map[string]*conn)}
}

// driverFor maps a DSN's scheme prefix to the database/sql driver name
// registered by this package's blank imports. sqlite3:// selects the
// cgo-based mattn/go-sqlite3 driver instead of the pure-Go default, for
// deployments that already pay the cgo cost and want its faster writes.
func driverFor(dsn string) (string, error) {
	switch {
	case strings.HasPrefix(dsn, "sqlite3://"):
		return "sqlite3", nil
	case strings.HasPrefix(dsn, "sqlite://"), strings.HasSuffix(dsn, ".db"), strings.HasSuffix(dsn, ".sqlite"):
		return "sqlite", nil
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return "postgres", nil
	case strings.HasPrefix(dsn, "mysql://"):
		return "mysql", nil
	case strings.HasPrefix(dsn, "sqlserver://"):
		return "sqlserver", nil
	default:
		return "", fmt.Errorf("store: cannot infer a database driver from DSN %q", dsn)
	}
}

// trimScheme strips the scheme prefix this package recognizes but the
// underlying driver does not expect in its DSN form.
func trimScheme(driver, dsn string) string {
	switch driver {
	case "sqlite":
		return strings.TrimPrefix(dsn, "sqlite://")
	case "sqlite3":
		return strings.TrimPrefix(dsn, "sqlite3://")
	case "mysql":
		return strings.TrimPrefix(dsn, "mysql://")
	default:
		return dsn
	}
}

// Connect opens (or reopens) a named corpus connection and ensures the
// gadgets table exists.
func (m *Manager) Connect(id, dsn string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.connections[id]; exists {
		return fmt.Errorf("store: connection %q already open", id)
	}

	driver, err := driverFor(dsn)
	if err != nil {
		return err
	}

	db, err := sql.Open(driver, trimScheme(driver, dsn))
	if err != nil {
		return fmt.Errorf("store: open %s: %w", driver, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return fmt.Errorf("store: ping %s: %w", driver, err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS gadgets (
		corpus TEXT NOT NULL,
		addr BIGINT NOT NULL,
		raw_hex TEXT NOT NULL
	)`); err != nil {
		db.Close()
		return fmt.Errorf("store: create schema: %w", err)
	}

	m.connections[id] = &conn{db: db, driver: driver, created: time.Now()}
	return nil
}

func (m *Manager) get(id string) (*conn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.connections[id]
	if !ok {
		return nil, fmt.Errorf("store: unknown connection %q", id)
	}
	return c, nil
}

// Close closes and forgets a named connection.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.connections[id]
	if !ok {
		return fmt.Errorf("store: unknown connection %q", id)
	}
	delete(m.connections, id)
	return c.db.Close()
}

// rebind rewrites `?` placeholders to the numbered `$1, $2, ...` form
// postgres and sqlserver expect; sqlite and mysql take query unchanged.
func (c *conn) rebind(query string) string {
	if c.driver != "postgres" && c.driver != "sqlserver" {
		return query
	}
	var b strings.Builder
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// SaveRaw caches corpus's raw gadgets under connID, so a later Load for
// the same corpus skips re-reading the source file.
func (m *Manager) SaveRaw(connID, corpus string, raws []gadgetdb.RawGadget) error {
	c, err := m.get(connID)
	if err != nil {
		return err
	}

	tx, err := c.db.Begin()
	if err != nil {
		return err
	}
	if _, err := tx.Exec(c.rebind(`DELETE FROM gadgets WHERE corpus = ?`), corpus); err != nil {
		tx.Rollback()
		return err
	}
	stmt, err := tx.Prepare(c.rebind(`INSERT INTO gadgets (corpus, addr, raw_hex) VALUES (?, ?, ?)`))
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()
	for _, r := range raws {
		if _, err := stmt.Exec(corpus, int64(r.Addr), fmt.Sprintf("%x", r.Raw)); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// LoadRaw retrieves a previously saved corpus's raw gadgets under
// connID. It returns (nil, nil) if nothing was ever saved for corpus.
func (m *Manager) LoadRaw(connID, corpus string) ([]gadgetdb.RawGadget, error) {
	c, err := m.get(connID)
	if err != nil {
		return nil, err
	}

	rows, err := c.db.Query(c.rebind(`SELECT addr, raw_hex FROM gadgets WHERE corpus = ?`), corpus)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []gadgetdb.RawGadget
	for rows.Next() {
		var addr int64
		var hexStr string
		if err := rows.Scan(&addr, &hexStr); err != nil {
			return nil, err
		}
		raw, err := decodeHex(hexStr)
		if err != nil {
			return nil, err
		}
		out = append(out, gadgetdb.RawGadget{Addr: uint64(addr), Raw: raw})
	}
	return out, rows.Err()
}

func decodeHex(s string) ([]byte, error) {
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("store: corrupt raw_hex column %q", s)
	}
	out := make([]byte, len(s)/2)
	for i := range out {
		var b byte
		if _, err := fmt.Sscanf(s[i*2:i*2+2], "%02x", &b); err != nil {
			return nil, err
		}
		out[i] = b
	}
	return out, nil
}
