// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package storage

import (
	"database/sql"
	"fmt"
	"iter"
	"net/url"
	"os"
	"time"

	"github.com/juju/errors"
	_ "github.com/mattn/go-sqlite3"
)

// MemoryPath opens an in-memory SQLite store.
const MemoryPath = ":memory:"

// lockTimeout is how long opening the store waits for another process
// holding the exclusive lock.
const lockTimeout = time.Hour

// noticePageSize bounds the rows read per query while iterating notices.
const noticePageSize = 64

// SQLiteStorage is a Storage backed by a local SQLite database file.
// The database is locked for the lifetime of the value and all changes
// happen inside a single transaction that is only made durable by
// Commit.
type SQLiteStorage struct {
	path string
	db   *sql.DB
	tx   *sql.Tx

	// noticeChanges counts notices saved and dropped, so iterations
	// know when the page they hold is stale.
	noticeChanges int
}

// NewSQLiteStorage opens (creating if needed) the SQLite database at
// path. Use MemoryPath for a transient store.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	if path != MemoryPath {
		if err := ensureFile(path); err != nil {
			return nil, errors.Annotatef(err, "preparing state database %q", path)
		}
	}
	db, err := sql.Open("sqlite3", dsn(path, false, lockTimeout))
	if err != nil {
		return nil, errors.Annotatef(err, "opening state database %q", path)
	}
	// Every statement runs inside the open transaction, which owns the
	// only connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteStorage{path: path, db: db}
	if err := s.setup(); err != nil {
		_ = db.Close()
		return nil, errors.Annotatef(err, "setting up state database %q", path)
	}
	if err := s.begin(); err != nil {
		_ = db.Close()
		return nil, errors.Trace(err)
	}
	return s, nil
}

// OpenSQLiteStorageReadOnly opens an existing state database without
// creating or changing anything, waiting at most lockTimeout for a
// process holding the lock. Saving through the result fails.
func OpenSQLiteStorageReadOnly(path string, lockTimeout time.Duration) (*SQLiteStorage, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, errors.NotFoundf("state database %q", path)
	} else if err != nil {
		return nil, errors.Trace(err)
	}
	db, err := sql.Open("sqlite3", dsn(path, true, lockTimeout))
	if err != nil {
		return nil, errors.Annotatef(err, "opening state database %q", path)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteStorage{path: path, db: db}
	if err := s.begin(); err != nil {
		_ = db.Close()
		return nil, errors.Trace(err)
	}
	ok, err := s.hasSchema(s.tx)
	if err == nil && !ok {
		err = errors.NotValidf("%q as a state database", path)
	}
	if err != nil {
		_ = s.Close()
		return nil, errors.Trace(err)
	}
	return s, nil
}

func dsn(path string, readOnly bool, timeout time.Duration) string {
	params := url.Values{}
	if readOnly {
		params.Set("mode", "ro")
		params.Set("_txlock", "deferred")
	} else {
		params.Set("_txlock", "exclusive")
		params.Set("_locking_mode", "EXCLUSIVE")
	}
	params.Set("_busy_timeout", fmt.Sprint(timeout.Milliseconds()))
	return fmt.Sprintf("file:%s?%s", path, params.Encode())
}

func ensureFile(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if os.IsExist(err) {
		return nil
	} else if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(f.Close())
}

// setup creates the schema unless it already exists. It is committed on
// its own so that a process dying during creation cannot leave a
// half-made schema behind.
func (s *SQLiteStorage) setup() error {
	tx, err := s.db.Begin()
	if err != nil {
		return errors.Trace(err)
	}
	exists, err := s.hasSchema(tx)
	if err != nil {
		_ = tx.Rollback()
		return errors.Trace(err)
	}
	if exists {
		return errors.Trace(tx.Commit())
	}
	logger.Debugf("creating state schema in %q", s.path)
	for _, stmt := range []string{
		`CREATE TABLE snapshot (handle TEXT PRIMARY KEY, data BLOB)`,
		`
CREATE TABLE notice (
  sequence INTEGER PRIMARY KEY AUTOINCREMENT,
  event_path TEXT,
  observer_path TEXT,
  method_name TEXT)`[1:],
	} {
		if _, err := tx.Exec(stmt); err != nil {
			_ = tx.Rollback()
			return errors.Trace(err)
		}
	}
	return errors.Trace(tx.Commit())
}

func (s *SQLiteStorage) hasSchema(tx *sql.Tx) (bool, error) {
	var count int
	row := tx.QueryRow(`
SELECT count(name) FROM sqlite_master
WHERE  type = 'table' AND name = 'snapshot'`[1:])
	if err := row.Scan(&count); err != nil {
		return false, errors.Trace(err)
	}
	return count > 0, nil
}

func (s *SQLiteStorage) begin() error {
	tx, err := s.db.Begin()
	if err != nil {
		return errors.Annotate(err, "starting state transaction")
	}
	s.tx = tx
	return nil
}

// SaveSnapshot is part of the Storage interface.
func (s *SQLiteStorage) SaveSnapshot(handlePath string, data []byte) error {
	_, err := s.tx.Exec(`
INSERT INTO snapshot (handle, data) VALUES (?, ?)
  ON CONFLICT(handle) DO UPDATE SET data = excluded.data`[1:], handlePath, data)
	return errors.Annotatef(err, "saving snapshot %q", handlePath)
}

// LoadSnapshot is part of the Storage interface.
func (s *SQLiteStorage) LoadSnapshot(handlePath string) ([]byte, error) {
	var data []byte
	err := s.tx.QueryRow(`SELECT data FROM snapshot WHERE handle = ?`, handlePath).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NotFoundf("snapshot %q", handlePath)
	} else if err != nil {
		return nil, errors.Annotatef(err, "loading snapshot %q", handlePath)
	}
	return data, nil
}

// DropSnapshot is part of the Storage interface.
func (s *SQLiteStorage) DropSnapshot(handlePath string) error {
	_, err := s.tx.Exec(`DELETE FROM snapshot WHERE handle = ?`, handlePath)
	return errors.Annotatef(err, "dropping snapshot %q", handlePath)
}

// SnapshotPaths returns the handle paths of every stored snapshot,
// sorted.
func (s *SQLiteStorage) SnapshotPaths() ([]string, error) {
	rows, err := s.tx.Query(`SELECT handle FROM snapshot ORDER BY handle`)
	if err != nil {
		return nil, errors.Annotate(err, "listing snapshots")
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return nil, errors.Trace(err)
		}
		paths = append(paths, path)
	}
	return paths, errors.Trace(rows.Err())
}

// SaveNotice is part of the Storage interface.
func (s *SQLiteStorage) SaveNotice(eventPath, observerPath, methodName string) error {
	_, err := s.tx.Exec(`
INSERT INTO notice (event_path, observer_path, method_name)
VALUES (?, ?, ?)`[1:], eventPath, observerPath, methodName)
	s.noticeChanges++
	return errors.Annotatef(err, "saving notice for %q", eventPath)
}

// DropNotice is part of the Storage interface.
func (s *SQLiteStorage) DropNotice(eventPath, observerPath, methodName string) error {
	_, err := s.tx.Exec(`
DELETE FROM notice
WHERE  event_path = ? AND observer_path = ? AND method_name = ?`[1:],
		eventPath, observerPath, methodName)
	s.noticeChanges++
	return errors.Annotatef(err, "dropping notice for %q", eventPath)
}

// Notices is part of the Storage interface. Rows are read a page at a
// time. A page is read again after any notice is saved or dropped
// through s, so those changes are seen by the iteration.
func (s *SQLiteStorage) Notices(eventPath string) iter.Seq2[Notice, error] {
	return func(yield func(Notice, error) bool) {
		var last int64
		for {
			changes := s.noticeChanges
			page, err := s.noticePage(eventPath, last)
			if err != nil {
				yield(Notice{}, err)
				return
			}
			stale := false
			for _, n := range page {
				last = n.Sequence
				if !yield(n, nil) {
					return
				}
				if s.noticeChanges != changes {
					stale = true
					break
				}
			}
			if !stale && len(page) < noticePageSize {
				return
			}
		}
	}
}

func (s *SQLiteStorage) noticePage(eventPath string, after int64) ([]Notice, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if eventPath == "" {
		rows, err = s.tx.Query(`
SELECT sequence, event_path, observer_path, method_name
FROM   notice
WHERE  sequence > ?
ORDER BY sequence
LIMIT  ?`[1:], after, noticePageSize)
	} else {
		rows, err = s.tx.Query(`
SELECT sequence, event_path, observer_path, method_name
FROM   notice
WHERE  sequence > ? AND event_path = ?
ORDER BY sequence
LIMIT  ?`[1:], after, eventPath, noticePageSize)
	}
	if err != nil {
		return nil, errors.Annotate(err, "reading notices")
	}
	defer rows.Close()

	var page []Notice
	for rows.Next() {
		var n Notice
		if err := rows.Scan(&n.Sequence, &n.EventPath, &n.ObserverPath, &n.MethodName); err != nil {
			return nil, errors.Trace(err)
		}
		page = append(page, n)
	}
	return page, errors.Trace(rows.Err())
}

// Commit is part of the Storage interface. A new transaction is started
// straight away.
func (s *SQLiteStorage) Commit() error {
	if err := s.tx.Commit(); err != nil {
		return errors.Annotate(err, "committing state")
	}
	s.tx = nil
	return errors.Trace(s.begin())
}

// Close is part of the Storage interface.
func (s *SQLiteStorage) Close() error {
	if s.tx != nil {
		_ = s.tx.Rollback()
		s.tx = nil
	}
	return errors.Trace(s.db.Close())
}
