package db

import (
	"errors"
	"fmt"
	"os"
	"path"

	"github.com/dgraph-io/badger/v3"
	"go.uber.org/zap"
)

// Database is the node's persistent store. The failed-message records and the
// corridor registries live in disjoint key namespaces; area-specific wrapper
// types (TransferDB, RegistryDB) own one namespace each and never touch the
// others.
type Database struct {
	db *badger.DB
}

func Open(path string) (*Database, error) {
	db, err := badger.Open(badger.DefaultOptions(path))
	if err != nil {
		return nil, err
	}
	return &Database{db: db}, nil
}

// OpenInMemory returns an ephemeral database for devnet and tests.
func OpenInMemory() (*Database, error) {
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		return nil, err
	}
	return &Database{db: db}, nil
}

func OpenDb(logger *zap.Logger, dataDir *string) *Database {
	dbPath := path.Join(*dataDir, "db")
	if err := os.MkdirAll(dbPath, 0700); err != nil {
		logger.Fatal("failed to create database directory", zap.Error(err))
	}
	db, err := Open(dbPath)
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}

	return db
}

func (d *Database) Close() error {
	return d.db.Close()
}

func (d *Database) Conn() *badger.DB {
	return d.db
}

var (
	ErrMarshal   = errors.New("db: marshal")
	ErrUnmarshal = errors.New("db: unmarshal")
)

// Operation represents a database operation type
type Operation string

const (
	OpRead   Operation = "read"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

type DBError struct {
	Op  Operation
	Key []byte
	Err error
}

func (e *DBError) Unwrap() error {
	return e.Err
}

func (e *DBError) Error() string {
	return fmt.Sprintf("node database: %s key: %x error: %v", e.Op, e.Key, e.Err)
}

// key returns a namespaced key for one entry.
func key(prefix string, suffix string) (key []byte) {
	return fmt.Appendf(key, "%v%v", prefix, suffix)
}
