package db

import (
	"errors"

	"github.com/shuttle-bridge/shuttle/node/pkg/message"

	"github.com/dgraph-io/badger/v3"
	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var storedFailedTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "shuttle_db_total_failed_messages",
		Help: "Total number of failed-message records added to the database",
	})

// failedPrefix isolates the FailedMessageRecord namespace. A record commits a
// message id to the digest of the full message that failed processing.
const failedPrefix = "XFER:FAILED:V1:"

var ErrFailedMsgNotFound = errors.New("requested failed message not found in store")

type TransferDBInterface interface {
	StoreFailed(id message.ID, digest common.Hash) error
	GetFailedDigest(id message.ID) (common.Hash, error)
	DeleteFailed(id message.ID) error
	LoadAllFailed() ([]FailedRecord, error)
}

// TransferDB is a wrapper struct for a database connection. It provides some
// separation between the inbound processor's persistence and the general
// functioning of db.Database.
type TransferDB struct {
	db *badger.DB
}

func NewTransferDB(dbConn *badger.DB) *TransferDB {
	return &TransferDB{
		db: dbConn,
	}
}

// FailedRecord is one persisted failed-message commitment.
type FailedRecord struct {
	ID     message.ID
	Digest common.Hash
}

func (d *TransferDB) StoreFailed(id message.ID, digest common.Hash) error {
	key := failedKey(id)
	if updateErr := d.update(key, digest.Bytes()); updateErr != nil {
		return updateErr
	}
	storedFailedTotal.Inc()
	return nil
}

func (d *TransferDB) GetFailedDigest(id message.ID) (common.Hash, error) {
	var digest common.Hash
	key := failedKey(id)
	readErr := d.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		data, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if len(data) != common.HashLength {
			return ErrUnmarshal
		}
		digest = common.BytesToHash(data)
		return nil
	})
	if errors.Is(readErr, badger.ErrKeyNotFound) {
		return digest, ErrFailedMsgNotFound
	}
	if readErr != nil {
		return digest, &DBError{Op: OpRead, Key: key, Err: readErr}
	}
	return digest, nil
}

func (d *TransferDB) DeleteFailed(id message.ID) error {
	return d.deleteEntry(failedKey(id))
}

func (d *TransferDB) LoadAllFailed() ([]FailedRecord, error) {
	records := make([]FailedRecord, 0)
	viewErr := d.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchSize = 10
		it := txn.NewIterator(opts)
		defer it.Close()
		prefix := []byte(failedPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			data, copyErr := item.ValueCopy(nil)
			if copyErr != nil {
				return copyErr
			}
			if len(data) != common.HashLength {
				return ErrUnmarshal
			}
			id, idErr := message.IDFromString(string(item.Key()[len(failedPrefix):]))
			if idErr != nil {
				return errors.Join(ErrUnmarshal, idErr)
			}
			records = append(records, FailedRecord{ID: id, Digest: common.BytesToHash(data)})
		}
		return nil
	})

	if viewErr != nil {
		// No key provided here since the View function is iterating over the
		// whole namespace.
		return nil, &DBError{Op: OpRead, Err: viewErr}
	}

	return records, nil
}

func (d *TransferDB) update(key []byte, data []byte) error {
	updateErr := d.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})

	if updateErr != nil {
		return &DBError{Op: OpUpdate, Key: key, Err: updateErr}
	}

	return nil
}

func (d *TransferDB) deleteEntry(key []byte) error {
	if updateErr := d.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	}); updateErr != nil {
		return &DBError{Op: OpDelete, Key: key, Err: updateErr}
	}

	return nil
}

// failedKey returns the namespaced key for one failed-message record.
func failedKey(id message.ID) []byte {
	return key(failedPrefix, id.String())
}
