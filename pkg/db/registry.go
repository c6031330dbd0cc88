package db

import (
	"errors"
	"strconv"

	"github.com/shuttle-bridge/shuttle/node/pkg/message"

	"github.com/dgraph-io/badger/v3"
	"github.com/ethereum/go-ethereum/common"
)

// Prefixes isolating the two corridor registries. Keys are the decimal remote
// selector; absence of a key means the corridor is unsupported.
const (
	adapterPrefix      = "REG:ADAPTER:V1:"
	counterpartyPrefix = "REG:COUNTERPARTY:V1:"
)

type RegistryDBInterface interface {
	StoreAdapter(selector message.Selector, adapter string) error
	DeleteAdapter(selector message.Selector) error
	LoadAdapters() (map[message.Selector]string, error)
	StoreCounterparty(selector message.Selector, counterparty common.Address) error
	DeleteCounterparty(selector message.Selector) error
	LoadCounterparties() (map[message.Selector]common.Address, error)
}

// RegistryDB is a wrapper struct for a database connection owning the two
// registry namespaces.
type RegistryDB struct {
	db *badger.DB
}

func NewRegistryDB(dbConn *badger.DB) *RegistryDB {
	return &RegistryDB{
		db: dbConn,
	}
}

func (d *RegistryDB) StoreAdapter(selector message.Selector, adapter string) error {
	if adapter == "" {
		return ErrMarshal
	}
	return d.update(adapterKey(selector), []byte(adapter))
}

func (d *RegistryDB) DeleteAdapter(selector message.Selector) error {
	return d.deleteEntry(adapterKey(selector))
}

func (d *RegistryDB) LoadAdapters() (map[message.Selector]string, error) {
	adapters := make(map[message.Selector]string)
	loadErr := d.loadPrefix(adapterPrefix, func(selector message.Selector, data []byte) error {
		if len(data) == 0 {
			return ErrUnmarshal
		}
		adapters[selector] = string(data)
		return nil
	})
	if loadErr != nil {
		return nil, loadErr
	}
	return adapters, nil
}

func (d *RegistryDB) StoreCounterparty(selector message.Selector, counterparty common.Address) error {
	return d.update(counterpartyKey(selector), counterparty.Bytes())
}

func (d *RegistryDB) DeleteCounterparty(selector message.Selector) error {
	return d.deleteEntry(counterpartyKey(selector))
}

func (d *RegistryDB) LoadCounterparties() (map[message.Selector]common.Address, error) {
	counterparties := make(map[message.Selector]common.Address)
	loadErr := d.loadPrefix(counterpartyPrefix, func(selector message.Selector, data []byte) error {
		if len(data) != common.AddressLength {
			return ErrUnmarshal
		}
		counterparties[selector] = common.BytesToAddress(data)
		return nil
	})
	if loadErr != nil {
		return nil, loadErr
	}
	return counterparties, nil
}

// loadPrefix iterates one registry namespace, parsing the selector out of each
// key and handing the value to fn.
func (d *RegistryDB) loadPrefix(prefix string, fn func(message.Selector, []byte) error) error {
	viewErr := d.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchSize = 10
		it := txn.NewIterator(opts)
		defer it.Close()
		pfx := []byte(prefix)
		for it.Seek(pfx); it.ValidForPrefix(pfx); it.Next() {
			item := it.Item()
			raw, parseErr := strconv.ParseUint(string(item.Key()[len(prefix):]), 10, 64)
			if parseErr != nil {
				return errors.Join(ErrUnmarshal, parseErr)
			}
			data, copyErr := item.ValueCopy(nil)
			if copyErr != nil {
				return copyErr
			}
			if fnErr := fn(message.Selector(raw), data); fnErr != nil {
				return fnErr
			}
		}
		return nil
	})

	if viewErr != nil {
		return &DBError{Op: OpRead, Err: viewErr}
	}
	return nil
}

func (d *RegistryDB) update(key []byte, data []byte) error {
	updateErr := d.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})

	if updateErr != nil {
		return &DBError{Op: OpUpdate, Key: key, Err: updateErr}
	}

	return nil
}

func (d *RegistryDB) deleteEntry(key []byte) error {
	if updateErr := d.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	}); updateErr != nil {
		return &DBError{Op: OpDelete, Key: key, Err: updateErr}
	}

	return nil
}

func adapterKey(selector message.Selector) []byte {
	return key(adapterPrefix, selector.String())
}

func counterpartyKey(selector message.Selector) []byte {
	return key(counterpartyPrefix, selector.String())
}
