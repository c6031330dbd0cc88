// Package registry holds the two admin-owned corridor mappings: remote
// selector to adapter id, and remote selector to trusted counterparty.
// Entries are cached in memory and persisted through the registry database;
// a missing entry means the corridor is unsupported, which is a valid state.
package registry

import (
	"fmt"
	"sync"

	"github.com/shuttle-bridge/shuttle/node/pkg/adapters"
	"github.com/shuttle-bridge/shuttle/node/pkg/db"
	"github.com/shuttle-bridge/shuttle/node/pkg/message"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// Adapters maps a remote selector to the id of the adapter serving that
// corridor. Mutations are reserved to the admin surface.
type Adapters struct {
	mu      sync.RWMutex
	logger  *zap.Logger
	db      db.RegistryDBInterface
	entries map[message.Selector]adapters.ID
}

func NewAdapters(logger *zap.Logger, rdb db.RegistryDBInterface) (*Adapters, error) {
	stored, err := rdb.LoadAdapters()
	if err != nil {
		return nil, fmt.Errorf("failed to load adapter registry: %w", err)
	}
	entries := make(map[message.Selector]adapters.ID, len(stored))
	for selector, id := range stored {
		entries[selector] = adapters.ID(id)
	}
	return &Adapters{
		logger:  logger.With(zap.String("component", "adapterRegistry")),
		db:      rdb,
		entries: entries,
	}, nil
}

func (r *Adapters) Set(selector message.Selector, id adapters.ID) error {
	if id == "" {
		return fmt.Errorf("registry: empty adapter id")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.db.StoreAdapter(selector, string(id)); err != nil {
		return err
	}
	r.entries[selector] = id
	r.logger.Info("adapter registered",
		zap.Stringer("selector", selector),
		zap.String("adapter", string(id)),
	)
	return nil
}

func (r *Adapters) Remove(selector message.Selector) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.db.DeleteAdapter(selector); err != nil {
		return err
	}
	delete(r.entries, selector)
	r.logger.Info("adapter removed", zap.Stringer("selector", selector))
	return nil
}

// Get returns the adapter id for the selector. The second return is false
// when the corridor has no adapter, meaning it is unsupported.
func (r *Adapters) Get(selector message.Selector) (adapters.ID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.entries[selector]
	return id, ok
}

func (r *Adapters) All() map[message.Selector]adapters.ID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[message.Selector]adapters.ID, len(r.entries))
	for selector, id := range r.entries {
		out[selector] = id
	}
	return out
}

// Counterparties maps a remote selector to the only remote address trusted on
// that corridor: the outbound builder sends to it, the inbound processor
// accepts messages only from it.
type Counterparties struct {
	mu      sync.RWMutex
	logger  *zap.Logger
	db      db.RegistryDBInterface
	entries map[message.Selector]common.Address
}

func NewCounterparties(logger *zap.Logger, rdb db.RegistryDBInterface) (*Counterparties, error) {
	entries, err := rdb.LoadCounterparties()
	if err != nil {
		return nil, fmt.Errorf("failed to load counterparty registry: %w", err)
	}
	return &Counterparties{
		logger:  logger.With(zap.String("component", "counterpartyRegistry")),
		db:      rdb,
		entries: entries,
	}, nil
}

func (r *Counterparties) Set(selector message.Selector, counterparty common.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.db.StoreCounterparty(selector, counterparty); err != nil {
		return err
	}
	r.entries[selector] = counterparty
	r.logger.Info("counterparty registered",
		zap.Stringer("selector", selector),
		zap.Stringer("counterparty", counterparty),
	)
	return nil
}

func (r *Counterparties) Remove(selector message.Selector) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.db.DeleteCounterparty(selector); err != nil {
		return err
	}
	delete(r.entries, selector)
	r.logger.Info("counterparty removed", zap.Stringer("selector", selector))
	return nil
}

func (r *Counterparties) Get(selector message.Selector) (common.Address, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counterparty, ok := r.entries[selector]
	return counterparty, ok
}

func (r *Counterparties) All() map[message.Selector]common.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[message.Selector]common.Address, len(r.entries))
	for selector, counterparty := range r.entries {
		out[selector] = counterparty
	}
	return out
}
