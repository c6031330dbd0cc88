package adapters

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shuttle-bridge/shuttle/node/pkg/ledger"

	"go.uber.org/zap"
)

// Dispatcher routes transfers to the adapter registered under an id.
// Registration happens at wiring time; dispatch runs on the inbound pipeline.
type Dispatcher struct {
	mu       sync.RWMutex
	logger   *zap.Logger
	adapters map[ID]Adapter
}

func NewDispatcher(logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		logger:   logger.With(zap.String("component", "dispatcher")),
		adapters: make(map[ID]Adapter),
	}
}

func (d *Dispatcher) Register(a Adapter) error {
	if a == nil || a.ID() == "" {
		return fmt.Errorf("adapters: cannot register adapter without an id")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.adapters[a.ID()]; exists {
		return fmt.Errorf("adapters: id %s already registered", a.ID())
	}
	d.adapters[a.ID()] = a
	d.logger.Info("adapter registered",
		zap.Stringer("adapter", a.ID()),
		zap.Stringer("kind", a.Kind()),
	)
	return nil
}

func (d *Dispatcher) Lookup(id ID) (Adapter, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	a, ok := d.adapters[id]
	return a, ok
}

// IDs returns the registered adapter ids in stable order.
func (d *Dispatcher) IDs() []ID {
	d.mu.RLock()
	defer d.mu.RUnlock()

	ids := make([]ID, 0, len(d.adapters))
	for id := range d.adapters {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Dispatch sends the transfer through the adapter registered under id inside
// the caller's ledger transaction.
func (d *Dispatcher) Dispatch(ctx context.Context, tx *ledger.Tx, id ID, xfer *Transfer) error {
	a, ok := d.Lookup(id)
	if !ok {
		transfersRejected.WithLabelValues(string(id)).Inc()
		return fmt.Errorf("%w: %s", ErrUnknownAdapter, id)
	}
	if err := a.Send(ctx, tx, xfer); err != nil {
		transfersRejected.WithLabelValues(string(id)).Inc()
		return err
	}
	transfersDispatched.WithLabelValues(string(id)).Inc()
	return nil
}
