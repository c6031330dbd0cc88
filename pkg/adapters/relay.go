package adapters

import (
	"context"
	"fmt"

	"github.com/shuttle-bridge/shuttle/node/pkg/fees"
	"github.com/shuttle-bridge/shuttle/node/pkg/ledger"
)

// Relay serves a generic relayed-message back-end. The relayer quotes its
// delivery fee live per gas limit; a record whose embedded fee differs from
// the quote is rejected before any funds move.
type Relay struct {
	id     ID
	cfg    Config
	quotes RelayFeeSource
}

func NewRelay(id ID, cfg Config, quotes RelayFeeSource) (*Relay, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if quotes == nil {
		return nil, fmt.Errorf("adapters: relay %s has no fee source", id)
	}
	return &Relay{id: id, cfg: cfg, quotes: quotes}, nil
}

func (a *Relay) ID() ID          { return a.id }
func (a *Relay) Kind() fees.Kind { return fees.KindGenericRelay }

func (a *Relay) Send(ctx context.Context, tx *ledger.Tx, xfer *Transfer) error {
	if err := checkBinding(&a.cfg, xfer); err != nil {
		return err
	}
	rec, err := relayRecord(a.Kind(), xfer.FeeBytes)
	if err != nil {
		return err
	}
	if err := validateRelayFee(ctx, a.quotes, xfer.Remote, rec); err != nil {
		return err
	}
	return escrowAndForward(ctx, tx, &a.cfg, a.id, xfer, rec)
}
