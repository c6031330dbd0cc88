package adapters

import (
	"context"
	"fmt"

	"github.com/shuttle-bridge/shuttle/node/pkg/fees"
	"github.com/shuttle-bridge/shuttle/node/pkg/ledger"
)

// Linea serves the canonical Linea message service. The service charges a
// live anti-spam fee for postman delivery, validated against the quote the
// same way as the generic relay but with the Linea record kind.
type Linea struct {
	id     ID
	cfg    Config
	quotes RelayFeeSource
}

func NewLinea(id ID, cfg Config, quotes RelayFeeSource) (*Linea, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if quotes == nil {
		return nil, fmt.Errorf("adapters: linea %s has no fee source", id)
	}
	return &Linea{id: id, cfg: cfg, quotes: quotes}, nil
}

func (a *Linea) ID() ID          { return a.id }
func (a *Linea) Kind() fees.Kind { return fees.KindLineaBridge }

func (a *Linea) Send(ctx context.Context, tx *ledger.Tx, xfer *Transfer) error {
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
