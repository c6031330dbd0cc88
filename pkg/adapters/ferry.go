package adapters

import (
	"context"
	"fmt"

	"github.com/shuttle-bridge/shuttle/node/pkg/fees"
	"github.com/shuttle-bridge/shuttle/node/pkg/ledger"
)

// Ferry serves a batched ferry back-end. Departures are paid for by the ferry
// operator, not the sender, so the record's fee must be exactly zero.
type Ferry struct {
	id  ID
	cfg Config
}

func NewFerry(id ID, cfg Config) (*Ferry, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Ferry{id: id, cfg: cfg}, nil
}

func (a *Ferry) ID() ID          { return a.id }
func (a *Ferry) Kind() fees.Kind { return fees.KindFerry }

func (a *Ferry) Send(ctx context.Context, tx *ledger.Tx, xfer *Transfer) error {
	if err := checkBinding(&a.cfg, xfer); err != nil {
		return err
	}
	rec, err := fees.Decode(a.Kind(), xfer.FeeBytes)
	if err != nil {
		return err
	}
	if !rec.Fee().IsZero() {
		return fmt.Errorf("%w: ferry charges no fee, record carries %s", ErrFeeMismatch, rec.Fee())
	}
	return escrowAndForward(ctx, tx, &a.cfg, a.id, xfer, rec)
}
