package adapters

import (
	"context"
	"fmt"

	"github.com/shuttle-bridge/shuttle/node/pkg/fees"
	"github.com/shuttle-bridge/shuttle/node/pkg/ledger"
)

// LegacyMessenger serves the legacy cross-domain messengers on the Optimism
// and Base corridors. The messenger charges the sender nothing, so any record
// carrying a non-zero fee is rejected; accepting it would strand value in the
// escrow with no back-end to claim it.
type LegacyMessenger struct {
	id   ID
	kind fees.Kind
	cfg  Config
}

func NewLegacyMessenger(id ID, kind fees.Kind, cfg Config) (*LegacyMessenger, error) {
	if kind != fees.KindOptimismLegacy && kind != fees.KindBaseLegacy {
		return nil, fmt.Errorf("adapters: kind %s is not a legacy messenger", kind)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &LegacyMessenger{id: id, kind: kind, cfg: cfg}, nil
}

func (a *LegacyMessenger) ID() ID          { return a.id }
func (a *LegacyMessenger) Kind() fees.Kind { return a.kind }

func (a *LegacyMessenger) Send(ctx context.Context, tx *ledger.Tx, xfer *Transfer) error {
	if err := checkBinding(&a.cfg, xfer); err != nil {
		return err
	}
	rec, err := relayRecord(a.kind, xfer.FeeBytes)
	if err != nil {
		return err
	}
	if !rec.FeeAmount.IsZero() {
		return fmt.Errorf("%w: %s charges no fee, record carries %s", ErrFeeMismatch, a.kind, rec.FeeAmount)
	}
	return escrowAndForward(ctx, tx, &a.cfg, a.id, xfer, rec)
}
