package devnet

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/shuttle-bridge/shuttle/node/pkg/adapters"
	"github.com/shuttle-bridge/shuttle/node/pkg/ledger"
)

// SettlingCourier closes the devnet loop. Instead of submitting the hop to a
// real back-end it releases the escrowed derivative to the recipient inside
// the same ledger transaction. The fee stays in the escrow account.
type SettlingCourier struct {
	logger *zap.Logger
	escrow common.Address
}

func NewSettlingCourier(logger *zap.Logger, escrow common.Address) *SettlingCourier {
	return &SettlingCourier{
		logger: logger.With(zap.String("component", "settling-courier")),
		escrow: escrow,
	}
}

func (c *SettlingCourier) Forward(ctx context.Context, tx *ledger.Tx, fwd *adapters.Forwarded) error {
	if err := tx.Transfer(c.escrow, fwd.Recipient, fwd.Token, fwd.Amount); err != nil {
		return err
	}
	c.logger.Info("settled transfer",
		zap.String("adapter", fwd.Adapter.String()),
		zap.Stringer("remote", fwd.Remote),
		zap.String("recipient", fwd.Recipient.Hex()),
		zap.String("amount", fwd.Amount.String()),
		zap.String("fee", fwd.Fee.String()),
	)
	return nil
}
