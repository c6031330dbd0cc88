package adapters

import (
	"context"
	"fmt"

	"github.com/shuttle-bridge/shuttle/node/pkg/fees"
	"github.com/shuttle-bridge/shuttle/node/pkg/ledger"

	"github.com/holiman/uint256"
)

// Retryable serves a retryable-ticket back-end. The record's embedded total
// must equal the live submission cost plus the record's own gas product; a
// stale total would make the ticket revert on the far side, so the mismatch
// is surfaced here while the funds are still in custody.
type Retryable struct {
	id         ID
	cfg        Config
	submission SubmissionFeeSource
}

func NewRetryable(id ID, cfg Config, submission SubmissionFeeSource) (*Retryable, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if submission == nil {
		return nil, fmt.Errorf("adapters: retryable %s has no submission fee source", id)
	}
	return &Retryable{id: id, cfg: cfg, submission: submission}, nil
}

func (a *Retryable) ID() ID          { return a.id }
func (a *Retryable) Kind() fees.Kind { return fees.KindRetryableTicket }

func (a *Retryable) Send(ctx context.Context, tx *ledger.Tx, xfer *Transfer) error {
	if err := checkBinding(&a.cfg, xfer); err != nil {
		return err
	}
	rec, err := fees.Decode(a.Kind(), xfer.FeeBytes)
	if err != nil {
		return err
	}
	ticket, ok := rec.(*fees.RetryableRecord)
	if !ok {
		return fmt.Errorf("adapters: kind %s decoded to %T", a.Kind(), rec)
	}

	cost, err := a.submission.SubmissionFee(ctx)
	if err != nil {
		return fmt.Errorf("failed to quote submission fee: %w", err)
	}
	expected, overflow := new(uint256.Int).AddOverflow(cost, ticket.GasProduct())
	if overflow {
		return fmt.Errorf("adapters: retryable fee for %s overflows", a.id)
	}
	if !expected.Eq(ticket.FeeAmount) {
		return fmt.Errorf("%w: record carries %s, ticket costs %s", ErrFeeMismatch, ticket.FeeAmount, expected)
	}
	return escrowAndForward(ctx, tx, &a.cfg, a.id, xfer, ticket)
}
