// Package adapters routes outgoing transfers to the bridge back-end serving a
// corridor. Every adapter is bound at construction to one back-end kind, one
// remote corridor, one owner identity and one escrow account; it holds no
// mutable state. An adapter validates the fee record against what its
// back-end actually charges, moves the funds into escrow inside the caller's
// ledger transaction and hands the concrete hop to a Courier.
package adapters

import (
	"context"
	"errors"
	"fmt"

	"github.com/shuttle-bridge/shuttle/node/pkg/fees"
	"github.com/shuttle-bridge/shuttle/node/pkg/ledger"
	"github.com/shuttle-bridge/shuttle/node/pkg/message"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	ErrUnknownAdapter = errors.New("adapters: no adapter registered under id")
	ErrWrongCaller    = errors.New("adapters: caller is not the adapter owner")
	ErrWrongCorridor  = errors.New("adapters: transfer is for a different corridor")
	ErrFeeMismatch    = errors.New("adapters: fee record does not match back-end charge")
)

// ID names one adapter instance. Ids are operator-chosen and unique within a
// dispatcher.
type ID string

func (id ID) String() string { return string(id) }

// Transfer is one dispatch request: move Amount of Token to Recipient on the
// Remote corridor, funded per the attached fee record bytes.
type Transfer struct {
	// Caller is the identity invoking the dispatch. It must match the owner
	// the adapter was constructed for.
	Caller    common.Address
	Remote    message.Selector
	Recipient common.Address
	Token     common.Address
	Amount    *uint256.Int
	// FeeBytes is the wire-form fee record, untouched since it left the
	// originating builder.
	FeeBytes []byte
}

// Forwarded is the validated, escrowed transfer handed to the back-end
// courier. FeeRecord carries the kind-specific parameters.
type Forwarded struct {
	Adapter   ID
	Remote    message.Selector
	Recipient common.Address
	Token     common.Address
	Amount    *uint256.Int
	Fee       *uint256.Int
	FeeRecord fees.Record
}

// Courier is the boundary to the concrete bridge back-end. Forward is called
// after the funds are escrowed, inside the same ledger transaction; an error
// rolls the whole dispatch back. Couriers that settle on a ledger use tx,
// couriers that submit to an external back-end ignore it.
type Courier interface {
	Forward(ctx context.Context, tx *ledger.Tx, fwd *Forwarded) error
}

// RelayFeeSource quotes what a relay-style back-end charges to deliver a
// message with the given gas limit on the remote corridor.
type RelayFeeSource interface {
	RelayFee(ctx context.Context, remote message.Selector, gasLimit uint32) (*uint256.Int, error)
}

// SubmissionFeeSource quotes the current submission cost of a
// retryable-ticket back-end.
type SubmissionFeeSource interface {
	SubmissionFee(ctx context.Context) (*uint256.Int, error)
}

// Adapter is one bridge back-end binding.
type Adapter interface {
	ID() ID
	// Kind selects the fee record variant the adapter decodes.
	Kind() fees.Kind
	// Send validates the transfer, escrows the funds inside tx and forwards
	// the hop to the back-end. Fee validation never trusts the caller.
	Send(ctx context.Context, tx *ledger.Tx, xfer *Transfer) error
}

// Config is the construction-time binding shared by all adapters.
type Config struct {
	// Owner is the only caller allowed to dispatch through the adapter.
	Owner common.Address
	// Corridor is the remote selector the adapter serves.
	Corridor message.Selector
	// Escrow is the back-end's custody account on the local ledger.
	Escrow common.Address
	// NativeToken is the fee token when the record's secondary flag is unset,
	// SecondaryToken when it is set.
	NativeToken    common.Address
	SecondaryToken common.Address
	Courier        Courier
}

func (c *Config) validate() error {
	if c.Courier == nil {
		return errors.New("adapters: config has no courier")
	}
	return nil
}

func checkBinding(cfg *Config, xfer *Transfer) error {
	if xfer.Caller != cfg.Owner {
		return fmt.Errorf("%w: owner is %s, caller is %s", ErrWrongCaller, cfg.Owner, xfer.Caller)
	}
	if xfer.Remote != cfg.Corridor {
		return fmt.Errorf("%w: bound to %s, transfer targets %s", ErrWrongCorridor, cfg.Corridor, xfer.Remote)
	}
	return nil
}

// relayRecord decodes data as a relay-style record of the given kind.
func relayRecord(kind fees.Kind, data []byte) (*fees.RelayRecord, error) {
	rec, err := fees.Decode(kind, data)
	if err != nil {
		return nil, err
	}
	rel, ok := rec.(*fees.RelayRecord)
	if !ok {
		return nil, fmt.Errorf("adapters: kind %s decoded to %T", kind, rec)
	}
	return rel, nil
}

// validateRelayFee compares the record's embedded fee to the live quote for
// its gas limit.
func validateRelayFee(ctx context.Context, quotes RelayFeeSource, remote message.Selector, rec *fees.RelayRecord) error {
	quote, err := quotes.RelayFee(ctx, remote, rec.GasLimit)
	if err != nil {
		return fmt.Errorf("failed to quote relay fee: %w", err)
	}
	if !quote.Eq(rec.FeeAmount) {
		return fmt.Errorf("%w: record carries %s, back-end charges %s", ErrFeeMismatch, rec.FeeAmount, quote)
	}
	return nil
}

// escrowAndForward moves the principal and the fee from the caller into the
// back-end escrow, then hands the hop to the courier. A courier error
// propagates so the surrounding ledger transaction rolls everything back.
func escrowAndForward(ctx context.Context, tx *ledger.Tx, cfg *Config, id ID, xfer *Transfer, rec fees.Record) error {
	if err := tx.Transfer(xfer.Caller, cfg.Escrow, xfer.Token, xfer.Amount); err != nil {
		return err
	}
	fee := rec.Fee()
	if !fee.IsZero() {
		feeToken := cfg.NativeToken
		if rec.PayInSecondary() {
			feeToken = cfg.SecondaryToken
		}
		if err := tx.Transfer(xfer.Caller, cfg.Escrow, feeToken, fee); err != nil {
			return err
		}
	}
	return cfg.Courier.Forward(ctx, tx, &Forwarded{
		Adapter:   id,
		Remote:    xfer.Remote,
		Recipient: xfer.Recipient,
		Token:     xfer.Token,
		Amount:    xfer.Amount,
		Fee:       fee,
		FeeRecord: rec,
	})
}
