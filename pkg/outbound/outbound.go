// Package outbound builds and sends cross-ledger transfers. The builder
// validates the request, assembles the attached token set and the envelope,
// escrows the funds and hands the message to the transport. Everything that
// can be rejected is rejected synchronously before any funds move.
package outbound

import (
	"context"
	"errors"
	"fmt"

	"github.com/shuttle-bridge/shuttle/node/pkg/fees"
	"github.com/shuttle-bridge/shuttle/node/pkg/ledger"
	"github.com/shuttle-bridge/shuttle/node/pkg/message"
	"github.com/shuttle-bridge/shuttle/node/pkg/registry"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"
)

// MinRemoteGasLimit is the smallest remote execution budget accepted on the
// outbound leg. The far side runs its whole inbound pipeline under this
// limit, so anything lower is guaranteed to strand the message.
const MinRemoteGasLimit = 100_000

var (
	ErrZeroAmount       = errors.New("outbound: transfer amount is zero")
	ErrUnsupportedToken = errors.New("outbound: token is not the configured base token")
	ErrGasLimitTooLow   = errors.New("outbound: remote gas limit below protocol minimum")
	ErrNoCounterparty   = errors.New("outbound: no counterparty registered for corridor")
	// ErrFeeExceedsMax is returned when the live transport quote is above the
	// fee embedded in the caller's outbound record, the declared ceiling.
	ErrFeeExceedsMax = errors.New("outbound: transport fee exceeds the declared ceiling")
)

// Transport is the cross-ledger message layer the builder sends through.
type Transport interface {
	// Quote returns the delivery fee for a payload of the given length with
	// the given remote gas limit.
	Quote(ctx context.Context, dest message.Selector, gasLimit uint32, payloadLen int) (*uint256.Int, error)
	// Send moves the attached tokens across and delivers the payload to the
	// receiver, returning the assigned message id. The caller has already
	// funded the transport escrow.
	Send(ctx context.Context, dest message.Selector, receiver common.Address, payload []byte, tokens []message.TokenAmount) (message.ID, error)
}

type Config struct {
	// Local is the selector of the ledger this builder runs on. Used for
	// logging only; the transport knows its own source.
	Local message.Selector
	// BaseToken is the only principal token the builder accepts.
	BaseToken common.Address
	// SecondaryToken funds any fee whose record sets the secondary flag,
	// return leg and transport leg alike.
	SecondaryToken common.Address
	// FeeToken pays the transport's delivery fee when the outbound record's
	// secondary flag is unset.
	FeeToken common.Address
	// Escrow is the transport's custody account on the local ledger.
	Escrow common.Address
	// TransportKind is the record kind of the outbound leg. It must be
	// relay-style: the outbound record is where the remote gas limit and the
	// caller's fee ceiling live.
	TransportKind fees.Kind
	// ReturnKinds maps each destination corridor to the record kind its
	// return-leg adapter on the far side expects.
	ReturnKinds map[message.Selector]fees.Kind
}

// Request is one transfer order.
type Request struct {
	Destination message.Selector
	// Recipient receives the derivative on the return leg.
	Recipient common.Address
	// Requester is the local account paying for everything.
	Requester common.Address
	Token     common.Address
	Amount    *uint256.Int
	// OutboundFee is the wire-form record for the outbound transport leg.
	OutboundFee []byte
	// ReturnFee is the wire-form record for the return leg, carried in the
	// envelope untouched.
	ReturnFee []byte
}

type Builder struct {
	logger         *zap.Logger
	cfg            Config
	ledger         *ledger.Ledger
	counterparties *registry.Counterparties
	transport      Transport
}

func NewBuilder(logger *zap.Logger, cfg Config, l *ledger.Ledger, counterparties *registry.Counterparties, transport Transport) (*Builder, error) {
	if !cfg.TransportKind.RelayStyle() {
		return nil, fmt.Errorf("outbound: transport kind %s is not relay-style", cfg.TransportKind)
	}
	if transport == nil {
		return nil, errors.New("outbound: no transport")
	}
	return &Builder{
		logger:         logger.With(zap.String("component", "outboundBuilder")),
		cfg:            cfg,
		ledger:         l,
		counterparties: counterparties,
		transport:      transport,
	}, nil
}

// BuildAndSend validates the request, escrows the principal, the return fee
// and the transport fee, and sends the transfer. A transport failure after
// escrow refunds the requester before the error is returned.
func (b *Builder) BuildAndSend(ctx context.Context, req *Request) (message.ID, error) {
	if req.Amount == nil || req.Amount.IsZero() {
		transfersRejected.WithLabelValues("zero_amount").Inc()
		return message.ID{}, ErrZeroAmount
	}
	if req.Token != b.cfg.BaseToken {
		transfersRejected.WithLabelValues("unsupported_token").Inc()
		return message.ID{}, fmt.Errorf("%w: %s", ErrUnsupportedToken, req.Token)
	}

	returnKind, ok := b.cfg.ReturnKinds[req.Destination]
	if !ok {
		transfersRejected.WithLabelValues("no_return_kind").Inc()
		return message.ID{}, fmt.Errorf("outbound: no return fee kind configured for corridor %s", req.Destination)
	}
	returnRec, err := fees.Decode(returnKind, req.ReturnFee)
	if err != nil {
		transfersRejected.WithLabelValues("bad_return_record").Inc()
		return message.ID{}, fmt.Errorf("failed to decode return fee record: %w", err)
	}

	tokens, err := b.tokenSet(req.Amount, returnRec)
	if err != nil {
		transfersRejected.WithLabelValues("token_set").Inc()
		return message.ID{}, err
	}

	outRec, err := fees.Decode(b.cfg.TransportKind, req.OutboundFee)
	if err != nil {
		transfersRejected.WithLabelValues("bad_outbound_record").Inc()
		return message.ID{}, fmt.Errorf("failed to decode outbound fee record: %w", err)
	}
	relay, ok := outRec.(*fees.RelayRecord)
	if !ok {
		return message.ID{}, fmt.Errorf("outbound: transport kind %s decoded to %T", b.cfg.TransportKind, outRec)
	}
	if relay.GasLimit < MinRemoteGasLimit {
		transfersRejected.WithLabelValues("gas_limit").Inc()
		return message.ID{}, fmt.Errorf("%w: %d < %d", ErrGasLimitTooLow, relay.GasLimit, MinRemoteGasLimit)
	}

	receiver, ok := b.counterparties.Get(req.Destination)
	if !ok {
		transfersRejected.WithLabelValues("no_counterparty").Inc()
		return message.ID{}, fmt.Errorf("%w: %s", ErrNoCounterparty, req.Destination)
	}

	envelope := &message.Envelope{
		Recipient: req.Recipient,
		Amount:    req.Amount,
		FeeRecord: req.ReturnFee,
	}
	payload, err := envelope.Marshal()
	if err != nil {
		return message.ID{}, fmt.Errorf("failed to marshal envelope: %w", err)
	}

	// Balance gate on the declared amounts before any external call. The
	// transport fee is checked again when the escrow update debits it.
	if err := b.ledger.View(func(tx *ledger.Tx) error {
		for _, ta := range tokens {
			if tx.Balance(req.Requester, ta.Token).Lt(ta.Amount) {
				return fmt.Errorf("%w: requester %s token %s", ledger.ErrInsufficientBalance, req.Requester, ta.Token)
			}
		}
		return nil
	}); err != nil {
		transfersRejected.WithLabelValues("balance").Inc()
		return message.ID{}, err
	}

	quote, err := b.transport.Quote(ctx, req.Destination, relay.GasLimit, len(payload))
	if err != nil {
		transfersRejected.WithLabelValues("quote").Inc()
		return message.ID{}, fmt.Errorf("failed to quote transport fee: %w", err)
	}
	if quote.Gt(relay.FeeAmount) {
		transfersRejected.WithLabelValues("fee_ceiling").Inc()
		return message.ID{}, fmt.Errorf("%w: quoted %s, ceiling %s", ErrFeeExceedsMax, quote, relay.FeeAmount)
	}

	// The outbound record's flag picks the token that pays the transport.
	feeToken := b.cfg.FeeToken
	if relay.PayInSecondary() {
		feeToken = b.cfg.SecondaryToken
	}

	// Escrow everything in one update before touching the transport.
	if err := b.ledger.Update(func(tx *ledger.Tx) error {
		for _, ta := range tokens {
			if err := tx.Transfer(req.Requester, b.cfg.Escrow, ta.Token, ta.Amount); err != nil {
				return err
			}
		}
		if !quote.IsZero() {
			return tx.Transfer(req.Requester, b.cfg.Escrow, feeToken, quote)
		}
		return nil
	}); err != nil {
		transfersRejected.WithLabelValues("balance").Inc()
		return message.ID{}, err
	}

	id, err := b.transport.Send(ctx, req.Destination, receiver, payload, tokens)
	if err != nil {
		transfersRejected.WithLabelValues("send").Inc()
		if refundErr := b.refund(req, tokens, feeToken, quote); refundErr != nil {
			return message.ID{}, errors.Join(err, refundErr)
		}
		return message.ID{}, fmt.Errorf("failed to send transfer: %w", err)
	}

	transfersSent.Inc()
	b.logger.Info("transfer sent",
		zap.String("messageID", id.String()),
		zap.Stringer("destination", req.Destination),
		zap.Stringer("requester", req.Requester),
		zap.String("amount", req.Amount.String()),
		zap.Int("tokenPairs", len(tokens)),
		zap.String("transportFee", quote.String()),
	)
	return id, nil
}

// tokenSet assembles the attached pairs: a single pair carrying principal
// plus fee when the fee is zero or funded by the base token, otherwise the
// principal pair and an exact fee pair in the secondary token.
func (b *Builder) tokenSet(amount *uint256.Int, rec fees.Record) ([]message.TokenAmount, error) {
	fee := rec.Fee()
	feeToken := b.cfg.BaseToken
	if rec.PayInSecondary() {
		feeToken = b.cfg.SecondaryToken
	}

	if fee.IsZero() || feeToken == b.cfg.BaseToken {
		total, overflow := new(uint256.Int).AddOverflow(amount, fee)
		if overflow {
			return nil, errors.New("outbound: principal plus fee overflows")
		}
		return []message.TokenAmount{{Token: b.cfg.BaseToken, Amount: total}}, nil
	}
	return []message.TokenAmount{
		{Token: b.cfg.BaseToken, Amount: amount.Clone()},
		{Token: feeToken, Amount: fee.Clone()},
	}, nil
}

func (b *Builder) refund(req *Request, tokens []message.TokenAmount, feeToken common.Address, quote *uint256.Int) error {
	err := b.ledger.Update(func(tx *ledger.Tx) error {
		for _, ta := range tokens {
			if err := tx.Transfer(b.cfg.Escrow, req.Requester, ta.Token, ta.Amount); err != nil {
				return err
			}
		}
		if !quote.IsZero() {
			return tx.Transfer(b.cfg.Escrow, req.Requester, feeToken, quote)
		}
		return nil
	})
	if err != nil {
		b.logger.Error("failed to refund escrow after send failure",
			zap.Stringer("requester", req.Requester),
			zap.Error(err),
		)
		return fmt.Errorf("failed to refund escrow: %w", err)
	}
	return nil
}
