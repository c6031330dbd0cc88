// Package inbound implements the defensive processor for delivered
// cross-ledger messages. Each message runs a validation and deposit pipeline
// whose funds movements happen inside one ledger transaction; any pipeline
// error or panic is converted into a persisted failure record at a single
// choke point, so the transport always sees success and a broken message can
// neither be lost nor take the node down.
package inbound

import (
	"context"
	"errors"
	"fmt"

	"github.com/shuttle-bridge/shuttle/node/pkg/adapters"
	"github.com/shuttle-bridge/shuttle/node/pkg/db"
	"github.com/shuttle-bridge/shuttle/node/pkg/fees"
	"github.com/shuttle-bridge/shuttle/node/pkg/ledger"
	"github.com/shuttle-bridge/shuttle/node/pkg/message"
	"github.com/shuttle-bridge/shuttle/node/pkg/registry"
	"github.com/shuttle-bridge/shuttle/node/pkg/strategy"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"
)

var (
	ErrMessageNotFound    = errors.New("inbound: no failure record for message")
	ErrDigestMismatch     = errors.New("inbound: message digest does not match failure record")
	ErrNoCounterparty     = errors.New("inbound: no counterparty registered for corridor")
	ErrUntrustedSender    = errors.New("inbound: sender is not the registered counterparty")
	ErrNoAdapter          = errors.New("inbound: no adapter registered for corridor")
	ErrAccountingMismatch = errors.New("inbound: attached token set does not match envelope accounting")
)

type Config struct {
	// Custodian is the account delivered funds land on. Every pipeline
	// movement starts from it.
	Custodian common.Address
	// Wrapped is the form the bridged principal arrives in.
	Wrapped common.Address
}

type Processor struct {
	logger         *zap.Logger
	cfg            Config
	ledger         *ledger.Ledger
	store          db.TransferDBInterface
	counterparties *registry.Counterparties
	adapterReg     *registry.Adapters
	dispatcher     *adapters.Dispatcher
	depositor      strategy.Depositor
}

func NewProcessor(
	logger *zap.Logger,
	cfg Config,
	l *ledger.Ledger,
	store db.TransferDBInterface,
	counterparties *registry.Counterparties,
	adapterReg *registry.Adapters,
	dispatcher *adapters.Dispatcher,
	depositor strategy.Depositor,
) (*Processor, error) {
	records, err := store.LoadAllFailed()
	if err != nil {
		return nil, fmt.Errorf("failed to load failure records: %w", err)
	}
	outstandingFailures.Set(float64(len(records)))
	for _, rec := range records {
		logger.Warn("outstanding failed message",
			zap.String("messageID", rec.ID.String()),
			zap.Stringer("digest", rec.Digest),
		)
	}
	return &Processor{
		logger:         logger.With(zap.String("component", "inboundProcessor")),
		cfg:            cfg,
		ledger:         l,
		store:          store,
		counterparties: counterparties,
		adapterReg:     adapterReg,
		dispatcher:     dispatcher,
		depositor:      depositor,
	}, nil
}

// Handle accepts a delivered message from the trusted transport. A pipeline
// failure parks the message as a failure record and still returns nil; the
// transport must see success or the message would bounce and be lost in
// flight. Hard errors are reserved for a record that cannot be persisted and
// for a different message arriving under an already-recorded id, which is
// never silently overwritten. Redelivery of the identical parked message is
// idempotent.
func (p *Processor) Handle(ctx context.Context, msg *message.Inbound) error {
	digest, err := msg.Digest()
	if err != nil {
		return fmt.Errorf("failed to compute message digest: %w", err)
	}

	stored, err := p.store.GetFailedDigest(msg.ID)
	switch {
	case err == nil:
		if stored == digest {
			p.logger.Info("ignoring redelivery of parked message", msg.ZapFields()...)
			return nil
		}
		return fmt.Errorf("%w: id %s is already parked with digest %s", ErrDigestMismatch, msg.ID, stored)
	case errors.Is(err, db.ErrFailedMsgNotFound):
		// First delivery.
	default:
		return fmt.Errorf("failed to look up failure record: %w", err)
	}

	if perr := p.runPipeline(ctx, msg); perr != nil {
		p.logger.Error("inbound message failed, parking", msg.ZapFields(zap.Error(perr))...)
		if err := p.store.StoreFailed(msg.ID, digest); err != nil {
			return fmt.Errorf("failed to persist failure record: %w", err)
		}
		messagesFailed.Inc()
		outstandingFailures.Inc()
		return nil
	}

	messagesProcessed.Inc()
	p.logger.Info("inbound message processed", msg.ZapFields()...)
	return nil
}

// Retry re-runs the pipeline for a parked message. The caller supplies the
// full message, which must hash to exactly what the record committed to. On
// success the record is cleared; on failure it stays untouched and the error
// propagates, unlike Handle.
func (p *Processor) Retry(ctx context.Context, msg *message.Inbound) error {
	digest, err := msg.Digest()
	if err != nil {
		return fmt.Errorf("failed to compute message digest: %w", err)
	}
	if err := p.matchRecord(msg.ID, digest); err != nil {
		return err
	}

	if err := p.runPipeline(ctx, msg); err != nil {
		return err
	}
	if err := p.store.DeleteFailed(msg.ID); err != nil {
		// The pipeline has committed; running it again would double spend.
		return fmt.Errorf("message %s processed but record not cleared, do not retry: %w", msg.ID, err)
	}
	outstandingFailures.Dec()
	messagesRetried.Inc()
	p.logger.Info("parked message retried successfully", msg.ZapFields()...)
	return nil
}

// Recover releases a parked message's attached tokens from custody to the
// destination without re-running the pipeline. The record is consumed, so the
// same tokens can never be released twice.
func (p *Processor) Recover(ctx context.Context, msg *message.Inbound, destination common.Address) error {
	digest, err := msg.Digest()
	if err != nil {
		return fmt.Errorf("failed to compute message digest: %w", err)
	}
	if err := p.matchRecord(msg.ID, digest); err != nil {
		return err
	}

	if err := p.ledger.Update(func(tx *ledger.Tx) error {
		for _, ta := range msg.Tokens {
			if err := tx.Transfer(p.cfg.Custodian, destination, ta.Token, ta.Amount); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return fmt.Errorf("failed to release custodied tokens: %w", err)
	}
	if err := p.store.DeleteFailed(msg.ID); err != nil {
		return fmt.Errorf("tokens for %s released but record not cleared: %w", msg.ID, err)
	}
	outstandingFailures.Dec()
	messagesRecovered.Inc()
	p.logger.Info("parked message recovered", msg.ZapFields(zap.Stringer("destination", destination))...)
	return nil
}

// FailedDigest returns the digest a parked message's record commits to.
func (p *Processor) FailedDigest(id message.ID) (common.Hash, error) {
	digest, err := p.store.GetFailedDigest(id)
	if errors.Is(err, db.ErrFailedMsgNotFound) {
		return common.Hash{}, fmt.Errorf("%w: %s", ErrMessageNotFound, id)
	}
	return digest, err
}

// OutstandingFailures lists all parked messages.
func (p *Processor) OutstandingFailures() ([]db.FailedRecord, error) {
	return p.store.LoadAllFailed()
}

func (p *Processor) matchRecord(id message.ID, digest common.Hash) error {
	stored, err := p.store.GetFailedDigest(id)
	if errors.Is(err, db.ErrFailedMsgNotFound) {
		return fmt.Errorf("%w: %s", ErrMessageNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("failed to look up failure record: %w", err)
	}
	if stored != digest {
		return fmt.Errorf("%w: record commits to %s, message hashes to %s", ErrDigestMismatch, stored, digest)
	}
	return nil
}

// runPipeline converts pipeline panics into errors so a malformed message
// can never take the node down.
func (p *Processor) runPipeline(ctx context.Context, msg *message.Inbound) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("inbound pipeline panic: %v", r)
		}
	}()
	return p.process(ctx, msg)
}

func (p *Processor) process(ctx context.Context, msg *message.Inbound) error {
	counterparty, ok := p.counterparties.Get(msg.Source)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoCounterparty, msg.Source)
	}
	if counterparty != msg.Sender {
		return fmt.Errorf("%w: expected %s, got %s", ErrUntrustedSender, counterparty, msg.Sender)
	}

	adapterID, ok := p.adapterReg.Get(msg.Source)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoAdapter, msg.Source)
	}
	adapter, ok := p.dispatcher.Lookup(adapterID)
	if !ok {
		return fmt.Errorf("%w: %s is registered for %s but not wired", adapters.ErrUnknownAdapter, adapterID, msg.Source)
	}

	env, err := message.UnmarshalEnvelope(msg.Envelope)
	if err != nil {
		return fmt.Errorf("failed to unmarshal envelope: %w", err)
	}
	// The adapter serving the corridor determines the fee record variant.
	rec, err := fees.Decode(adapter.Kind(), env.FeeRecord)
	if err != nil {
		return fmt.Errorf("failed to decode fee record: %w", err)
	}

	if err := p.validateAccounting(msg.Tokens, env.Amount, rec.Fee()); err != nil {
		return err
	}

	return p.ledger.Update(func(tx *ledger.Tx) error {
		if err := tx.Unwrap(p.cfg.Custodian, p.cfg.Wrapped, p.depositor.Underlying(), env.Amount); err != nil {
			return err
		}
		out, err := p.depositor.Deposit(ctx, tx, p.cfg.Custodian, env.Amount)
		if err != nil {
			return err
		}
		return p.dispatcher.Dispatch(ctx, tx, adapterID, &adapters.Transfer{
			Caller:    p.cfg.Custodian,
			Remote:    msg.Source,
			Recipient: env.Recipient,
			Token:     p.depositor.Token(),
			Amount:    out,
			FeeBytes:  env.FeeRecord,
		})
	})
}

// validateAccounting checks the attached token set against the envelope: one
// pair carrying exactly principal plus fee in the bridged base token, or the
// principal pair plus an exact fee pair in a different token.
func (p *Processor) validateAccounting(tokens []message.TokenAmount, principal, fee *uint256.Int) error {
	for i, ta := range tokens {
		if ta.Amount == nil {
			return fmt.Errorf("%w: nil amount in pair %d", ErrAccountingMismatch, i)
		}
	}

	switch len(tokens) {
	case 1:
		if tokens[0].Token != p.cfg.Wrapped {
			return fmt.Errorf("%w: principal token %s is not the bridged base token", ErrAccountingMismatch, tokens[0].Token)
		}
		total, overflow := new(uint256.Int).AddOverflow(principal, fee)
		if overflow {
			return fmt.Errorf("%w: principal plus fee overflows", ErrAccountingMismatch)
		}
		if !tokens[0].Amount.Eq(total) {
			return fmt.Errorf("%w: attached %s, envelope commits to %s", ErrAccountingMismatch, tokens[0].Amount, total)
		}
	case 2:
		if fee.IsZero() {
			return fmt.Errorf("%w: secondary fee pair with zero fee", ErrAccountingMismatch)
		}
		if tokens[0].Token != p.cfg.Wrapped {
			return fmt.Errorf("%w: principal token %s is not the bridged base token", ErrAccountingMismatch, tokens[0].Token)
		}
		if tokens[1].Token == tokens[0].Token {
			return fmt.Errorf("%w: fee pair duplicates the principal token", ErrAccountingMismatch)
		}
		if !tokens[0].Amount.Eq(principal) {
			return fmt.Errorf("%w: attached principal %s, envelope commits to %s", ErrAccountingMismatch, tokens[0].Amount, principal)
		}
		if !tokens[1].Amount.Eq(fee) {
			return fmt.Errorf("%w: attached fee %s, record commits to %s", ErrAccountingMismatch, tokens[1].Amount, fee)
		}
	default:
		return fmt.Errorf("%w: %d token pairs", ErrAccountingMismatch, len(tokens))
	}
	return nil
}
