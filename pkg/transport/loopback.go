// Package transport carries cross-ledger messages between an outbound
// builder and the processor on the far side. Loopback is the in-process
// binding used by the devnet and tests; HTTPRelay speaks to an external
// relayer service.
package transport

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/shuttle-bridge/shuttle/node/pkg/ledger"
	"github.com/shuttle-bridge/shuttle/node/pkg/message"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"go.uber.org/zap"
)

// Sink consumes delivered messages. The inbound processor satisfies it.
type Sink interface {
	Handle(ctx context.Context, msg *message.Inbound) error
}

type side struct {
	// router is the identity the far side sees as the message sender.
	router common.Address
	// custodian is the transport's account on this side's ledger: outgoing
	// escrow is burned from it, incoming deliveries are minted to it.
	custodian common.Address
	ledger    *ledger.Ledger
	sink      Sink
}

// Loopback connects two or more in-process ledger sides. Sending burns the
// attached tokens from the source custodian, mints them to the destination
// custodian and delivers the message to the destination sink synchronously.
type Loopback struct {
	mu     sync.Mutex
	logger *zap.Logger
	quote  *uint256.Int
	sides  map[message.Selector]*side
	seq    uint64
}

func NewLoopback(logger *zap.Logger, quote *uint256.Int) *Loopback {
	if quote == nil {
		quote = uint256.NewInt(0)
	}
	return &Loopback{
		logger: logger.With(zap.String("component", "loopback")),
		quote:  quote,
		sides:  make(map[message.Selector]*side),
	}
}

// Attach registers one ledger side. A nil sink attaches a side that can only
// send.
func (lb *Loopback) Attach(selector message.Selector, router, custodian common.Address, l *ledger.Ledger, sink Sink) error {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	if _, exists := lb.sides[selector]; exists {
		return fmt.Errorf("transport: corridor %s already attached", selector)
	}
	lb.sides[selector] = &side{router: router, custodian: custodian, ledger: l, sink: sink}
	lb.logger.Info("corridor attached",
		zap.Stringer("selector", selector),
		zap.Stringer("router", router),
	)
	return nil
}

// Endpoint returns the transport bound to one attached side, for that side's
// outbound builder.
func (lb *Loopback) Endpoint(selector message.Selector) *Endpoint {
	return &Endpoint{lb: lb, local: selector}
}

// Endpoint is a Loopback bound to one sending side.
type Endpoint struct {
	lb    *Loopback
	local message.Selector
}

func (e *Endpoint) Quote(ctx context.Context, dest message.Selector, gasLimit uint32, payloadLen int) (*uint256.Int, error) {
	e.lb.mu.Lock()
	defer e.lb.mu.Unlock()

	if _, ok := e.lb.sides[dest]; !ok {
		return nil, fmt.Errorf("transport: unknown corridor %s", dest)
	}
	return e.lb.quote.Clone(), nil
}

func (e *Endpoint) Send(ctx context.Context, dest message.Selector, receiver common.Address, payload []byte, tokens []message.TokenAmount) (message.ID, error) {
	e.lb.mu.Lock()
	src, ok := e.lb.sides[e.local]
	if !ok {
		e.lb.mu.Unlock()
		return message.ID{}, fmt.Errorf("transport: sending corridor %s not attached", e.local)
	}
	dst, ok := e.lb.sides[dest]
	if !ok {
		e.lb.mu.Unlock()
		return message.ID{}, fmt.Errorf("transport: unknown corridor %s", dest)
	}
	if dst.sink == nil {
		e.lb.mu.Unlock()
		return message.ID{}, fmt.Errorf("transport: corridor %s accepts no deliveries", dest)
	}
	if receiver != dst.router {
		e.lb.mu.Unlock()
		return message.ID{}, fmt.Errorf("transport: receiver %s is not the router of corridor %s", receiver, dest)
	}
	e.lb.seq++
	id := assignID(e.local, dest, e.lb.seq, payload)
	e.lb.mu.Unlock()

	// Burn the attached tokens on the source side, mint them on the
	// destination side. The builder escrowed them to the source custodian.
	if err := moveTokens(src.ledger, src.custodian, tokens, false); err != nil {
		return message.ID{}, fmt.Errorf("transport escrow underfunded: %w", err)
	}
	if err := moveTokens(dst.ledger, dst.custodian, tokens, true); err != nil {
		_ = moveTokens(src.ledger, src.custodian, tokens, true)
		return message.ID{}, err
	}

	msg := &message.Inbound{
		ID:       id,
		Source:   e.local,
		Sender:   src.router,
		Tokens:   tokens,
		Envelope: payload,
	}
	if err := dst.sink.Handle(ctx, msg); err != nil {
		// Wind the token movement back so the sender is made whole.
		_ = moveTokens(dst.ledger, dst.custodian, tokens, false)
		_ = moveTokens(src.ledger, src.custodian, tokens, true)
		return message.ID{}, fmt.Errorf("transport delivery failed: %w", err)
	}

	e.lb.logger.Info("message delivered",
		zap.String("messageID", id.String()),
		zap.Stringer("from", e.local),
		zap.Stringer("to", dest),
		zap.Int("tokenPairs", len(tokens)),
	)
	return id, nil
}

func moveTokens(l *ledger.Ledger, custodian common.Address, tokens []message.TokenAmount, credit bool) error {
	return l.Update(func(tx *ledger.Tx) error {
		for _, ta := range tokens {
			var err error
			if credit {
				err = tx.Credit(custodian, ta.Token, ta.Amount)
			} else {
				err = tx.Debit(custodian, ta.Token, ta.Amount)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func assignID(src, dst message.Selector, seq uint64, payload []byte) message.ID {
	buf := make([]byte, 0, 24+len(payload))
	buf = binary.BigEndian.AppendUint64(buf, uint64(src))
	buf = binary.BigEndian.AppendUint64(buf, uint64(dst))
	buf = binary.BigEndian.AppendUint64(buf, seq)
	buf = append(buf, payload...)
	return message.ID(crypto.Keccak256Hash(buf))
}
