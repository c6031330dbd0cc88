package outbound

import (
	"context"
	"errors"
	"testing"

	"github.com/shuttle-bridge/shuttle/node/pkg/db"
	"github.com/shuttle-bridge/shuttle/node/pkg/fees"
	"github.com/shuttle-bridge/shuttle/node/pkg/ledger"
	"github.com/shuttle-bridge/shuttle/node/pkg/message"
	"github.com/shuttle-bridge/shuttle/node/pkg/registry"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	baseTok    = common.HexToAddress("0x6000000000000000000000000000000000000001")
	secondTok  = common.HexToAddress("0x6000000000000000000000000000000000000002")
	feeTok     = common.HexToAddress("0x6000000000000000000000000000000000000003")
	escrowAcct = common.HexToAddress("0x6100000000000000000000000000000000000001")
	requester  = common.HexToAddress("0x6100000000000000000000000000000000000002")
	recipient  = common.HexToAddress("0x6100000000000000000000000000000000000003")
	remoteRtr  = common.HexToAddress("0x6100000000000000000000000000000000000004")

	localSel  = message.Selector(101)
	destSel   = message.Selector(202)
	orphanSel = message.Selector(303)
)

type sentTransfer struct {
	dest     message.Selector
	receiver common.Address
	payload  []byte
	tokens   []message.TokenAmount
}

type fakeTransport struct {
	quote      uint64
	quoteErr   error
	sendErr    error
	quoteCalls int
	sent       []sentTransfer
}

func (f *fakeTransport) Quote(ctx context.Context, dest message.Selector, gasLimit uint32, payloadLen int) (*uint256.Int, error) {
	f.quoteCalls++
	if f.quoteErr != nil {
		return nil, f.quoteErr
	}
	return uint256.NewInt(f.quote), nil
}

func (f *fakeTransport) Send(ctx context.Context, dest message.Selector, receiver common.Address, payload []byte, tokens []message.TokenAmount) (message.ID, error) {
	if f.sendErr != nil {
		return message.ID{}, f.sendErr
	}
	f.sent = append(f.sent, sentTransfer{dest: dest, receiver: receiver, payload: payload, tokens: tokens})
	return message.ID{0xaa, 0xbb}, nil
}

func newTestBuilder(t *testing.T, transport Transport) (*Builder, *ledger.Ledger) {
	t.Helper()

	database, err := db.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	counterparties, err := registry.NewCounterparties(zap.NewNop(), db.NewRegistryDB(database.Conn()))
	require.NoError(t, err)
	require.NoError(t, counterparties.Set(destSel, remoteRtr))

	l := ledger.New()
	require.NoError(t, l.Update(func(tx *ledger.Tx) error {
		if err := tx.Credit(requester, baseTok, uint256.NewInt(1000)); err != nil {
			return err
		}
		if err := tx.Credit(requester, secondTok, uint256.NewInt(50)); err != nil {
			return err
		}
		return tx.Credit(requester, feeTok, uint256.NewInt(100))
	}))

	b, err := NewBuilder(zap.NewNop(), Config{
		Local:          localSel,
		BaseToken:      baseTok,
		SecondaryToken: secondTok,
		FeeToken:       feeTok,
		Escrow:         escrowAcct,
		TransportKind:  fees.KindGenericRelay,
		ReturnKinds: map[message.Selector]fees.Kind{
			destSel:   fees.KindGenericRelay,
			orphanSel: fees.KindGenericRelay,
		},
	}, l, counterparties, transport)
	require.NoError(t, err)
	return b, l
}

func relayBytes(t *testing.T, fee uint64, secondary bool, gasLimit uint32) []byte {
	t.Helper()
	b, err := (&fees.RelayRecord{
		BackendKind:    fees.KindGenericRelay,
		FeeAmount:      uint256.NewInt(fee),
		SecondaryToken: secondary,
		GasLimit:       gasLimit,
	}).Serialize()
	require.NoError(t, err)
	return b
}

func testRequest(t *testing.T) *Request {
	return &Request{
		Destination: destSel,
		Recipient:   recipient,
		Requester:   requester,
		Token:       baseTok,
		Amount:      uint256.NewInt(100),
		OutboundFee: relayBytes(t, 10, false, 200_000),
		ReturnFee:   relayBytes(t, 5, false, 250_000),
	}
}

func TestBuildAndSendSinglePair(t *testing.T) {
	ft := &fakeTransport{quote: 8}
	b, l := newTestBuilder(t, ft)

	id, err := b.BuildAndSend(context.Background(), testRequest(t))
	require.NoError(t, err)
	assert.Equal(t, message.ID{0xaa, 0xbb}, id)

	// Return fee in the base token folds into a single principal+fee pair.
	require.Len(t, ft.sent, 1)
	sent := ft.sent[0]
	assert.Equal(t, destSel, sent.dest)
	assert.Equal(t, remoteRtr, sent.receiver)
	require.Len(t, sent.tokens, 1)
	assert.Equal(t, baseTok, sent.tokens[0].Token)
	assert.Equal(t, uint256.NewInt(105), sent.tokens[0].Amount)

	// The envelope commits to the principal and carries the untouched
	// return-leg record.
	env, err := message.UnmarshalEnvelope(sent.payload)
	require.NoError(t, err)
	assert.Equal(t, recipient, env.Recipient)
	assert.Equal(t, uint256.NewInt(100), env.Amount)
	assert.Equal(t, relayBytes(t, 5, false, 250_000), env.FeeRecord)

	assert.Equal(t, uint256.NewInt(895), l.Balance(requester, baseTok))
	assert.Equal(t, uint256.NewInt(105), l.Balance(escrowAcct, baseTok))
	assert.Equal(t, uint256.NewInt(92), l.Balance(requester, feeTok))
	assert.Equal(t, uint256.NewInt(8), l.Balance(escrowAcct, feeTok))
}

func TestBuildAndSendTwoPairs(t *testing.T) {
	ft := &fakeTransport{quote: 8}
	b, l := newTestBuilder(t, ft)

	req := testRequest(t)
	req.ReturnFee = relayBytes(t, 5, true, 250_000)
	_, err := b.BuildAndSend(context.Background(), req)
	require.NoError(t, err)

	require.Len(t, ft.sent, 1)
	tokens := ft.sent[0].tokens
	require.Len(t, tokens, 2)
	assert.Equal(t, baseTok, tokens[0].Token)
	assert.Equal(t, uint256.NewInt(100), tokens[0].Amount)
	assert.Equal(t, secondTok, tokens[1].Token)
	assert.Equal(t, uint256.NewInt(5), tokens[1].Amount)

	assert.Equal(t, uint256.NewInt(900), l.Balance(requester, baseTok))
	assert.Equal(t, uint256.NewInt(45), l.Balance(requester, secondTok))
	assert.Equal(t, uint256.NewInt(5), l.Balance(escrowAcct, secondTok))
}

func TestBuildAndSendSecondaryOutboundFee(t *testing.T) {
	ft := &fakeTransport{quote: 8}
	b, l := newTestBuilder(t, ft)

	req := testRequest(t)
	req.OutboundFee = relayBytes(t, 10, true, 200_000)
	_, err := b.BuildAndSend(context.Background(), req)
	require.NoError(t, err)

	// The outbound record's flag moves the transport charge to the secondary
	// token; the fee token is untouched.
	assert.Equal(t, uint256.NewInt(42), l.Balance(requester, secondTok))
	assert.Equal(t, uint256.NewInt(8), l.Balance(escrowAcct, secondTok))
	assert.Equal(t, uint256.NewInt(100), l.Balance(requester, feeTok))
	assert.True(t, l.Balance(escrowAcct, feeTok).IsZero())
}

func TestBuildAndSendSecondaryOutboundFeeRefund(t *testing.T) {
	ft := &fakeTransport{quote: 8, sendErr: errors.New("relayer rejected the batch")}
	b, l := newTestBuilder(t, ft)

	req := testRequest(t)
	req.OutboundFee = relayBytes(t, 10, true, 200_000)
	_, err := b.BuildAndSend(context.Background(), req)
	assert.ErrorContains(t, err, "relayer rejected the batch")

	// The unwind returns the transport charge to the token it came from.
	assert.Equal(t, uint256.NewInt(1000), l.Balance(requester, baseTok))
	assert.Equal(t, uint256.NewInt(50), l.Balance(requester, secondTok))
	assert.True(t, l.Balance(escrowAcct, secondTok).IsZero())
	assert.True(t, l.Balance(escrowAcct, baseTok).IsZero())
}

func TestBuildAndSendZeroReturnFee(t *testing.T) {
	ft := &fakeTransport{quote: 0}
	b, _ := newTestBuilder(t, ft)

	req := testRequest(t)
	req.ReturnFee = relayBytes(t, 0, false, 250_000)
	_, err := b.BuildAndSend(context.Background(), req)
	require.NoError(t, err)

	require.Len(t, ft.sent, 1)
	require.Len(t, ft.sent[0].tokens, 1)
	assert.Equal(t, uint256.NewInt(100), ft.sent[0].tokens[0].Amount)
}

func TestBuildAndSendRejectsZeroAmount(t *testing.T) {
	b, _ := newTestBuilder(t, &fakeTransport{})

	req := testRequest(t)
	req.Amount = uint256.NewInt(0)
	_, err := b.BuildAndSend(context.Background(), req)
	assert.ErrorIs(t, err, ErrZeroAmount)

	req.Amount = nil
	_, err = b.BuildAndSend(context.Background(), req)
	assert.ErrorIs(t, err, ErrZeroAmount)
}

func TestBuildAndSendRejectsUnsupportedToken(t *testing.T) {
	b, _ := newTestBuilder(t, &fakeTransport{})

	req := testRequest(t)
	req.Token = secondTok
	_, err := b.BuildAndSend(context.Background(), req)
	assert.ErrorIs(t, err, ErrUnsupportedToken)
}

func TestBuildAndSendRejectsLowGasLimit(t *testing.T) {
	b, _ := newTestBuilder(t, &fakeTransport{})

	req := testRequest(t)
	req.OutboundFee = relayBytes(t, 10, false, MinRemoteGasLimit-1)
	_, err := b.BuildAndSend(context.Background(), req)
	assert.ErrorIs(t, err, ErrGasLimitTooLow)
}

func TestBuildAndSendRejectsMissingCounterparty(t *testing.T) {
	ft := &fakeTransport{}
	b, l := newTestBuilder(t, ft)

	req := testRequest(t)
	req.Destination = orphanSel
	_, err := b.BuildAndSend(context.Background(), req)
	assert.ErrorIs(t, err, ErrNoCounterparty)
	assert.Empty(t, ft.sent)
	assert.Equal(t, uint256.NewInt(1000), l.Balance(requester, baseTok))
}

func TestBuildAndSendRejectsUnknownCorridor(t *testing.T) {
	b, _ := newTestBuilder(t, &fakeTransport{})

	req := testRequest(t)
	req.Destination = message.Selector(999)
	_, err := b.BuildAndSend(context.Background(), req)
	assert.ErrorContains(t, err, "no return fee kind")
}

func TestBuildAndSendFeeCeiling(t *testing.T) {
	ft := &fakeTransport{quote: 12}
	b, l := newTestBuilder(t, ft)

	_, err := b.BuildAndSend(context.Background(), testRequest(t))
	assert.ErrorIs(t, err, ErrFeeExceedsMax)

	// Rejected synchronously, nothing moved and nothing sent.
	assert.Empty(t, ft.sent)
	assert.Equal(t, uint256.NewInt(1000), l.Balance(requester, baseTok))
	assert.Equal(t, uint256.NewInt(100), l.Balance(requester, feeTok))
	assert.True(t, l.Balance(escrowAcct, baseTok).IsZero())
}

func TestBuildAndSendInsufficientBalanceBeforeExternalCalls(t *testing.T) {
	ft := &fakeTransport{quote: 8}
	b, _ := newTestBuilder(t, ft)

	req := testRequest(t)
	req.Amount = uint256.NewInt(2000)
	_, err := b.BuildAndSend(context.Background(), req)
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)

	assert.Zero(t, ft.quoteCalls, "transport must not be consulted for an unfunded request")
	assert.Empty(t, ft.sent)
}

func TestBuildAndSendQuoteFailure(t *testing.T) {
	ft := &fakeTransport{quoteErr: errors.New("relayer unreachable")}
	b, l := newTestBuilder(t, ft)

	_, err := b.BuildAndSend(context.Background(), testRequest(t))
	assert.ErrorContains(t, err, "failed to quote transport fee")
	assert.Equal(t, uint256.NewInt(1000), l.Balance(requester, baseTok))
}

func TestBuildAndSendRefundsAfterSendFailure(t *testing.T) {
	ft := &fakeTransport{quote: 8, sendErr: errors.New("relayer rejected the batch")}
	b, l := newTestBuilder(t, ft)

	_, err := b.BuildAndSend(context.Background(), testRequest(t))
	assert.ErrorContains(t, err, "relayer rejected the batch")

	// The escrow was funded before the send and must be fully unwound.
	assert.Equal(t, uint256.NewInt(1000), l.Balance(requester, baseTok))
	assert.Equal(t, uint256.NewInt(100), l.Balance(requester, feeTok))
	assert.True(t, l.Balance(escrowAcct, baseTok).IsZero())
	assert.True(t, l.Balance(escrowAcct, feeTok).IsZero())
}

func TestNewBuilderRejectsNonRelayTransportKind(t *testing.T) {
	database, err := db.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	counterparties, err := registry.NewCounterparties(zap.NewNop(), db.NewRegistryDB(database.Conn()))
	require.NoError(t, err)

	_, err = NewBuilder(zap.NewNop(), Config{TransportKind: fees.KindFerry}, ledger.New(), counterparties, &fakeTransport{})
	assert.ErrorContains(t, err, "not relay-style")
}
