package message

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getInbound(t *testing.T, pairs int) *Inbound {
	t.Helper()

	env := &Envelope{
		Recipient: common.HexToAddress("0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed"),
		Amount:    uint256.NewInt(100),
		FeeRecord: make([]byte, 21),
	}
	envBytes, err := env.Marshal()
	require.NoError(t, err)

	tokens := []TokenAmount{
		{Token: common.HexToAddress("0x0000000000000000000000000000000000000b01"), Amount: uint256.NewInt(105)},
		{Token: common.HexToAddress("0x0000000000000000000000000000000000000f02"), Amount: uint256.NewInt(5)},
	}

	return &Inbound{
		ID:       ID{0xde, 0xad, 0xbe, 0xef},
		Source:   Selector(4949),
		Sender:   common.HexToAddress("0x8ba1f109551bd432803012645ac136ddd64dba72"),
		Tokens:   tokens[:pairs],
		Envelope: envBytes,
	}
}

func TestInboundMarshalUnmarshal(t *testing.T) {
	for _, pairs := range []int{1, 2} {
		msg := getInbound(t, pairs)
		b, err := msg.Marshal()
		require.NoError(t, err)

		decoded, err := UnmarshalInbound(b)
		require.NoError(t, err)
		assert.Equal(t, msg, decoded)
	}
}

func TestInboundMarshalRejectsBadTokenCount(t *testing.T) {
	msg := getInbound(t, 2)

	msg.Tokens = nil
	_, err := msg.Marshal()
	assert.ErrorContains(t, err, "invalid token pair count")

	msg.Tokens = make([]TokenAmount, 3)
	_, err = msg.Marshal()
	assert.ErrorContains(t, err, "invalid token pair count")
}

func TestInboundMarshalRejectsNilAmount(t *testing.T) {
	msg := getInbound(t, 1)
	msg.Tokens[0].Amount = nil
	_, err := msg.Marshal()
	assert.ErrorContains(t, err, "nil amount")
}

func TestInboundMarshalRejectsEmptyEnvelope(t *testing.T) {
	msg := getInbound(t, 1)
	msg.Envelope = nil
	_, err := msg.Marshal()
	assert.ErrorContains(t, err, "empty envelope")
}

func TestUnmarshalInboundTooShort(t *testing.T) {
	msg := getInbound(t, 1)
	b, err := msg.Marshal()
	require.NoError(t, err)

	_, err = UnmarshalInbound(b[:len(b)-60])
	assert.ErrorContains(t, err, "too short")
}

func TestUnmarshalInboundRejectsBadTokenCount(t *testing.T) {
	msg := getInbound(t, 2)
	b, err := msg.Marshal()
	require.NoError(t, err)

	// The count byte sits after id, source and sender.
	b[60] = 3
	_, err = UnmarshalInbound(b)
	assert.ErrorContains(t, err, "invalid token pair count 3")
}

func TestInboundDigest(t *testing.T) {
	msg := getInbound(t, 2)
	other := getInbound(t, 2)

	d1, err := msg.Digest()
	require.NoError(t, err)
	d2, err := other.Digest()
	require.NoError(t, err)
	assert.Equal(t, d1, d2)

	other.Tokens[1].Amount = uint256.NewInt(6)
	d3, err := other.Digest()
	require.NoError(t, err)
	assert.NotEqual(t, d1, d3)
}

func TestEnvelopeRoundTrip(t *testing.T) {
	env := &Envelope{
		Recipient: common.HexToAddress("0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed"),
		Amount:    uint256.NewInt(12345),
		FeeRecord: []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17},
	}
	b, err := env.Marshal()
	require.NoError(t, err)
	require.Len(t, b, 52+17)

	decoded, err := UnmarshalEnvelope(b)
	require.NoError(t, err)
	assert.Equal(t, env, decoded)
}

func TestUnmarshalEnvelopeTooShort(t *testing.T) {
	_, err := UnmarshalEnvelope(make([]byte, 52))
	assert.ErrorContains(t, err, "too short")
}

func TestEnvelopeMarshalRejectsMissingFields(t *testing.T) {
	_, err := (&Envelope{FeeRecord: []byte{1}}).Marshal()
	assert.ErrorContains(t, err, "nil amount")

	_, err = (&Envelope{Amount: uint256.NewInt(1)}).Marshal()
	assert.ErrorContains(t, err, "empty fee record")
}

func TestIDFromString(t *testing.T) {
	id := ID{1, 2, 3}
	parsed, err := IDFromString(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)

	_, err = IDFromString("zz")
	assert.ErrorContains(t, err, "invalid message id")

	_, err = IDFromString("abcd")
	assert.ErrorContains(t, err, "invalid message id length")
}
