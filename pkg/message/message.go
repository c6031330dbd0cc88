// Package message defines the wire types exchanged across the transport
// boundary: the transfer envelope, the attached token amounts and the inbound
// message the processor consumes. All multi-byte integers are big-endian.
package message

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"go.uber.org/zap"
)

// Selector identifies a remote ledger corridor. Selectors are opaque; the node
// only ever compares them and uses them as registry keys.
type Selector uint64

func (s Selector) String() string {
	return strconv.FormatUint(uint64(s), 10)
}

// ID is the transport-assigned message identifier.
type ID [32]byte

func (i ID) String() string {
	return hex.EncodeToString(i[:])
}

func (i ID) Bytes() []byte {
	return i[:]
}

// IDFromString parses the hex form produced by String.
func IDFromString(s string) (ID, error) {
	var id ID
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("invalid message id: %w", err)
	}
	if len(b) != len(id) {
		return id, fmt.Errorf("invalid message id length, should be %d, is %d", len(id), len(b))
	}
	copy(id[:], b)
	return id, nil
}

// MaxTokenAmounts is the largest attached token set: the principal pair plus
// an optional secondary fee pair.
const MaxTokenAmounts = 2

const tokenAmountLength = 52

// TokenAmount is one attached (token, amount) pair.
type TokenAmount struct {
	Token  common.Address
	Amount *uint256.Int
}

// Inbound is a delivered cross-ledger message: the identifier and origin
// assigned by the transport, the attached token set and the opaque envelope
// produced by the remote builder.
type Inbound struct {
	ID       ID
	Source   Selector
	Sender   common.Address
	Tokens   []TokenAmount
	Envelope []byte
}

// minInboundLength is id (32) + source (8) + sender (20) + token count (1) +
// one token pair (52) + the minimum envelope (53).
const minInboundLength = 166

// MustWrite calls binary.Write and panics if it fails. Use only on types whose
// encoding cannot fail.
func MustWrite(writer io.Writer, order binary.ByteOrder, data interface{}) {
	if err := binary.Write(writer, order, data); err != nil {
		panic(fmt.Errorf("failed to write binary data: %v", data).Error())
	}
}

func (msg *Inbound) Marshal() ([]byte, error) {
	if len(msg.Tokens) < 1 || len(msg.Tokens) > MaxTokenAmounts {
		return nil, fmt.Errorf("invalid token pair count %d", len(msg.Tokens))
	}
	if len(msg.Envelope) == 0 {
		return nil, fmt.Errorf("empty envelope")
	}

	buf := new(bytes.Buffer)
	buf.Write(msg.ID[:])
	MustWrite(buf, binary.BigEndian, uint64(msg.Source))
	buf.Write(msg.Sender[:])
	buf.WriteByte(byte(len(msg.Tokens))) // #nosec G115 -- This is validated above
	for i, ta := range msg.Tokens {
		if ta.Amount == nil {
			return nil, fmt.Errorf("nil amount in token pair %d", i)
		}
		buf.Write(ta.Token[:])
		amount := ta.Amount.Bytes32()
		buf.Write(amount[:])
	}
	buf.Write(msg.Envelope)

	return buf.Bytes(), nil
}

// UnmarshalInbound deserializes the binary representation of a delivered
// message.
func UnmarshalInbound(data []byte) (*Inbound, error) {
	if len(data) < minInboundLength {
		return nil, fmt.Errorf("message is too short")
	}

	msg := &Inbound{}
	reader := bytes.NewReader(data)

	if n, err := reader.Read(msg.ID[:]); err != nil || n != 32 {
		return nil, fmt.Errorf("failed to read message id [%d]: %w", n, err)
	}

	var source uint64
	if err := binary.Read(reader, binary.BigEndian, &source); err != nil {
		return nil, fmt.Errorf("failed to read source selector: %w", err)
	}
	msg.Source = Selector(source)

	if n, err := reader.Read(msg.Sender[:]); err != nil || n != 20 {
		return nil, fmt.Errorf("failed to read sender [%d]: %w", n, err)
	}

	count, err := reader.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("failed to read token pair count: %w", err)
	}
	if count < 1 || count > MaxTokenAmounts {
		return nil, fmt.Errorf("invalid token pair count %d", count)
	}

	msg.Tokens = make([]TokenAmount, count)
	for i := range msg.Tokens {
		if n, err := reader.Read(msg.Tokens[i].Token[:]); err != nil || n != 20 {
			return nil, fmt.Errorf("failed to read token %d [%d]: %w", i, n, err)
		}
		var amount [32]byte
		if n, err := reader.Read(amount[:]); err != nil || n != 32 {
			return nil, fmt.Errorf("failed to read amount %d [%d]: %w", i, n, err)
		}
		msg.Tokens[i].Amount = new(uint256.Int).SetBytes(amount[:])
	}

	envelope := make([]byte, reader.Len())
	if n, err := reader.Read(envelope); err != nil || n == 0 {
		return nil, fmt.Errorf("failed to read envelope [%d]: %w", n, err)
	}
	msg.Envelope = envelope

	return msg, nil
}

// Digest returns the double-keccak digest of the marshaled message. This is
// the value a FailedMessageRecord commits to.
func (msg *Inbound) Digest() (common.Hash, error) {
	b, err := msg.Marshal()
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(crypto.Keccak256Hash(b).Bytes()), nil
}

// ZapFields returns the standard log fields identifying the message.
func (msg *Inbound) ZapFields(fields ...zap.Field) []zap.Field {
	return append(fields,
		zap.String("messageID", msg.ID.String()),
		zap.Stringer("source", msg.Source),
		zap.Stringer("sender", msg.Sender),
		zap.Int("tokenPairs", len(msg.Tokens)),
	)
}
