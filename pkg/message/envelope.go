package message

import (
	"bytes"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Envelope is the opaque payload carried inside a cross-ledger message:
// the recipient on the destination ledger, the principal amount and the
// return-leg fee record. It is produced by the outbound builder and consumed
// unchanged by the inbound processor on the far side. Wire format:
//
//	recipient  20 bytes
//	amount     32 bytes
//	feeRecord  variable, at least one byte
type Envelope struct {
	Recipient common.Address
	Amount    *uint256.Int
	FeeRecord []byte
}

// minEnvelopeLength is recipient (20) + amount (32) + at least one fee record
// byte.
const minEnvelopeLength = 53

func (e *Envelope) Marshal() ([]byte, error) {
	if e.Amount == nil {
		return nil, fmt.Errorf("nil amount")
	}
	if len(e.FeeRecord) == 0 {
		return nil, fmt.Errorf("empty fee record")
	}

	buf := new(bytes.Buffer)
	buf.Write(e.Recipient[:])
	amount := e.Amount.Bytes32()
	buf.Write(amount[:])
	buf.Write(e.FeeRecord)

	return buf.Bytes(), nil
}

// UnmarshalEnvelope deserializes the binary representation of a transfer
// envelope.
func UnmarshalEnvelope(data []byte) (*Envelope, error) {
	if len(data) < minEnvelopeLength {
		return nil, fmt.Errorf("envelope is too short")
	}

	e := &Envelope{}
	reader := bytes.NewReader(data)

	if n, err := reader.Read(e.Recipient[:]); err != nil || n != 20 {
		return nil, fmt.Errorf("failed to read recipient [%d]: %w", n, err)
	}

	var amount [32]byte
	if n, err := reader.Read(amount[:]); err != nil || n != 32 {
		return nil, fmt.Errorf("failed to read amount [%d]: %w", n, err)
	}
	e.Amount = new(uint256.Int).SetBytes(amount[:])

	feeRecord := make([]byte, reader.Len())
	if n, err := reader.Read(feeRecord); err != nil || n == 0 {
		return nil, fmt.Errorf("failed to read fee record [%d]: %w", n, err)
	}
	e.FeeRecord = feeRecord

	return e, nil
}
