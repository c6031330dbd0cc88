// Package fees implements the fixed-width binary fee records carried on the
// return leg of a cross-ledger transfer. Each bridge back-end kind has exactly
// one record layout with a fixed byte width; decoding any other length is an
// error. All integer fields are big-endian unsigned values.
package fees

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
)

// Kind identifies the bridge back-end a fee record is addressed to. The set of
// kinds is closed; adding a back-end means adding a kind and its record layout.
type Kind uint8

const (
	KindUnknown Kind = iota
	// KindGenericRelay is a relayed message bridge with a live-quoted fee.
	KindGenericRelay
	// KindRetryableTicket is a retryable-ticket bridge whose total fee is the
	// submission cost plus gasCap times gasPriceBid.
	KindRetryableTicket
	// KindOptimismLegacy is the legacy cross-domain messenger, which charges
	// no fee.
	KindOptimismLegacy
	// KindBaseLegacy is the legacy messenger on the Base corridor, fee-less.
	KindBaseLegacy
	// KindLineaBridge is the canonical Linea message service with a
	// live-quoted anti-spam fee.
	KindLineaBridge
	// KindFerry is a batched ferry-style bridge, fee-less for the sender.
	KindFerry
)

func (k Kind) String() string {
	switch k {
	case KindGenericRelay:
		return "generic-relay"
	case KindRetryableTicket:
		return "retryable-ticket"
	case KindOptimismLegacy:
		return "optimism-legacy"
	case KindBaseLegacy:
		return "base-legacy"
	case KindLineaBridge:
		return "linea-bridge"
	case KindFerry:
		return "ferry"
	default:
		return fmt.Sprintf("unknown-kind-%d", uint8(k))
	}
}

// KindFromString parses the string form produced by String. Used by flags and
// the admin surface.
func KindFromString(s string) (Kind, error) {
	switch s {
	case "generic-relay":
		return KindGenericRelay, nil
	case "retryable-ticket":
		return KindRetryableTicket, nil
	case "optimism-legacy":
		return KindOptimismLegacy, nil
	case "base-legacy":
		return KindBaseLegacy, nil
	case "linea-bridge":
		return KindLineaBridge, nil
	case "ferry":
		return KindFerry, nil
	default:
		return KindUnknown, fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
}

// Record byte widths per kind. Every record starts with the 16-byte fee amount
// followed by the one-byte secondary-token flag; relay-style records append a
// 4-byte gas limit and retryable records additionally an 8-byte gas price bid.
const (
	FerryRecordLength     = 17
	RelayRecordLength     = 21
	RetryableRecordLength = 29

	feeAmountLength = 16
)

// RecordLength returns the fixed byte width of the kind's record, or zero for
// an unknown kind.
func (k Kind) RecordLength() int {
	switch k {
	case KindGenericRelay, KindOptimismLegacy, KindBaseLegacy, KindLineaBridge:
		return RelayRecordLength
	case KindRetryableTicket:
		return RetryableRecordLength
	case KindFerry:
		return FerryRecordLength
	default:
		return 0
	}
}

// ZeroFee reports whether the back-end charges no sender fee, meaning the
// record's fee amount must decode to exactly zero for the transfer to be
// accepted by its adapter.
func (k Kind) ZeroFee() bool {
	switch k {
	case KindOptimismLegacy, KindBaseLegacy, KindFerry:
		return true
	default:
		return false
	}
}

// RelayStyle reports whether the kind's record embeds a gas limit for the
// remote execution.
func (k Kind) RelayStyle() bool {
	switch k {
	case KindGenericRelay, KindOptimismLegacy, KindBaseLegacy, KindLineaBridge:
		return true
	default:
		return false
	}
}

var (
	ErrUnknownKind = errors.New("fees: unknown record kind")
	// ErrFeeTooLarge is returned at encode time when a fee amount does not fit
	// in 128 bits. Values are never silently truncated.
	ErrFeeTooLarge = errors.New("fees: fee amount exceeds 128 bits")
)

// Record is the decoded form of a fee record. Concrete types are RelayRecord,
// RetryableRecord and FerryRecord.
type Record interface {
	// Kind returns the back-end kind the record is addressed to.
	Kind() Kind
	// Fee returns the total cost the sender must supply for the remote-to-local
	// leg. The value was computed by the encoder; decoders never recompute it.
	Fee() *uint256.Int
	// PayInSecondary reports whether the fee is paid in the secondary fee
	// token rather than the chain's native asset.
	PayInSecondary() bool
	// Serialize returns the fixed-width wire form of the record. A field value
	// that does not fit its wire width is an error, never a wraparound.
	Serialize() ([]byte, error)
}

// Decode parses data as a record of the given kind. It rejects any input whose
// length differs from the kind's fixed width and never partially decodes.
func Decode(kind Kind, data []byte) (Record, error) {
	switch kind {
	case KindGenericRelay, KindOptimismLegacy, KindBaseLegacy, KindLineaBridge:
		return decodeRelayRecord(kind, data)
	case KindRetryableTicket:
		return decodeRetryableRecord(data)
	case KindFerry:
		return decodeFerryRecord(data)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, uint8(kind))
	}
}

// writeFeeAmount appends the 16-byte big-endian form of fee to dst.
func writeFeeAmount(dst []byte, fee *uint256.Int) ([]byte, error) {
	if fee == nil {
		return nil, errors.New("fees: nil fee amount")
	}
	if fee.BitLen() > 128 {
		return nil, ErrFeeTooLarge
	}
	b := fee.Bytes32()
	return append(dst, b[feeAmountLength:]...), nil
}

// writeFlag appends the secondary-token flag byte.
func writeFlag(dst []byte, secondary bool) []byte {
	if secondary {
		return append(dst, 1)
	}
	return append(dst, 0)
}

func readFeeAmount(data []byte) *uint256.Int {
	return new(uint256.Int).SetBytes(data[:feeAmountLength])
}

func readFlag(b byte) (bool, error) {
	switch b {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, fmt.Errorf("fees: invalid secondary token flag %d", b)
	}
}

func checkLength(kind Kind, data []byte) error {
	if want := kind.RecordLength(); len(data) != want {
		return fmt.Errorf("incorrect %s fee record length, should be %d, is %d", kind, want, len(data))
	}
	return nil
}
