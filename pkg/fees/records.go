package fees

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/holiman/uint256"
)

// RelayRecord is the fee record shared by the relay-style back ends
// (generic relay, the legacy messengers and the Linea bridge). Wire form:
//
//	feeAmount  uint128
//	secondary  uint8 (0 or 1)
//	gasLimit   uint32
type RelayRecord struct {
	BackendKind    Kind
	FeeAmount      *uint256.Int
	SecondaryToken bool
	GasLimit       uint32
}

func (r *RelayRecord) Kind() Kind           { return r.BackendKind }
func (r *RelayRecord) Fee() *uint256.Int    { return r.FeeAmount }
func (r *RelayRecord) PayInSecondary() bool { return r.SecondaryToken }

func (r *RelayRecord) Serialize() ([]byte, error) {
	if !r.BackendKind.RelayStyle() {
		return nil, fmt.Errorf("fees: kind %s is not relay-style", r.BackendKind)
	}
	buf := make([]byte, 0, RelayRecordLength)
	buf, err := writeFeeAmount(buf, r.FeeAmount)
	if err != nil {
		return nil, err
	}
	buf = writeFlag(buf, r.SecondaryToken)
	buf = binary.BigEndian.AppendUint32(buf, r.GasLimit)
	return buf, nil
}

func decodeRelayRecord(kind Kind, data []byte) (*RelayRecord, error) {
	if err := checkLength(kind, data); err != nil {
		return nil, err
	}
	secondary, err := readFlag(data[16])
	if err != nil {
		return nil, err
	}
	return &RelayRecord{
		BackendKind:    kind,
		FeeAmount:      readFeeAmount(data),
		SecondaryToken: secondary,
		GasLimit:       binary.BigEndian.Uint32(data[17:21]),
	}, nil
}

// RetryableRecord is the fee record for retryable-ticket back ends. Wire form:
//
//	feeAmount   uint128
//	secondary   uint8 (0 or 1)
//	gasCap      uint32
//	gasPriceBid uint64
//
// FeeAmount is the pre-computed total, submission cost plus gasCap times
// gasPriceBid. The submission cost is recoverable as FeeAmount minus the gas
// product.
type RetryableRecord struct {
	FeeAmount      *uint256.Int
	SecondaryToken bool
	GasCap         uint32
	GasPriceBid    uint64
}

func (r *RetryableRecord) Kind() Kind           { return KindRetryableTicket }
func (r *RetryableRecord) Fee() *uint256.Int    { return r.FeeAmount }
func (r *RetryableRecord) PayInSecondary() bool { return r.SecondaryToken }

func (r *RetryableRecord) Serialize() ([]byte, error) {
	buf := make([]byte, 0, RetryableRecordLength)
	buf, err := writeFeeAmount(buf, r.FeeAmount)
	if err != nil {
		return nil, err
	}
	buf = writeFlag(buf, r.SecondaryToken)
	buf = binary.BigEndian.AppendUint32(buf, r.GasCap)
	buf = binary.BigEndian.AppendUint64(buf, r.GasPriceBid)
	return buf, nil
}

// GasProduct returns gasCap times gasPriceBid as a 256-bit value.
func (r *RetryableRecord) GasProduct() *uint256.Int {
	product := new(uint256.Int).SetUint64(uint64(r.GasCap))
	return product.Mul(product, new(uint256.Int).SetUint64(r.GasPriceBid))
}

// SubmissionCost recovers the submission cost embedded in the total fee. An
// underflow means the record was not produced by NewRetryableRecord.
func (r *RetryableRecord) SubmissionCost() (*uint256.Int, error) {
	cost, underflow := new(uint256.Int).SubOverflow(r.FeeAmount, r.GasProduct())
	if underflow {
		return nil, errors.New("fees: retryable fee amount below gas product")
	}
	return cost, nil
}

// NewRetryableRecord builds a retryable-ticket record, computing the embedded
// total fee from the submission cost and the gas parameters. Overflow past 128
// bits is an error; the decoder returns the embedded total without
// recomputation.
func NewRetryableRecord(submissionCost *uint256.Int, gasCap uint32, gasPriceBid uint64, secondaryToken bool) (*RetryableRecord, error) {
	if submissionCost == nil {
		return nil, errors.New("fees: nil submission cost")
	}
	rec := &RetryableRecord{
		SecondaryToken: secondaryToken,
		GasCap:         gasCap,
		GasPriceBid:    gasPriceBid,
	}
	total, overflow := new(uint256.Int).AddOverflow(submissionCost, rec.GasProduct())
	if overflow || total.BitLen() > 128 {
		return nil, ErrFeeTooLarge
	}
	rec.FeeAmount = total
	return rec, nil
}

func decodeRetryableRecord(data []byte) (*RetryableRecord, error) {
	if err := checkLength(KindRetryableTicket, data); err != nil {
		return nil, err
	}
	secondary, err := readFlag(data[16])
	if err != nil {
		return nil, err
	}
	return &RetryableRecord{
		FeeAmount:      readFeeAmount(data),
		SecondaryToken: secondary,
		GasCap:         binary.BigEndian.Uint32(data[17:21]),
		GasPriceBid:    binary.BigEndian.Uint64(data[21:29]),
	}, nil
}

// FerryRecord is the fee record for ferry-style back ends, which batch
// transfers and charge the sender nothing. Wire form:
//
//	feeAmount uint128
//	secondary uint8 (0 or 1)
type FerryRecord struct {
	FeeAmount      *uint256.Int
	SecondaryToken bool
}

func (r *FerryRecord) Kind() Kind           { return KindFerry }
func (r *FerryRecord) Fee() *uint256.Int    { return r.FeeAmount }
func (r *FerryRecord) PayInSecondary() bool { return r.SecondaryToken }

func (r *FerryRecord) Serialize() ([]byte, error) {
	buf := make([]byte, 0, FerryRecordLength)
	buf, err := writeFeeAmount(buf, r.FeeAmount)
	if err != nil {
		return nil, err
	}
	buf = writeFlag(buf, r.SecondaryToken)
	return buf, nil
}

func decodeFerryRecord(data []byte) (*FerryRecord, error) {
	if err := checkLength(KindFerry, data); err != nil {
		return nil, err
	}
	secondary, err := readFlag(data[16])
	if err != nil {
		return nil, err
	}
	return &FerryRecord{
		FeeAmount:      readFeeAmount(data),
		SecondaryToken: secondary,
	}, nil
}
