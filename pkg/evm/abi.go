package evm

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/shuttle-bridge/shuttle/node/pkg/message"
)

// packRelayFeeCall creates call data for the relayFee(uint64,uint32) function.
func packRelayFeeCall(remote message.Selector, gasLimit uint32) []byte {
	selector := crypto.Keccak256([]byte("relayFee(uint64,uint32)"))[:4]

	result := make([]byte, 4+64)
	copy(result[0:4], selector)
	copy(result[4:36], common.LeftPadBytes(uint256.NewInt(uint64(remote)).Bytes(), 32))
	copy(result[36:68], common.LeftPadBytes(uint256.NewInt(uint64(gasLimit)).Bytes(), 32))

	return result
}

// packSubmissionFeeCall creates call data for the submissionFee() function.
func packSubmissionFeeCall() []byte {
	return crypto.Keccak256([]byte("submissionFee()"))[:4]
}

// parseUint256Result parses a uint256 result from a contract call.
func parseUint256Result(data []byte) (*uint256.Int, error) {
	if len(data) != 32 {
		return nil, fmt.Errorf("invalid uint256 data length: got %d want 32", len(data))
	}
	return uint256.NewInt(0).SetBytes(data), nil
}
