package devnet

import (
	"context"

	"github.com/holiman/uint256"

	"github.com/shuttle-bridge/shuttle/node/pkg/message"
)

// StaticRelayFee quotes the same relay fee for every corridor and gas limit.
type StaticRelayFee struct {
	Fee *uint256.Int
}

func (s StaticRelayFee) RelayFee(ctx context.Context, remote message.Selector, gasLimit uint32) (*uint256.Int, error) {
	return s.Fee.Clone(), nil
}

// StaticSubmissionFee quotes a fixed retryable submission cost.
type StaticSubmissionFee struct {
	Fee *uint256.Int
}

func (s StaticSubmissionFee) SubmissionFee(ctx context.Context) (*uint256.Int, error) {
	return s.Fee.Clone(), nil
}
