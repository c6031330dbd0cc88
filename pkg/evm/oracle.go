package evm

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/shuttle-bridge/shuttle/node/pkg/message"
)

var feeQueries = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "shuttle_evm_fee_queries_total",
		Help: "Total number of on-chain fee queries by method and result",
	}, []string{"method", "result"})

// FeeOracle quotes live fees off a corridor's contracts. RelayFee asks the
// router what it charges to relay a message to a remote corridor,
// SubmissionFee asks the retryable inbox for the current base submission
// cost. Both are read-only view calls.
type FeeOracle struct {
	logger  *zap.Logger
	client  *Client
	address common.Address
}

func NewFeeOracle(logger *zap.Logger, client *Client, address common.Address) *FeeOracle {
	return &FeeOracle{
		logger:  logger.With(zap.String("component", "fee-oracle")),
		client:  client,
		address: address,
	}
}

func (o *FeeOracle) RelayFee(ctx context.Context, remote message.Selector, gasLimit uint32) (*uint256.Int, error) {
	result, err := o.client.client.CallContract(ctx, ethereum.CallMsg{
		To:   &o.address,
		Data: packRelayFeeCall(remote, gasLimit),
	}, nil)
	if err != nil {
		feeQueries.WithLabelValues("relayFee", "rpc_error").Inc()
		return nil, fmt.Errorf("failed to call relayFee on %s: %w", o.address.Hex(), err)
	}

	fee, err := parseUint256Result(result)
	if err != nil {
		feeQueries.WithLabelValues("relayFee", "parse_error").Inc()
		return nil, fmt.Errorf("failed to parse relayFee result from %s: %w", o.address.Hex(), err)
	}

	feeQueries.WithLabelValues("relayFee", "success").Inc()
	o.logger.Debug("quoted relay fee",
		zap.Stringer("remote", remote),
		zap.Uint32("gasLimit", gasLimit),
		zap.String("fee", fee.String()),
	)
	return fee, nil
}

func (o *FeeOracle) SubmissionFee(ctx context.Context) (*uint256.Int, error) {
	result, err := o.client.client.CallContract(ctx, ethereum.CallMsg{
		To:   &o.address,
		Data: packSubmissionFeeCall(),
	}, nil)
	if err != nil {
		feeQueries.WithLabelValues("submissionFee", "rpc_error").Inc()
		return nil, fmt.Errorf("failed to call submissionFee on %s: %w", o.address.Hex(), err)
	}

	fee, err := parseUint256Result(result)
	if err != nil {
		feeQueries.WithLabelValues("submissionFee", "parse_error").Inc()
		return nil, fmt.Errorf("failed to parse submissionFee result from %s: %w", o.address.Hex(), err)
	}

	feeQueries.WithLabelValues("submissionFee", "success").Inc()
	return fee, nil
}
