package evm

import (
	"context"

	ethClient "github.com/ethereum/go-ethereum/ethclient"
	ethRpc "github.com/ethereum/go-ethereum/rpc"

	"go.uber.org/zap"
)

// Client wraps a go-ethereum RPC connection for read-only fee queries
// against a corridor's contracts.
type Client struct {
	networkName string
	logger      *zap.Logger
	client      *ethClient.Client
	rawClient   *ethRpc.Client
}

func DialContext(ctx context.Context, logger *zap.Logger, networkName, rawUrl string) (*Client, error) {
	rawClient, err := ethRpc.DialContext(ctx, rawUrl)
	if err != nil {
		return nil, err
	}

	client := ethClient.NewClient(rawClient)

	return &Client{
		networkName: networkName,
		logger:      logger,
		client:      client,
		rawClient:   rawClient,
	}, nil
}

func (c *Client) NetworkName() string {
	return c.networkName
}

func (c *Client) Close() {
	c.rawClient.Close()
}
