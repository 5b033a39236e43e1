package clients

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
)

const dialTimeout = 15 * time.Second

// NewEthClient dials rpcURL and checks that the node serves chainID.
func NewEthClient(ctx context.Context, rpcURL string, chainID int64) (*ethclient.Client, error) {
	if rpcURL == "" {
		return nil, errors.New("rpc url is empty")
	}

	ctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, errors.Wrap(err, "dial rpc")
	}

	got, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, errors.Wrap(err, "read chain id")
	}
	if chainID != 0 && got.Int64() != chainID {
		client.Close()
		return nil, errors.Errorf("rpc serves chain %d, expected %d", got.Int64(), chainID)
	}

	return client, nil
}
