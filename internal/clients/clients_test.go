package clients

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

func TestHyperliquidKeys(t *testing.T) {
	// private key = 1
	const key = "0x0000000000000000000000000000000000000000000000000000000000000001"

	privateKey, err := parsePrivateKey(key)
	require.NoError(t, err)
	addr, err := accountAddress(privateKey)
	require.NoError(t, err)
	require.Equal(t, common.HexToAddress("0x7E5F4552091A69125d5DfCb7b8C2659029395Bdf").Hex(), addr)

	_, err = parsePrivateKey("zz")
	require.Error(t, err)

	ephemeral, err := crypto.GenerateKey()
	require.NoError(t, err)
	addr, err = accountAddress(ephemeral)
	require.NoError(t, err)
	require.True(t, common.IsHexAddress(addr))
}

func TestNewBybitClient(t *testing.T) {
	require.NotNil(t, NewBybitClient("", ""))
	require.NotNil(t, NewBybitClient("key", "secret"))
}

func TestNewEthClient_EmptyURL(t *testing.T) {
	_, err := NewEthClient(context.Background(), "", 1)
	require.ErrorContains(t, err, "rpc url is empty")
}
