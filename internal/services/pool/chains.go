package pool

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Chain Uniswap v3 deployment on one network.
type Chain struct {
	Name     string
	ID       int64
	RPCURL   string
	Factory  common.Address
	QuoterV2 common.Address
}

var chains = map[string]Chain{
	"bsc": {
		Name:     "bsc",
		ID:       56,
		RPCURL:   "https://bsc-rpc.publicnode.com",
		Factory:  common.HexToAddress("0xdB1d10011AD0Ff90774D0C6Bb92e5C5c8b4461F7"),
		QuoterV2: common.HexToAddress("0x78D78E420Da98ad378D7799bE8f4AF69033EB077"),
	},
	"base": {
		Name:     "base",
		ID:       8453,
		RPCURL:   "https://mainnet.base.org",
		Factory:  common.HexToAddress("0x33128a8fC17869897dcE68Ed026d694621f6FDfD"),
		QuoterV2: common.HexToAddress("0x3d4e44Eb1374240CE5F1B871ab261CD16335B76a"),
	},
	"optimism": {
		Name:     "optimism",
		ID:       10,
		RPCURL:   "https://mainnet.optimism.io",
		Factory:  common.HexToAddress("0x1F98431c8aD98523631AE4a59f267346ea31F984"),
		QuoterV2: common.HexToAddress("0x61fFE014bA17989E743c5F6cB21bF9697530B21e"),
	},
}

// ChainByName returns a preset by name, case-insensitive.
func ChainByName(name string) (Chain, error) {
	c, ok := chains[strings.ToLower(name)]
	if !ok {
		return Chain{}, fmt.Errorf("unsupported chain %q, expected one of %s", name, strings.Join(ChainNames(), ", "))
	}
	return c, nil
}

// ChainNames lists the supported presets.
func ChainNames() []string {
	names := make([]string, 0, len(chains))
	for name := range chains {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
