package pool

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const factoryABIJSON = `[
 {"inputs":[{"internalType":"address","name":"tokenA","type":"address"},{"internalType":"address","name":"tokenB","type":"address"},{"internalType":"uint24","name":"fee","type":"uint24"}],
  "name":"getPool","outputs":[{"internalType":"address","name":"pool","type":"address"}],"stateMutability":"view","type":"function"}
]`

const poolABIJSON = `[
 {"inputs":[],"name":"slot0","outputs":[
   {"internalType":"uint160","name":"sqrtPriceX96","type":"uint160"},
   {"internalType":"int24","name":"tick","type":"int24"},
   {"internalType":"uint16","name":"observationIndex","type":"uint16"},
   {"internalType":"uint16","name":"observationCardinality","type":"uint16"},
   {"internalType":"uint16","name":"observationCardinalityNext","type":"uint16"},
   {"internalType":"uint8","name":"feeProtocol","type":"uint8"},
   {"internalType":"bool","name":"unlocked","type":"bool"}],"stateMutability":"view","type":"function"},
 {"inputs":[],"name":"liquidity","outputs":[{"internalType":"uint128","name":"","type":"uint128"}],"stateMutability":"view","type":"function"},
 {"inputs":[],"name":"fee","outputs":[{"internalType":"uint24","name":"","type":"uint24"}],"stateMutability":"view","type":"function"},
 {"inputs":[],"name":"token0","outputs":[{"internalType":"address","name":"","type":"address"}],"stateMutability":"view","type":"function"},
 {"inputs":[],"name":"token1","outputs":[{"internalType":"address","name":"","type":"address"}],"stateMutability":"view","type":"function"}
]`

const erc20ABIJSON = `[
 {"inputs":[],"name":"decimals","outputs":[{"internalType":"uint8","name":"","type":"uint8"}],"stateMutability":"view","type":"function"},
 {"inputs":[],"name":"symbol","outputs":[{"internalType":"string","name":"","type":"string"}],"stateMutability":"view","type":"function"}
]`

const quoterV2ABIJSON = `[
 {"inputs":[{"components":[
   {"internalType":"address","name":"tokenIn","type":"address"},
   {"internalType":"address","name":"tokenOut","type":"address"},
   {"internalType":"uint256","name":"amountIn","type":"uint256"},
   {"internalType":"uint24","name":"fee","type":"uint24"},
   {"internalType":"uint160","name":"sqrtPriceLimitX96","type":"uint160"}],
   "internalType":"struct IQuoterV2.QuoteExactInputSingleParams","name":"params","type":"tuple"}],
  "name":"quoteExactInputSingle","outputs":[
   {"internalType":"uint256","name":"amountOut","type":"uint256"},
   {"internalType":"uint160","name":"sqrtPriceX96After","type":"uint160"},
   {"internalType":"uint32","name":"initializedTicksCrossed","type":"uint32"},
   {"internalType":"uint256","name":"gasEstimate","type":"uint256"}],
  "stateMutability":"nonpayable","type":"function"}
]`

var (
	factoryABI  = mustParseABI(factoryABIJSON)
	poolABI     = mustParseABI(poolABIJSON)
	erc20ABI    = mustParseABI(erc20ABIJSON)
	quoterV2ABI = mustParseABI(quoterV2ABIJSON)
)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}
