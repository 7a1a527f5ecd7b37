package onchain

// feed.go: lector de un price feed AggregatorV3 (Chainlink-compatible).
//
// Solo lectura: decimals(), description() y latestRoundData() vía eth_call.
// Implementa ports.PriceFeed para usar un oráculo real en lugar del feed
// gestionado en proceso.

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/alejandrodnm/cdpusd/internal/domain"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/holiman/uint256"
)

var aggregatorABI abi.ABI

func init() {
	var err error
	aggregatorABI, err = abi.JSON(strings.NewReader(`[
		{
			"name": "decimals",
			"type": "function",
			"stateMutability": "view",
			"inputs": [],
			"outputs": [{"name": "", "type": "uint8"}]
		},
		{
			"name": "description",
			"type": "function",
			"stateMutability": "view",
			"inputs": [],
			"outputs": [{"name": "", "type": "string"}]
		},
		{
			"name": "latestRoundData",
			"type": "function",
			"stateMutability": "view",
			"inputs": [],
			"outputs": [
				{"name": "roundId", "type": "uint80"},
				{"name": "answer", "type": "int256"},
				{"name": "startedAt", "type": "uint256"},
				{"name": "updatedAt", "type": "uint256"},
				{"name": "answeredInRound", "type": "uint80"}
			]
		}
	]`))
	if err != nil {
		panic("aggregator abi parse: " + err.Error())
	}
}

// FeedClient implementa ports.PriceFeed sobre un contrato AggregatorV3.
type FeedClient struct {
	caller ethereum.ContractCaller
	feed   common.Address

	mu       sync.RWMutex
	decimals *uint8 // no cambia nunca: se cachea tras la primera lectura
}

// NewFeedClient crea un lector sobre cualquier ContractCaller (ethclient o
// un backend simulado en tests).
func NewFeedClient(caller ethereum.ContractCaller, feed common.Address) *FeedClient {
	return &FeedClient{caller: caller, feed: feed}
}

// DialFeed conecta al RPC dado. closeFn libera la conexión.
func DialFeed(ctx context.Context, rpcURL string, feed common.Address) (fc *FeedClient, closeFn func(), err error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, nil, fmt.Errorf("onchain.DialFeed: dial rpc %s: %w", rpcURL, err)
	}
	return NewFeedClient(client, feed), client.Close, nil
}

func (f *FeedClient) Decimals(ctx context.Context) (uint8, error) {
	f.mu.RLock()
	cached := f.decimals
	f.mu.RUnlock()
	if cached != nil {
		return *cached, nil
	}

	vals, err := f.call(ctx, "decimals")
	if err != nil {
		return 0, fmt.Errorf("onchain.Decimals: %w", err)
	}
	dec, ok := vals[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("onchain.Decimals: unexpected type %T", vals[0])
	}

	f.mu.Lock()
	f.decimals = &dec
	f.mu.Unlock()
	return dec, nil
}

func (f *FeedClient) Description(ctx context.Context) (string, error) {
	vals, err := f.call(ctx, "description")
	if err != nil {
		return "", fmt.Errorf("onchain.Description: %w", err)
	}
	s, _ := vals[0].(string)
	return s, nil
}

// LatestRound lee latestRoundData(). Un round o updatedAt a cero significa que
// el feed nunca publicó (domain.ErrNoData); un answer <= 0 es
// domain.ErrInvalidPrice.
func (f *FeedClient) LatestRound(ctx context.Context) (domain.PriceRound, error) {
	vals, err := f.call(ctx, "latestRoundData")
	if err != nil {
		return domain.PriceRound{}, fmt.Errorf("onchain.LatestRound: %w", err)
	}
	if len(vals) != 5 {
		return domain.PriceRound{}, fmt.Errorf("onchain.LatestRound: %d outputs", len(vals))
	}
	roundID, _ := vals[0].(*big.Int)
	answer, _ := vals[1].(*big.Int)
	updatedAt, _ := vals[3].(*big.Int)
	if roundID == nil || answer == nil || updatedAt == nil {
		return domain.PriceRound{}, errors.New("onchain.LatestRound: unexpected output types")
	}

	if roundID.Sign() == 0 || updatedAt.Sign() == 0 {
		return domain.PriceRound{}, fmt.Errorf("onchain.LatestRound: %w", domain.ErrNoData)
	}
	if answer.Sign() <= 0 {
		return domain.PriceRound{}, fmt.Errorf("onchain.LatestRound: answer %s: %w", answer, domain.ErrInvalidPrice)
	}
	price, overflow := uint256.FromBig(answer)
	if overflow {
		return domain.PriceRound{}, fmt.Errorf("onchain.LatestRound: answer: %w", domain.ErrOverflow)
	}

	return domain.PriceRound{
		RoundID:   roundID.Uint64(),
		Price:     price,
		UpdatedAt: time.Unix(updatedAt.Int64(), 0).UTC(),
	}, nil
}

func (f *FeedClient) call(ctx context.Context, method string) ([]any, error) {
	data, err := aggregatorABI.Pack(method)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	out, err := f.caller.CallContract(ctx, ethereum.CallMsg{To: &f.feed, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s on %s: %w", method, f.feed.Hex(), err)
	}
	vals, err := aggregatorABI.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(vals) == 0 {
		return nil, fmt.Errorf("%s: empty output", method)
	}
	return vals, nil
}
