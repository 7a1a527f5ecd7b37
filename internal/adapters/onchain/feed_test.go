package onchain_test

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/alejandrodnm/cdpusd/internal/adapters/onchain"
	"github.com/alejandrodnm/cdpusd/internal/domain"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var feedAddr = common.HexToAddress("0x694AA1769357215DE4FAC081bf1f309aDC325306")

const aggregatorJSON = `[
	{"name":"decimals","type":"function","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
	{"name":"description","type":"function","inputs":[],"outputs":[{"name":"","type":"string"}]},
	{"name":"latestRoundData","type":"function","inputs":[],"outputs":[
		{"name":"roundId","type":"uint80"},
		{"name":"answer","type":"int256"},
		{"name":"startedAt","type":"uint256"},
		{"name":"updatedAt","type":"uint256"},
		{"name":"answeredInRound","type":"uint80"}
	]}
]`

// fakeAggregator responde eth_call con outputs ABI-encoded.
type fakeAggregator struct {
	t         *testing.T
	abi       abi.ABI
	round     int64
	answer    *big.Int
	updatedAt int64
	calls     map[string]int
}

func newFake(t *testing.T) *fakeAggregator {
	parsed, err := abi.JSON(strings.NewReader(aggregatorJSON))
	require.NoError(t, err)
	return &fakeAggregator{t: t, abi: parsed, calls: make(map[string]int)}
}

func (f *fakeAggregator) CallContract(_ context.Context, call ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	require.NotNil(f.t, call.To)
	if *call.To != feedAddr {
		return nil, errors.New("execution reverted")
	}
	for name, m := range f.abi.Methods {
		if !bytes.Equal(call.Data[:4], m.ID) {
			continue
		}
		f.calls[name]++
		switch name {
		case "decimals":
			return m.Outputs.Pack(uint8(8))
		case "description":
			return m.Outputs.Pack("MEME / USD")
		case "latestRoundData":
			r := big.NewInt(f.round)
			return m.Outputs.Pack(r, f.answer, big.NewInt(f.updatedAt), big.NewInt(f.updatedAt), r)
		}
	}
	return nil, errors.New("unknown selector")
}

func TestFeedClient_LatestRound(t *testing.T) {
	ctx := context.Background()
	fake := newFake(t)
	fake.round = 7
	fake.answer = big.NewInt(20_000_000)
	fake.updatedAt = 1_740_830_400

	fc := onchain.NewFeedClient(fake, feedAddr)
	r, err := fc.LatestRound(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), r.RoundID)
	assert.Equal(t, uint256.NewInt(20_000_000), r.Price)
	assert.Equal(t, time.Unix(1_740_830_400, 0).UTC(), r.UpdatedAt)

	desc, err := fc.Description(ctx)
	require.NoError(t, err)
	assert.Equal(t, "MEME / USD", desc)
}

func TestFeedClient_DecimalsCached(t *testing.T) {
	fake := newFake(t)
	fc := onchain.NewFeedClient(fake, feedAddr)

	for i := 0; i < 3; i++ {
		dec, err := fc.Decimals(context.Background())
		require.NoError(t, err)
		assert.Equal(t, uint8(8), dec)
	}
	assert.Equal(t, 1, fake.calls["decimals"])
}

func TestFeedClient_Errors(t *testing.T) {
	tests := []struct {
		name      string
		round     int64
		answer    int64
		updatedAt int64
		want      error
	}{
		{"never published", 0, 0, 0, domain.ErrNoData},
		{"zero timestamp", 3, 100, 0, domain.ErrNoData},
		{"negative answer", 3, -1, 10, domain.ErrInvalidPrice},
		{"zero answer", 3, 0, 10, domain.ErrInvalidPrice},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := newFake(t)
			fake.round, fake.answer, fake.updatedAt = tt.round, big.NewInt(tt.answer), tt.updatedAt
			_, err := onchain.NewFeedClient(fake, feedAddr).LatestRound(context.Background())
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestFeedClient_CallFailure(t *testing.T) {
	other := common.HexToAddress("0x1")
	_, err := onchain.NewFeedClient(newFake(t), other).LatestRound(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "execution reverted")
}

func TestAddressFromKey(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	hexKey := common.Bytes2Hex(crypto.FromECDSA(key))

	for _, in := range []string{hexKey, "0x" + hexKey} {
		addr, err := onchain.AddressFromKey(in)
		require.NoError(t, err)
		assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), addr)
	}

	_, err = onchain.AddressFromKey("not-hex")
	assert.Error(t, err)
}
