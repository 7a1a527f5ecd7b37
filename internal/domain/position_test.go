package domain_test

import (
	"testing"

	"github.com/alejandrodnm/cdpusd/internal/domain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPosition_ZeroAndClone(t *testing.T) {
	acct := common.HexToAddress("0x01")
	p := domain.NewPosition(acct)
	assert.True(t, p.IsZero())
	assert.False(t, p.HasDebt())

	p.Debt = uint256.NewInt(5)
	c := p.Clone()
	c.Debt.AddUint64(c.Debt, 1)
	assert.Equal(t, uint64(5), p.Debt.Uint64(), "clone must not alias")
	assert.True(t, p.HasDebt())
}

func TestRatio(t *testing.T) {
	r, ok, err := domain.Ratio(uint256.NewInt(10_000), uint256.NewInt(1_000))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(domain.DefaultMinMintRatio), r.Uint64())

	_, ok, err = domain.Ratio(uint256.NewInt(10_000), new(uint256.Int))
	require.NoError(t, err)
	assert.False(t, ok, "ratio undefined without debt")
}

func TestSub_NeverWraps(t *testing.T) {
	_, err := domain.Sub(uint256.NewInt(1), uint256.NewInt(2))
	assert.ErrorIs(t, err, domain.ErrOverflow)

	out, err := domain.Sub(uint256.NewInt(2), uint256.NewInt(2))
	require.NoError(t, err)
	assert.True(t, out.IsZero())
}

func TestAdd_Overflow(t *testing.T) {
	max := new(uint256.Int).SetAllOne()
	_, err := domain.Add(max, uint256.NewInt(1))
	assert.ErrorIs(t, err, domain.ErrOverflow)
}

func TestBpsOf(t *testing.T) {
	fee, err := domain.BpsOf(uint256.NewInt(10_000), domain.DefaultCloseFeeBps)
	require.NoError(t, err)
	assert.Equal(t, uint64(500), fee.Uint64())
}
