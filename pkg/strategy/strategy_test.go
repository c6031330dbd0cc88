package strategy

import (
	"context"
	"testing"

	"github.com/shuttle-bridge/shuttle/node/pkg/ledger"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	underlying = common.HexToAddress("0x1000000000000000000000000000000000000001")
	derivative = common.HexToAddress("0x1000000000000000000000000000000000000002")
	pool       = common.HexToAddress("0x2000000000000000000000000000000000000001")
	custodian  = common.HexToAddress("0x3000000000000000000000000000000000000001")
)

func TestFixedRateRejectsZeroRate(t *testing.T) {
	_, err := NewFixedRate(underlying, derivative, pool, 0, 1)
	assert.Error(t, err)
	_, err = NewFixedRate(underlying, derivative, pool, 1, 0)
	assert.Error(t, err)
}

func TestFixedRateDeposit(t *testing.T) {
	tests := []struct {
		name     string
		num, den uint64
		amount   uint64
		expected uint64
	}{
		{name: "one to one", num: 1, den: 1, amount: 100, expected: 100},
		{name: "three halves", num: 3, den: 2, amount: 100, expected: 150},
		{name: "rounds down", num: 1, den: 3, amount: 100, expected: 33},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			l := ledger.New()
			require.NoError(t, l.Update(func(tx *ledger.Tx) error {
				return tx.Credit(custodian, underlying, uint256.NewInt(tc.amount))
			}))

			strat, err := NewFixedRate(underlying, derivative, pool, tc.num, tc.den)
			require.NoError(t, err)

			var out *uint256.Int
			require.NoError(t, l.Update(func(tx *ledger.Tx) error {
				out, err = strat.Deposit(context.Background(), tx, custodian, uint256.NewInt(tc.amount))
				return err
			}))

			assert.Equal(t, uint256.NewInt(tc.expected), out)
			assert.Equal(t, uint256.NewInt(tc.expected), l.Balance(custodian, derivative))
			assert.Equal(t, uint256.NewInt(tc.amount), l.Balance(pool, underlying))
			assert.True(t, l.Balance(custodian, underlying).IsZero())
		})
	}
}

func TestFixedRateDepositZeroAmount(t *testing.T) {
	l := ledger.New()
	strat, err := NewFixedRate(underlying, derivative, pool, 1, 1)
	require.NoError(t, err)

	err = l.Update(func(tx *ledger.Tx) error {
		_, err := strat.Deposit(context.Background(), tx, custodian, uint256.NewInt(0))
		return err
	})
	assert.ErrorContains(t, err, "zero")
}

func TestFixedRateDepositZeroOutput(t *testing.T) {
	l := ledger.New()
	require.NoError(t, l.Update(func(tx *ledger.Tx) error {
		return tx.Credit(custodian, underlying, uint256.NewInt(1))
	}))

	strat, err := NewFixedRate(underlying, derivative, pool, 1, 2)
	require.NoError(t, err)

	err = l.Update(func(tx *ledger.Tx) error {
		_, err := strat.Deposit(context.Background(), tx, custodian, uint256.NewInt(1))
		return err
	})
	assert.ErrorContains(t, err, "zero output")
	// The failed update must not have moved the principal.
	assert.Equal(t, uint256.NewInt(1), l.Balance(custodian, underlying))
	assert.True(t, l.Balance(pool, underlying).IsZero())
}

func TestFixedRateDepositOverflow(t *testing.T) {
	max := new(uint256.Int).Sub(uint256.NewInt(0), uint256.NewInt(1))

	l := ledger.New()
	require.NoError(t, l.Update(func(tx *ledger.Tx) error {
		return tx.Credit(custodian, underlying, max)
	}))

	strat, err := NewFixedRate(underlying, derivative, pool, 2, 1)
	require.NoError(t, err)

	err = l.Update(func(tx *ledger.Tx) error {
		_, err := strat.Deposit(context.Background(), tx, custodian, max)
		return err
	})
	assert.ErrorContains(t, err, "overflows")
}

func TestFixedRateDepositInsufficientBalance(t *testing.T) {
	l := ledger.New()
	strat, err := NewFixedRate(underlying, derivative, pool, 1, 1)
	require.NoError(t, err)

	err = l.Update(func(tx *ledger.Tx) error {
		_, err := strat.Deposit(context.Background(), tx, custodian, uint256.NewInt(5))
		return err
	})
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)
}
