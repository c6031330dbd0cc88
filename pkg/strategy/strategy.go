// Package strategy defines the deposit boundary of the inbound pipeline. The
// processor unwraps the bridged principal into the strategy's underlying
// token and hands it over; the strategy produces the derivative amount that
// travels back through the bridge adapter. Implementations run inside the
// caller's ledger transaction and must not touch any state outside of it.
package strategy

import (
	"context"
	"errors"
	"fmt"

	"github.com/shuttle-bridge/shuttle/node/pkg/ledger"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Depositor converts an underlying amount held by the holder into the
// derivative token. The returned amount is already credited to the holder
// when Deposit returns nil.
type Depositor interface {
	// Underlying is the token the deposit consumes.
	Underlying() common.Address
	// Token is the derivative token the deposit produces.
	Token() common.Address
	Deposit(ctx context.Context, tx *ledger.Tx, holder common.Address, amount *uint256.Int) (*uint256.Int, error)
}

// FixedRate deposits the underlying into a pool account and mints derivative
// at a fixed num/den rate. Used by the devnet and in tests; a production
// strategy would wrap an external vault instead.
type FixedRate struct {
	underlying common.Address
	token      common.Address
	pool       common.Address
	num        *uint256.Int
	den        *uint256.Int
}

func NewFixedRate(underlying, token, pool common.Address, num, den uint64) (*FixedRate, error) {
	if num == 0 || den == 0 {
		return nil, fmt.Errorf("strategy: invalid fixed rate %d/%d", num, den)
	}
	return &FixedRate{
		underlying: underlying,
		token:      token,
		pool:       pool,
		num:        uint256.NewInt(num),
		den:        uint256.NewInt(den),
	}, nil
}

func (f *FixedRate) Underlying() common.Address { return f.underlying }

func (f *FixedRate) Token() common.Address { return f.token }

func (f *FixedRate) Deposit(ctx context.Context, tx *ledger.Tx, holder common.Address, amount *uint256.Int) (*uint256.Int, error) {
	if amount == nil || amount.IsZero() {
		return nil, errors.New("strategy: deposit amount is zero")
	}

	out, overflow := new(uint256.Int).MulOverflow(amount, f.num)
	if overflow {
		return nil, fmt.Errorf("strategy: deposit of %s overflows at rate %s/%s", amount, f.num, f.den)
	}
	out.Div(out, f.den)
	if out.IsZero() {
		// An amount too small for the rate would mint nothing and strand the
		// principal in the pool.
		return nil, fmt.Errorf("strategy: deposit of %s produces zero output at rate %s/%s", amount, f.num, f.den)
	}

	if err := tx.Transfer(holder, f.pool, f.underlying, amount); err != nil {
		return nil, err
	}
	if err := tx.Credit(holder, f.token, out); err != nil {
		return nil, err
	}
	return out, nil
}
