// Package ledger is the in-process token ledger shared by the transfer
// pipeline. Balances are keyed by holder and token address. All mutations
// happen inside a transaction: Update applies the staged writes only when the
// closure returns nil, so a pipeline that fails anywhere leaves every balance
// untouched.
package ledger

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")
	ErrReadOnlyTx          = errors.New("ledger: write in read-only transaction")
)

// Ledger holds committed balances. The zero balance is implicit: holders and
// tokens never seen before read as zero.
type Ledger struct {
	mu       sync.RWMutex
	balances map[common.Address]map[common.Address]*uint256.Int
}

func New() *Ledger {
	return &Ledger{
		balances: make(map[common.Address]map[common.Address]*uint256.Int),
	}
}

// Update runs fn inside a writable transaction. The staged writes are applied
// atomically when fn returns nil and discarded when it returns an error.
// Transactions are serialized; fn must not call back into the ledger.
func (l *Ledger) Update(fn func(tx *Tx) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	tx := &Tx{l: l, staged: make(map[common.Address]map[common.Address]*uint256.Int)}
	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

// View runs fn inside a read-only transaction. Write operations inside fn
// fail with ErrReadOnlyTx.
func (l *Ledger) View(fn func(tx *Tx) error) error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return fn(&Tx{l: l, readonly: true})
}

// Balance returns a copy of the committed balance.
func (l *Ledger) Balance(holder, token common.Address) *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return clone(l.committed(holder, token))
}

func (l *Ledger) committed(holder, token common.Address) *uint256.Int {
	if tokens, ok := l.balances[holder]; ok {
		if v, ok := tokens[token]; ok {
			return v
		}
	}
	return uint256.NewInt(0)
}

func clone(v *uint256.Int) *uint256.Int {
	return new(uint256.Int).Set(v)
}

// Tx is a ledger transaction. Reads see the staged writes of the same
// transaction layered over the committed state.
type Tx struct {
	l        *Ledger
	readonly bool
	staged   map[common.Address]map[common.Address]*uint256.Int
}

// Balance returns a copy of the balance as seen by this transaction.
func (tx *Tx) Balance(holder, token common.Address) *uint256.Int {
	if tokens, ok := tx.staged[holder]; ok {
		if v, ok := tokens[token]; ok {
			return clone(v)
		}
	}
	return clone(tx.l.committed(holder, token))
}

func (tx *Tx) set(holder, token common.Address, v *uint256.Int) {
	tokens, ok := tx.staged[holder]
	if !ok {
		tokens = make(map[common.Address]*uint256.Int)
		tx.staged[holder] = tokens
	}
	tokens[token] = v
}

// Credit mints amount to the holder's balance.
func (tx *Tx) Credit(holder, token common.Address, amount *uint256.Int) error {
	if err := tx.writable(amount); err != nil {
		return err
	}
	next, overflow := new(uint256.Int).AddOverflow(tx.Balance(holder, token), amount)
	if overflow {
		return fmt.Errorf("ledger: balance overflow for holder %s token %s", holder, token)
	}
	tx.set(holder, token, next)
	return nil
}

// Debit burns amount from the holder's balance.
func (tx *Tx) Debit(holder, token common.Address, amount *uint256.Int) error {
	if err := tx.writable(amount); err != nil {
		return err
	}
	balance := tx.Balance(holder, token)
	if balance.Lt(amount) {
		return fmt.Errorf("%w: holder %s token %s has %s, needs %s",
			ErrInsufficientBalance, holder, token, balance, amount)
	}
	tx.set(holder, token, balance.Sub(balance, amount))
	return nil
}

// Transfer moves amount between holders.
func (tx *Tx) Transfer(from, to common.Address, token common.Address, amount *uint256.Int) error {
	if err := tx.Debit(from, token, amount); err != nil {
		return err
	}
	return tx.Credit(to, token, amount)
}

// Unwrap converts amount of the holder's wrapped token into the underlying
// token one to one.
func (tx *Tx) Unwrap(holder common.Address, wrapped, underlying common.Address, amount *uint256.Int) error {
	if err := tx.Debit(holder, wrapped, amount); err != nil {
		return err
	}
	return tx.Credit(holder, underlying, amount)
}

func (tx *Tx) writable(amount *uint256.Int) error {
	if tx.readonly {
		return ErrReadOnlyTx
	}
	if amount == nil {
		return errors.New("ledger: nil amount")
	}
	return nil
}

func (tx *Tx) commit() {
	for holder, tokens := range tx.staged {
		committed, ok := tx.l.balances[holder]
		if !ok {
			committed = make(map[common.Address]*uint256.Int)
			tx.l.balances[holder] = committed
		}
		for token, v := range tokens {
			committed[token] = v
		}
	}
}
