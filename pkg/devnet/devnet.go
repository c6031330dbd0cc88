// Package devnet contains constants and helpers for the local deterministic
// devnet: fixed corridor selectors, derived accounts, token addresses and
// static fee sources, wired by Bootstrap into an in-process two-corridor
// round trip.
package devnet

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	mathrand "math/rand"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/shuttle-bridge/shuttle/node/pkg/message"
)

const (
	// LocalSelector and SettlementSelector are the two devnet corridors.
	LocalSelector      = message.Selector(101)
	SettlementSelector = message.Selector(202)

	// TransportQuote is what the loopback transport charges per delivery,
	// paid in the sending side's fee token.
	TransportQuote uint64 = 3

	// ReturnFee is what the static relay fee source quotes for the return
	// leg. Return records driven through the devnet must embed exactly this
	// amount or the far-side adapter rejects them.
	ReturnFee uint64 = 5
)

// Account indices of the well-known devnet actors.
const (
	IdxLocalRouter uint64 = iota
	IdxLocalCustodian
	IdxLocalEscrow
	IdxLocalPool
	IdxLocalUser
	IdxSettlementRouter
	IdxSettlementCustodian
	IdxSettlementEscrow
	IdxSettlementPool
	IdxSettlementUser
)

// Devnet token addresses. Arbitrary but fixed; a side's base and secondary
// tokens arrive on the far side as that side's wrapped inbound pair.
var (
	LocalBaseToken            = common.HexToAddress("0x0101000000000000000000000000000000000001")
	LocalSecondaryToken       = common.HexToAddress("0x0101000000000000000000000000000000000002")
	LocalFeeToken             = common.HexToAddress("0x0101000000000000000000000000000000000003")
	LocalUnderlyingToken      = common.HexToAddress("0x0101000000000000000000000000000000000004")
	LocalDerivativeToken      = common.HexToAddress("0x0101000000000000000000000000000000000005")
	SettlementBaseToken       = common.HexToAddress("0x0202000000000000000000000000000000000001")
	SettlementSecondaryToken  = common.HexToAddress("0x0202000000000000000000000000000000000002")
	SettlementFeeToken        = common.HexToAddress("0x0202000000000000000000000000000000000003")
	SettlementUnderlyingToken = common.HexToAddress("0x0202000000000000000000000000000000000004")
	SettlementDerivativeToken = common.HexToAddress("0x0202000000000000000000000000000000000005")
)

// InsecureDeterministicEcdsaKeyByIndex generates a deterministic
// ecdsa.PrivateKey from a given index.
func InsecureDeterministicEcdsaKeyByIndex(c elliptic.Curve, idx uint64) *ecdsa.PrivateKey {
	r := mathrand.New(mathrand.NewSource(int64(1789 + idx))) //#nosec G404 Testnet/devnet keys are not secret.
	key, err := ecdsa.GenerateKey(c, r)
	if err != nil {
		panic(err)
	}
	return key
}

// AddressByIndex returns the address of the deterministic devnet key idx.
func AddressByIndex(idx uint64) common.Address {
	key := InsecureDeterministicEcdsaKeyByIndex(ethcrypto.S256(), idx)
	return ethcrypto.PubkeyToAddress(key.PublicKey)
}
