package devnet

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/shuttle-bridge/shuttle/node/pkg/adapters"
	"github.com/shuttle-bridge/shuttle/node/pkg/db"
	"github.com/shuttle-bridge/shuttle/node/pkg/fees"
	"github.com/shuttle-bridge/shuttle/node/pkg/inbound"
	"github.com/shuttle-bridge/shuttle/node/pkg/ledger"
	"github.com/shuttle-bridge/shuttle/node/pkg/message"
	"github.com/shuttle-bridge/shuttle/node/pkg/outbound"
	"github.com/shuttle-bridge/shuttle/node/pkg/registry"
	"github.com/shuttle-bridge/shuttle/node/pkg/strategy"
	"github.com/shuttle-bridge/shuttle/node/pkg/transport"
)

// Side is one fully wired corridor of the devnet. The custodian account
// triples as the outbound escrow, the transport custody account and the
// inbound processing custody, so every leg of a transfer conserves funds on
// the side's ledger.
type Side struct {
	Selector  message.Selector
	Router    common.Address
	Custodian common.Address
	Escrow    common.Address
	Pool      common.Address
	User      common.Address

	BaseToken       common.Address
	SecondaryToken  common.Address
	FeeToken        common.Address
	UnderlyingToken common.Address
	DerivativeToken common.Address

	Ledger         *ledger.Ledger
	DB             *db.Database
	Adapters       *registry.Adapters
	Counterparties *registry.Counterparties
	Dispatcher     *adapters.Dispatcher
	Builder        *outbound.Builder
	Processor      *inbound.Processor
}

// Network is the two-corridor devnet. Both sides carry a builder and a
// processor, so transfers run in either direction.
type Network struct {
	Local      *Side
	Settlement *Side
	Transport  *transport.Loopback
}

// Bootstrap wires the whole in-memory devnet: two ledgers joined by a
// loopback transport, fixed-rate strategies, static fee sources, registered
// adapters and counterparties, and seeded user balances.
func Bootstrap(logger *zap.Logger) (*Network, error) {
	lb := transport.NewLoopback(logger, uint256.NewInt(TransportQuote))

	local := &Side{
		Selector:        LocalSelector,
		Router:          AddressByIndex(IdxLocalRouter),
		Custodian:       AddressByIndex(IdxLocalCustodian),
		Escrow:          AddressByIndex(IdxLocalEscrow),
		Pool:            AddressByIndex(IdxLocalPool),
		User:            AddressByIndex(IdxLocalUser),
		BaseToken:       LocalBaseToken,
		SecondaryToken:  LocalSecondaryToken,
		FeeToken:        LocalFeeToken,
		UnderlyingToken: LocalUnderlyingToken,
		DerivativeToken: LocalDerivativeToken,
	}
	settlement := &Side{
		Selector:        SettlementSelector,
		Router:          AddressByIndex(IdxSettlementRouter),
		Custodian:       AddressByIndex(IdxSettlementCustodian),
		Escrow:          AddressByIndex(IdxSettlementEscrow),
		Pool:            AddressByIndex(IdxSettlementPool),
		User:            AddressByIndex(IdxSettlementUser),
		BaseToken:       SettlementBaseToken,
		SecondaryToken:  SettlementSecondaryToken,
		FeeToken:        SettlementFeeToken,
		UnderlyingToken: SettlementUnderlyingToken,
		DerivativeToken: SettlementDerivativeToken,
	}

	if err := wireSide(logger, lb, local, settlement); err != nil {
		return nil, fmt.Errorf("failed to wire corridor %s: %w", local.Selector, err)
	}
	if err := wireSide(logger, lb, settlement, local); err != nil {
		return nil, fmt.Errorf("failed to wire corridor %s: %w", settlement.Selector, err)
	}

	// Attach both sides only once their processors exist, as attaching with
	// a sink opens the side for deliveries.
	if err := lb.Attach(local.Selector, local.Router, local.Custodian, local.Ledger, local.Processor); err != nil {
		return nil, err
	}
	if err := lb.Attach(settlement.Selector, settlement.Router, settlement.Custodian, settlement.Ledger, settlement.Processor); err != nil {
		return nil, err
	}

	logger.Info("devnet bootstrapped",
		zap.Stringer("local", local.Selector),
		zap.Stringer("settlement", settlement.Selector),
	)
	return &Network{Local: local, Settlement: settlement, Transport: lb}, nil
}

// wireSide builds one side's ledger, stores, registries, adapter, strategy,
// processor and builder, registered against the remote side.
func wireSide(logger *zap.Logger, lb *transport.Loopback, side, remote *Side) error {
	side.Ledger = ledger.New()

	database, err := db.OpenInMemory()
	if err != nil {
		return fmt.Errorf("failed to open in-memory db: %w", err)
	}
	side.DB = database

	rdb := db.NewRegistryDB(database.Conn())
	if side.Adapters, err = registry.NewAdapters(logger, rdb); err != nil {
		return err
	}
	if side.Counterparties, err = registry.NewCounterparties(logger, rdb); err != nil {
		return err
	}

	side.Dispatcher = adapters.NewDispatcher(logger)
	adapterID := adapters.ID(fmt.Sprintf("relay-%s", remote.Selector))
	relay, err := adapters.NewRelay(adapterID, adapters.Config{
		Owner:          side.Custodian,
		Corridor:       remote.Selector,
		Escrow:         side.Escrow,
		NativeToken:    remote.BaseToken,
		SecondaryToken: remote.SecondaryToken,
		Courier:        NewSettlingCourier(logger, side.Escrow),
	}, StaticRelayFee{Fee: uint256.NewInt(ReturnFee)})
	if err != nil {
		return err
	}
	if err := side.Dispatcher.Register(relay); err != nil {
		return err
	}
	if err := side.Adapters.Set(remote.Selector, adapterID); err != nil {
		return err
	}
	if err := side.Counterparties.Set(remote.Selector, remote.Router); err != nil {
		return err
	}

	deposit, err := strategy.NewFixedRate(side.UnderlyingToken, side.DerivativeToken, side.Pool, 1, 1)
	if err != nil {
		return err
	}

	side.Processor, err = inbound.NewProcessor(logger, inbound.Config{
		Custodian: side.Custodian,
		Wrapped:   remote.BaseToken,
	}, side.Ledger, db.NewTransferDB(database.Conn()), side.Counterparties, side.Adapters, side.Dispatcher, deposit)
	if err != nil {
		return err
	}

	side.Builder, err = outbound.NewBuilder(logger, outbound.Config{
		Local:          side.Selector,
		BaseToken:      side.BaseToken,
		SecondaryToken: side.SecondaryToken,
		FeeToken:       side.FeeToken,
		Escrow:         side.Custodian,
		TransportKind:  fees.KindGenericRelay,
		ReturnKinds: map[message.Selector]fees.Kind{
			remote.Selector: fees.KindGenericRelay,
		},
	}, side.Ledger, side.Counterparties, lb.Endpoint(side.Selector))
	if err != nil {
		return err
	}

	// Seed the side's user with spending money.
	return side.Ledger.Update(func(tx *ledger.Tx) error {
		if err := tx.Credit(side.User, side.BaseToken, uint256.NewInt(1_000_000)); err != nil {
			return err
		}
		if err := tx.Credit(side.User, side.SecondaryToken, uint256.NewInt(10_000)); err != nil {
			return err
		}
		return tx.Credit(side.User, side.FeeToken, uint256.NewInt(10_000))
	})
}

// Close releases both sides' stores.
func (n *Network) Close() error {
	if err := n.Local.DB.Close(); err != nil {
		return err
	}
	return n.Settlement.DB.Close()
}
