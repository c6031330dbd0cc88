package shuttled

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	eth_common "github.com/ethereum/go-ethereum/common"
	ipfslog "github.com/ipfs/go-log/v2"

	"github.com/shuttle-bridge/shuttle/node/pkg/adapters"
	"github.com/shuttle-bridge/shuttle/node/pkg/db"
	"github.com/shuttle-bridge/shuttle/node/pkg/devnet"
	"github.com/shuttle-bridge/shuttle/node/pkg/evm"
	"github.com/shuttle-bridge/shuttle/node/pkg/fees"
	"github.com/shuttle-bridge/shuttle/node/pkg/inbound"
	"github.com/shuttle-bridge/shuttle/node/pkg/ledger"
	"github.com/shuttle-bridge/shuttle/node/pkg/message"
	"github.com/shuttle-bridge/shuttle/node/pkg/outbound"
	"github.com/shuttle-bridge/shuttle/node/pkg/readiness"
	"github.com/shuttle-bridge/shuttle/node/pkg/registry"
	"github.com/shuttle-bridge/shuttle/node/pkg/strategy"
	"github.com/shuttle-bridge/shuttle/node/pkg/supervisor"
	"github.com/shuttle-bridge/shuttle/node/pkg/transport"
)

var (
	statusAddr *string

	adminSocketPath *string

	dataDir *string

	listenAddr *string

	logLevel *string

	unsafeDevMode *bool

	corridor       *uint64
	remoteCorridor *uint64
	remoteRouter   *string

	relayerURL *string

	evmRPC            *string
	evmNetwork        *string
	feeOracleContract *string

	adapterID   *string
	adapterKind *string
	returnKind  *string

	custodianAccount *string
	transportEscrow  *string
	backendEscrow    *string

	baseToken             *string
	secondaryToken        *string
	feeToken              *string
	wrappedToken          *string
	wrappedSecondaryToken *string

	underlyingToken    *string
	derivativeToken    *string
	poolAccount        *string
	depositNumerator   *uint64
	depositDenominator *uint64
)

var (
	rootCtx       context.Context
	rootCtxCancel context.CancelFunc
)

const readinessNode readiness.Component = "node"

func init() {
	statusAddr = NodeCmd.Flags().String("statusAddr", "[::]:6060", "Listen address for status server (disabled if blank)")
	adminSocketPath = NodeCmd.Flags().String("adminSocket", "", "Admin HTTP service UNIX domain socket path")
	dataDir = NodeCmd.Flags().String("dataDir", "", "Data directory")
	listenAddr = NodeCmd.Flags().String("listenAddr", "127.0.0.1:8999", "Listen address for the transfer service (keep loopback unless fronted by an authenticating proxy)")
	logLevel = NodeCmd.Flags().String("logLevel", "info", "Logging level (debug, info, warn, error, dpanic, panic, fatal)")
	unsafeDevMode = NodeCmd.Flags().Bool("unsafeDevMode", false, "Launch node in unsafe, deterministic devnet mode")

	corridor = NodeCmd.Flags().Uint64("corridor", 0, "Corridor selector of the local ledger")
	remoteCorridor = NodeCmd.Flags().Uint64("remoteCorridor", 0, "Corridor selector of the remote ledger")
	remoteRouter = NodeCmd.Flags().String("remoteRouter", "", "Router address on the remote corridor (seeds the counterparty registry)")

	relayerURL = NodeCmd.Flags().String("relayerURL", "", "Base URL of the relayer service")

	evmRPC = NodeCmd.Flags().String("evmRPC", "", "EVM RPC URL for fee oracle queries")
	evmNetwork = NodeCmd.Flags().String("evmNetwork", "eth", "EVM network name used in logs and metrics")
	feeOracleContract = NodeCmd.Flags().String("feeOracleContract", "", "Address of the fee oracle contract")

	adapterID = NodeCmd.Flags().String("adapterId", "", "Identifier of the back-end adapter serving the remote corridor")
	adapterKind = NodeCmd.Flags().String("adapterKind", "generic-relay", "Record kind of the back-end adapter (generic-relay, retryable-ticket, optimism-legacy, base-legacy, linea-bridge, ferry)")
	returnKind = NodeCmd.Flags().String("returnKind", "generic-relay", "Record kind the remote corridor expects on the return leg")

	custodianAccount = NodeCmd.Flags().String("custodian", "", "Custody account delivered funds land on")
	transportEscrow = NodeCmd.Flags().String("transportEscrow", "", "Transport custody account on the local ledger")
	backendEscrow = NodeCmd.Flags().String("backendEscrow", "", "Back-end bridge escrow account on the local ledger")

	baseToken = NodeCmd.Flags().String("baseToken", "", "Principal token accepted for outbound transfers")
	secondaryToken = NodeCmd.Flags().String("secondaryToken", "", "Local secondary fee token funding return records")
	feeToken = NodeCmd.Flags().String("feeToken", "", "Token the transport quotes delivery fees in")
	wrappedToken = NodeCmd.Flags().String("wrappedToken", "", "Form the bridged principal arrives in")
	wrappedSecondaryToken = NodeCmd.Flags().String("wrappedSecondaryToken", "", "Arrived form of the remote corridor's secondary fee token")

	underlyingToken = NodeCmd.Flags().String("underlyingToken", "", "Underlying token produced by unwrapping")
	derivativeToken = NodeCmd.Flags().String("derivativeToken", "", "Derivative token minted by the deposit strategy")
	poolAccount = NodeCmd.Flags().String("poolAccount", "", "Pool account holding strategy deposits")
	depositNumerator = NodeCmd.Flags().Uint64("depositNumerator", 1, "Deposit rate numerator")
	depositDenominator = NodeCmd.Flags().Uint64("depositDenominator", 1, "Deposit rate denominator")
}

const devwarning = `
        +++++++++++++++++++++++++++++++++++++++++++++++++++
        |   NODE IS RUNNING IN INSECURE DEVELOPMENT MODE  |
        |                                                 |
        |      Do not use --unsafeDevMode in prod.        |
        +++++++++++++++++++++++++++++++++++++++++++++++++++

`

func rootLoggerName() string {
	if *unsafeDevMode {
		// Tag the root logger with the hostname for multi-node development.
		hostname, err := os.Hostname()
		if err != nil {
			panic(err)
		}

		return fmt.Sprintf("%s-%s", "shuttle", hostname)
	} else {
		return "shuttle"
	}
}

// nodeServices bundles the wired node state the HTTP surfaces operate on.
type nodeServices struct {
	ledger         *ledger.Ledger
	custodian      eth_common.Address
	builder        *outbound.Builder
	processor      *inbound.Processor
	adapterReg     *registry.Adapters
	counterparties *registry.Counterparties
	dispatcher     *adapters.Dispatcher
}

// NodeCmd represents the node command
var NodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Run the shuttle transfer node",
	Run:   runNode,
}

func runNode(cmd *cobra.Command, args []string) {
	if *unsafeDevMode {
		fmt.Print(devwarning)
	}

	// Set up logging. The go-log zap wrapper is compatible with our usage of
	// zap in supervisor, which is nice.
	lvl, err := ipfslog.LevelFromString(*logLevel)
	if err != nil {
		fmt.Println("Invalid log level")
		os.Exit(1)
	}

	// Our root logger. Convert directly to a regular Zap logger.
	logger := ipfslog.Logger(rootLoggerName()).Desugar()

	// Override the default go-log config, which uses a magic environment variable.
	ipfslog.SetAllLoggers(lvl)

	readiness.RegisterComponent(readinessNode)

	if *statusAddr != "" {
		// Use a custom routing instead of using http.DefaultServeMux directly to avoid accidentally exposing packages
		// that register themselves with it by default (like pprof).
		router := mux.NewRouter()

		// pprof server. NOT necessarily safe to expose publicly - only enable it in dev mode to avoid exposing it by
		// accident.
		if *unsafeDevMode {
			// Pass requests to http.DefaultServeMux, which pprof automatically registers with as an import side-effect.
			router.PathPrefix("/debug/pprof/").Handler(http.DefaultServeMux)
		}

		// Simple endpoint exposing node readiness (safe to expose to untrusted clients)
		router.HandleFunc("/readyz", readiness.Handler)

		// Prometheus metrics (safe to expose to untrusted clients)
		router.Handle("/metrics", promhttp.Handler())

		go func() {
			logger.Info("status server listening", zap.String("addr", *statusAddr))
			logger.Error("status server crashed", zap.Error(http.ListenAndServe(*statusAddr, router)))
		}()
	}

	// In devnet mode, the corridor pair is fixed by the deterministic devnet.
	if *unsafeDevMode {
		*corridor = uint64(devnet.LocalSelector)
		*remoteCorridor = uint64(devnet.SettlementSelector)
	}

	// Verify flags

	if *adminSocketPath == "" {
		logger.Fatal("Please specify --adminSocket")
	}
	if !*unsafeDevMode {
		if *dataDir == "" {
			logger.Fatal("Please specify --dataDir")
		}
		if *corridor == 0 {
			logger.Fatal("Please specify --corridor")
		}
		if *remoteCorridor == 0 {
			logger.Fatal("Please specify --remoteCorridor")
		}
		if *corridor == *remoteCorridor {
			logger.Fatal("--corridor and --remoteCorridor must differ")
		}
		if *relayerURL == "" {
			logger.Fatal("Please specify --relayerURL")
		}
		if *evmRPC == "" {
			logger.Fatal("Please specify --evmRPC")
		}
		if *feeOracleContract == "" {
			logger.Fatal("Please specify --feeOracleContract")
		}
		if *adapterID == "" {
			logger.Fatal("Please specify --adapterId")
		}
		if *custodianAccount == "" {
			logger.Fatal("Please specify --custodian")
		}
		if *transportEscrow == "" {
			logger.Fatal("Please specify --transportEscrow")
		}
		if *backendEscrow == "" {
			logger.Fatal("Please specify --backendEscrow")
		}
		if *baseToken == "" {
			logger.Fatal("Please specify --baseToken")
		}
		if *secondaryToken == "" {
			logger.Fatal("Please specify --secondaryToken")
		}
		if *feeToken == "" {
			logger.Fatal("Please specify --feeToken")
		}
		if *wrappedToken == "" {
			logger.Fatal("Please specify --wrappedToken")
		}
		if *wrappedSecondaryToken == "" {
			logger.Fatal("Please specify --wrappedSecondaryToken")
		}
		if *underlyingToken == "" {
			logger.Fatal("Please specify --underlyingToken")
		}
		if *derivativeToken == "" {
			logger.Fatal("Please specify --derivativeToken")
		}
		if *poolAccount == "" {
			logger.Fatal("Please specify --poolAccount")
		}
		if *depositDenominator == 0 {
			logger.Fatal("--depositDenominator must not be zero")
		}
	}

	// Node's main lifecycle context.
	rootCtx, rootCtxCancel = context.WithCancel(context.Background())
	defer rootCtxCancel()

	// Handle SIGTERM
	sigterm := make(chan os.Signal, 1)
	signal.Notify(sigterm, syscall.SIGTERM)
	go func() {
		<-sigterm
		logger.Info("received sigterm. cancelling root context")
		rootCtxCancel()
	}()

	var svc *nodeServices
	var courier *submitCourier

	if *unsafeDevMode {
		network, err := devnet.Bootstrap(logger)
		if err != nil {
			logger.Fatal("failed to bootstrap devnet", zap.Error(err))
		}
		defer network.Close()

		local := network.Local
		logger.Info("devnet actors",
			zap.Stringer("router", local.Router),
			zap.Stringer("custodian", local.Custodian),
			zap.Stringer("user", local.User),
			zap.Stringer("remoteRouter", network.Settlement.Router),
		)

		svc = &nodeServices{
			ledger:         local.Ledger,
			custodian:      local.Custodian,
			builder:        local.Builder,
			processor:      local.Processor,
			adapterReg:     local.Adapters,
			counterparties: local.Counterparties,
			dispatcher:     local.Dispatcher,
		}
	} else {
		localSelector := message.Selector(*corridor)
		remoteSelector := message.Selector(*remoteCorridor)

		// Database
		database := db.OpenDb(logger, dataDir)
		defer database.Close()

		registryDB := db.NewRegistryDB(database.Conn())
		adapterReg, err := registry.NewAdapters(logger, registryDB)
		if err != nil {
			logger.Fatal("failed to load adapter registry", zap.Error(err))
		}
		counterparties, err := registry.NewCounterparties(logger, registryDB)
		if err != nil {
			logger.Fatal("failed to load counterparty registry", zap.Error(err))
		}

		// The ledger mirrors custody movements reported by the transport; it
		// starts empty and fills up as deliveries arrive.
		l := ledger.New()

		dialCtx, dialCancel := context.WithTimeout(rootCtx, 15*time.Second)
		evmClient, err := evm.DialContext(dialCtx, logger, *evmNetwork, *evmRPC)
		dialCancel()
		if err != nil {
			logger.Fatal("failed to connect to EVM RPC", zap.Error(err))
		}
		defer evmClient.Close()
		oracle := evm.NewFeeOracle(logger, evmClient, eth_common.HexToAddress(*feeOracleContract))

		courier = newSubmitCourier(logger, *relayerURL)

		kind, err := fees.KindFromString(*adapterKind)
		if err != nil {
			logger.Fatal("invalid --adapterKind", zap.Error(err))
		}
		adapterCfg := adapters.Config{
			Owner:          eth_common.HexToAddress(*custodianAccount),
			Corridor:       remoteSelector,
			Escrow:         eth_common.HexToAddress(*backendEscrow),
			NativeToken:    eth_common.HexToAddress(*wrappedToken),
			SecondaryToken: eth_common.HexToAddress(*wrappedSecondaryToken),
			Courier:        courier,
		}
		adapter, err := buildAdapter(adapters.ID(*adapterID), kind, adapterCfg, oracle)
		if err != nil {
			logger.Fatal("failed to build adapter", zap.Error(err))
		}

		dispatcher := adapters.NewDispatcher(logger)
		if err := dispatcher.Register(adapter); err != nil {
			logger.Fatal("failed to register adapter", zap.Error(err))
		}

		// Seed the registries from flags unless the operator already bound
		// the corridor through the admin service.
		if _, ok := adapterReg.Get(remoteSelector); !ok {
			if err := adapterReg.Set(remoteSelector, adapter.ID()); err != nil {
				logger.Fatal("failed to bind adapter to corridor", zap.Error(err))
			}
		}
		if _, ok := counterparties.Get(remoteSelector); !ok && *remoteRouter != "" {
			if err := counterparties.Set(remoteSelector, eth_common.HexToAddress(*remoteRouter)); err != nil {
				logger.Fatal("failed to seed counterparty registry", zap.Error(err))
			}
		}

		deposit, err := strategy.NewFixedRate(
			eth_common.HexToAddress(*underlyingToken),
			eth_common.HexToAddress(*derivativeToken),
			eth_common.HexToAddress(*poolAccount),
			*depositNumerator,
			*depositDenominator,
		)
		if err != nil {
			logger.Fatal("failed to build deposit strategy", zap.Error(err))
		}

		processor, err := inbound.NewProcessor(logger, inbound.Config{
			Custodian: eth_common.HexToAddress(*custodianAccount),
			Wrapped:   eth_common.HexToAddress(*wrappedToken),
		}, l, db.NewTransferDB(database.Conn()), counterparties, adapterReg, dispatcher, deposit)
		if err != nil {
			logger.Fatal("failed to build inbound processor", zap.Error(err))
		}

		retKind, err := fees.KindFromString(*returnKind)
		if err != nil {
			logger.Fatal("invalid --returnKind", zap.Error(err))
		}
		builder, err := outbound.NewBuilder(logger, outbound.Config{
			Local:          localSelector,
			BaseToken:      eth_common.HexToAddress(*baseToken),
			SecondaryToken: eth_common.HexToAddress(*secondaryToken),
			FeeToken:       eth_common.HexToAddress(*feeToken),
			Escrow:         eth_common.HexToAddress(*transportEscrow),
			TransportKind:  fees.KindGenericRelay,
			ReturnKinds:    map[message.Selector]fees.Kind{remoteSelector: retKind},
		}, l, counterparties, transport.NewHTTPRelay(logger, *relayerURL, localSelector))
		if err != nil {
			logger.Fatal("failed to build outbound builder", zap.Error(err))
		}

		svc = &nodeServices{
			ledger:         l,
			custodian:      eth_common.HexToAddress(*custodianAccount),
			builder:        builder,
			processor:      processor,
			adapterReg:     adapterReg,
			counterparties: counterparties,
			dispatcher:     dispatcher,
		}
	}

	// local admin service socket
	adminService, err := adminServiceRunnable(logger, *adminSocketPath, svc)
	if err != nil {
		logger.Fatal("failed to create admin service socket", zap.Error(err))
	}

	transferService, err := transferServiceRunnable(logger, *listenAddr, svc)
	if err != nil {
		logger.Fatal("failed to create transfer service listener", zap.Error(err))
	}

	// Run supervisor.
	supervisor.New(rootCtx, logger, func(ctx context.Context) error {
		if err := supervisor.Run(ctx, "admin", adminService); err != nil {
			return err
		}
		if err := supervisor.Run(ctx, "service", transferService); err != nil {
			return err
		}
		if courier != nil {
			if err := supervisor.Run(ctx, "courier", courier.run); err != nil {
				return err
			}
		}

		logger.Info("Started internal services")
		readiness.SetReady(readinessNode)
		supervisor.Signal(ctx, supervisor.SignalHealthy)

		<-ctx.Done()
		return nil
	},
		// It's safer to crash and restart the process in case we encounter a panic,
		// rather than attempting to reschedule the runnable.
		supervisor.WithPropagatePanic)

	<-rootCtx.Done()
	logger.Info("root context cancelled, exiting...")
}

// buildAdapter constructs the back-end adapter matching the configured record
// kind. Relay-style kinds take the fee oracle, legacy messengers and the
// ferry are quoteless.
func buildAdapter(id adapters.ID, kind fees.Kind, cfg adapters.Config, oracle *evm.FeeOracle) (adapters.Adapter, error) {
	switch kind {
	case fees.KindGenericRelay:
		return adapters.NewRelay(id, cfg, oracle)
	case fees.KindRetryableTicket:
		return adapters.NewRetryable(id, cfg, oracle)
	case fees.KindLineaBridge:
		return adapters.NewLinea(id, cfg, oracle)
	case fees.KindOptimismLegacy, fees.KindBaseLegacy:
		return adapters.NewLegacyMessenger(id, kind, cfg)
	case fees.KindFerry:
		return adapters.NewFerry(id, cfg)
	default:
		return nil, fmt.Errorf("no adapter constructor for kind %s", kind)
	}
}
