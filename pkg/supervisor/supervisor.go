package supervisor

// A small service supervision library. Each Runnable runs in its own
// goroutine under a named node of a tree; when one fails it is restarted
// with exponential backoff while the rest keep running. Cancelling the
// context passed to New tears the whole tree down.

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var restartsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "shuttle_supervisor_restarts_total",
		Help: "Total number of runnable restarts by node",
	}, []string{"name"})

// A Runnable is a function that will be run in a goroutine, and supervised
// throughout its lifetime. It can in turn start more runnables as its
// children. The context passed to a runnable stays live for as long as the
// runnable should keep running and is canceled when the supervisor wants it
// to exit, so it is also usable for blocking operations.
type Runnable func(ctx context.Context) error

// Signal tells the supervisor that the calling runnable has reached a certain
// state of its lifecycle. All runnables should SignalHealthy when they are
// done with setup and now serving.
func Signal(ctx context.Context, signal SignalType) {
	n := fromContext(ctx)
	n.mu.Lock()
	defer n.mu.Unlock()
	switch signal {
	case SignalHealthy:
		n.state = nodeStateHealthy
		n.healthyAt = time.Now()
	case SignalDone:
		n.state = nodeStateDone
	default:
		panic(fmt.Sprintf("unknown signal %d", signal))
	}
}

type SignalType int

const (
	// The runnable is healthy, done with setup and ready to serve in a loop.
	// The runnable needs to check its context and exit once that context is
	// done.
	SignalHealthy SignalType = iota
	// The runnable is done and a subsequent nil return is expected. This is
	// useful for runnables that only set up other child runnables.
	SignalDone
)

type nodeState int

const (
	nodeStateNew nodeState = iota
	nodeStateHealthy
	nodeStateDone
)

// node tracks one supervised runnable. Its name is the dotted path from the
// root of the tree.
type node struct {
	sup  *Supervisor
	name string

	mu        sync.Mutex
	state     nodeState
	healthyAt time.Time
}

type contextKey string

const nodeKey = contextKey("supervisor-node")

func fromContext(ctx context.Context) *node {
	n, ok := ctx.Value(nodeKey).(*node)
	if !ok {
		panic("supervisor function called on non-runnable context")
	}
	return n
}

var reNodeName = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// Run starts a runnable as a child of the calling runnable. The child is
// supervised on its own: if it fails it restarts with backoff without taking
// the caller down. It does die with the caller, and is started afresh when
// the caller restarts.
func Run(ctx context.Context, name string, runnable Runnable) error {
	parent := fromContext(ctx)
	if !reNodeName.MatchString(name) {
		return fmt.Errorf("invalid runnable name %q", name)
	}
	child := &node{sup: parent.sup, name: parent.name + "." + name}
	go parent.sup.supervise(ctx, child, runnable)
	return nil
}

// Logger returns a zap logger named after the calling runnable's place in the
// supervision tree, dot-separated.
func Logger(ctx context.Context) *zap.Logger {
	n := fromContext(ctx)
	return n.sup.logger.Named(n.name)
}

// Supervisor runs a tree of runnables, restarting the ones that fail.
type Supervisor struct {
	logger  *zap.Logger
	ilogger *zap.Logger

	// propagate panics, ie. don't catch them.
	propagatePanic bool
}

// SupervisorOpt are runtime configurable options for the supervisor.
type SupervisorOpt func(s *Supervisor)

var (
	// WithPropagatePanic prevents the supervisor from catching panics in
	// runnables and treating them as failures. This is useful to enable for
	// testing and local debugging.
	WithPropagatePanic = func(s *Supervisor) {
		s.propagatePanic = true
	}
)

// New creates a new supervisor with its root running the given root runnable.
// The given context cancels the entire supervision tree.
func New(ctx context.Context, logger *zap.Logger, rootRunnable Runnable, opts ...SupervisorOpt) *Supervisor {
	sup := &Supervisor{
		logger:  logger,
		ilogger: logger.Named("supervisor"),
	}
	for _, o := range opts {
		o(sup)
	}

	root := &node{sup: sup, name: "root"}
	go sup.supervise(ctx, root, rootRunnable)
	return sup
}

// supervise runs one node's runnable in a restart loop until the context is
// canceled or the runnable signals Done and returns nil.
func (s *Supervisor) supervise(ctx context.Context, n *node, runnable Runnable) {
	// Exponential backoff between restarts, capped at MaxInterval. Setting
	// MaxElapsedTime to 0 keeps NextBackOff from ever returning Stop.
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0

	for {
		n.mu.Lock()
		n.state = nodeStateNew
		n.mu.Unlock()

		runCtx, cancel := context.WithCancel(context.WithValue(ctx, nodeKey, n))
		err := s.execute(runCtx, runnable)
		cancel()

		n.mu.Lock()
		state := n.state
		healthyFor := time.Duration(0)
		if state == nodeStateHealthy {
			healthyFor = time.Since(n.healthyAt)
		}
		n.mu.Unlock()

		if ctx.Err() != nil {
			// The tree is shutting down, this is not a failure.
			return
		}
		if err == nil {
			if state == nodeStateDone {
				s.ilogger.Debug("runnable finished", zap.String("dn", n.name))
				return
			}
			err = fmt.Errorf("returned nil without signaling Done")
		}

		// A runnable that served long enough earns a fresh backoff.
		if healthyFor > bo.MaxInterval {
			bo.Reset()
		}
		wait := bo.NextBackOff()
		restartsTotal.WithLabelValues(n.name).Inc()
		s.ilogger.Error("runnable died, restarting",
			zap.String("dn", n.name),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// execute runs a single attempt of a runnable, converting panics into errors
// unless the supervisor was built with WithPropagatePanic.
func (s *Supervisor) execute(ctx context.Context, runnable Runnable) (err error) {
	defer func() {
		if s.propagatePanic {
			return
		}
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return runnable(ctx)
}
