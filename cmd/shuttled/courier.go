package shuttled

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/shuttle-bridge/shuttle/node/pkg/adapters"
	"github.com/shuttle-bridge/shuttle/node/pkg/ledger"
	"github.com/shuttle-bridge/shuttle/node/pkg/supervisor"
)

var (
	hopSubmissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shuttle_hop_submissions_total",
			Help: "Total number of forwarded hops submitted to the relayer",
		}, []string{"result"})
	hopQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "shuttle_hop_queue_depth",
			Help: "Number of forwarded hops waiting for submission",
		})
)

// forwardHop is the wire form of one dispatched hop.
type forwardHop struct {
	Adapter   string `json:"adapter"`
	Remote    uint64 `json:"remote"`
	Recipient string `json:"recipient"`
	Token     string `json:"token"`
	Amount    string `json:"amount"`
	Fee       string `json:"fee"`
	FeeKind   string `json:"feeKind"`
	FeeRecord string `json:"feeRecord"`
}

// submitCourier hands dispatched hops to the relayer process, which owns the
// actual back-end submission. Forward runs inside the ledger transaction and
// must not block, so it only enqueues; the run loop does the network round
// trips.
type submitCourier struct {
	logger *zap.Logger
	url    string
	client *http.Client
	queue  chan *forwardHop
}

func newSubmitCourier(logger *zap.Logger, url string) *submitCourier {
	return &submitCourier{
		logger: logger.With(zap.String("component", "submitCourier")),
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		queue:  make(chan *forwardHop, 64),
	}
}

func (c *submitCourier) Forward(ctx context.Context, tx *ledger.Tx, fwd *adapters.Forwarded) error {
	rec, err := fwd.FeeRecord.Serialize()
	if err != nil {
		return fmt.Errorf("failed to serialize fee record: %w", err)
	}
	hop := &forwardHop{
		Adapter:   fwd.Adapter.String(),
		Remote:    uint64(fwd.Remote),
		Recipient: fwd.Recipient.Hex(),
		Token:     fwd.Token.Hex(),
		Amount:    fwd.Amount.Hex(),
		Fee:       fwd.Fee.Hex(),
		FeeKind:   fwd.FeeRecord.Kind().String(),
		FeeRecord: hexutil.Encode(rec),
	}
	select {
	case c.queue <- hop:
		hopQueueDepth.Inc()
		return nil
	default:
		// A full queue fails the dispatch; the message parks as a failure
		// record and the operator retries once the relayer catches up.
		return errors.New("forward queue is full")
	}
}

func (c *submitCourier) run(ctx context.Context) error {
	supervisor.Signal(ctx, supervisor.SignalHealthy)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case hop := <-c.queue:
			hopQueueDepth.Dec()
			if err := c.submit(ctx, hop); err != nil {
				hopSubmissions.WithLabelValues("error").Inc()
				// Logged in full so the hop can be submitted by hand.
				c.logger.Error("failed to submit forwarded hop",
					zap.Error(err),
					zap.Any("hop", hop),
				)
				continue
			}
			hopSubmissions.WithLabelValues("success").Inc()
			c.logger.Info("submitted forwarded hop",
				zap.String("adapter", hop.Adapter),
				zap.Uint64("remote", hop.Remote),
				zap.String("recipient", hop.Recipient),
				zap.String("amount", hop.Amount),
			)
		}
	}
}

func (c *submitCourier) submit(ctx context.Context, hop *forwardHop) error {
	op := func() error {
		return c.post(ctx, hop)
	}
	return backoff.Retry(op, backoff.WithContext(backoff.NewExponentialBackOff(), ctx))
}

func (c *submitCourier) post(ctx context.Context, hop *forwardHop) error {
	body, err := json.Marshal(hop)
	if err != nil {
		return backoff.Permanent(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/v1/forward", bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("relayer returned %d: %s", resp.StatusCode, b)
	}
	return nil
}
