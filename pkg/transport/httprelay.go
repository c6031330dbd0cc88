package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shuttle-bridge/shuttle/node/pkg/message"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
	"go.uber.org/zap"
)

const relayRequestTimeout = 30 * time.Second

// HTTPRelay is the production transport binding: quotes and sends go to an
// external relayer service as JSON over HTTP. The relayer assigns the message
// id; delivery on the far side happens out of band.
type HTTPRelay struct {
	logger *zap.Logger
	url    string
	local  message.Selector
	client *http.Client
}

func NewHTTPRelay(logger *zap.Logger, url string, local message.Selector) *HTTPRelay {
	return &HTTPRelay{
		logger: logger.With(zap.String("component", "httpRelay")),
		url:    strings.TrimRight(url, "/"),
		local:  local,
		client: &http.Client{Timeout: relayRequestTimeout},
	}
}

type relayQuoteRequest struct {
	Source        uint64 `json:"source"`
	Destination   uint64 `json:"destination"`
	GasLimit      uint32 `json:"gasLimit"`
	PayloadLength int    `json:"payloadLength"`
}

type relayQuoteResponse struct {
	Fee string `json:"fee"`
}

type relayTokenAmount struct {
	Token  string `json:"token"`
	Amount string `json:"amount"`
}

type relaySendRequest struct {
	Source      uint64             `json:"source"`
	Destination uint64             `json:"destination"`
	Receiver    string             `json:"receiver"`
	Payload     string             `json:"payload"`
	Tokens      []relayTokenAmount `json:"tokens"`
}

type relaySendResponse struct {
	MessageID string `json:"messageId"`
}

func (r *HTTPRelay) Quote(ctx context.Context, dest message.Selector, gasLimit uint32, payloadLen int) (*uint256.Int, error) {
	var resp relayQuoteResponse
	err := r.post(ctx, "/v1/quote", &relayQuoteRequest{
		Source:        uint64(r.local),
		Destination:   uint64(dest),
		GasLimit:      gasLimit,
		PayloadLength: payloadLen,
	}, &resp)
	if err != nil {
		return nil, err
	}
	fee, err := uint256.FromHex(resp.Fee)
	if err != nil {
		return nil, fmt.Errorf("relayer returned invalid fee %q: %w", resp.Fee, err)
	}
	return fee, nil
}

func (r *HTTPRelay) Send(ctx context.Context, dest message.Selector, receiver common.Address, payload []byte, tokens []message.TokenAmount) (message.ID, error) {
	req := &relaySendRequest{
		Source:      uint64(r.local),
		Destination: uint64(dest),
		Receiver:    receiver.Hex(),
		Payload:     hexutil.Encode(payload),
		Tokens:      make([]relayTokenAmount, 0, len(tokens)),
	}
	for _, ta := range tokens {
		req.Tokens = append(req.Tokens, relayTokenAmount{
			Token:  ta.Token.Hex(),
			Amount: ta.Amount.Hex(),
		})
	}

	var resp relaySendResponse
	if err := r.post(ctx, "/v1/send", req, &resp); err != nil {
		return message.ID{}, err
	}
	id, err := message.IDFromString(strings.TrimPrefix(resp.MessageID, "0x"))
	if err != nil {
		return message.ID{}, fmt.Errorf("relayer returned invalid message id %q: %w", resp.MessageID, err)
	}
	return id, nil
}

func (r *HTTPRelay) post(ctx context.Context, path string, body interface{}, out interface{}) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal relayer request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("failed to build relayer request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("relayer request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("relayer returned %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode relayer response: %w", err)
	}
	return nil
}
