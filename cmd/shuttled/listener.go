package shuttled

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	eth_common "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/shuttle-bridge/shuttle/node/pkg/inbound"
	"github.com/shuttle-bridge/shuttle/node/pkg/ledger"
	"github.com/shuttle-bridge/shuttle/node/pkg/message"
	"github.com/shuttle-bridge/shuttle/node/pkg/outbound"
	"github.com/shuttle-bridge/shuttle/node/pkg/supervisor"
	"github.com/shuttle-bridge/shuttle/node/pkg/version"
)

// Wire types of the transfer service. Byte blobs are 0x-prefixed hex,
// message ids travel in the bare hex form the logs use.
type transferRequest struct {
	Destination uint64 `json:"destination"`
	Recipient   string `json:"recipient"`
	Requester   string `json:"requester"`
	Token       string `json:"token"`
	Amount      string `json:"amount"`
	OutboundFee string `json:"outboundFee"`
	ReturnFee   string `json:"returnFee"`
}

type transferResponse struct {
	ID string `json:"id"`
}

type inboundRequest struct {
	Message string `json:"message"`
}

type statusResponse struct {
	Status string `json:"status"`
}

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

type failedRecordResponse struct {
	ID     string `json:"id"`
	Digest string `json:"digest"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type serviceHandler struct {
	logger *zap.Logger
	svc    *nodeServices
}

// transferServiceRunnable serves the node's public surface: transfer orders,
// transport deliveries and the failure records.
func transferServiceRunnable(logger *zap.Logger, addr string, svc *nodeServices) (supervisor.Runnable, error) {
	s := &serviceHandler{
		logger: logger.With(zap.String("component", "service")),
		svc:    svc,
	}

	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	logger.Info("transfer service listening", zap.String("addr", addr))

	srv := &http.Server{
		Handler:           s.router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return supervisor.HTTPServer(srv, l, true), nil
}

func (s *serviceHandler) router() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/v1/health", s.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/v1/failed", s.handleFailedList).Methods(http.MethodGet)
	router.HandleFunc("/v1/failed/{id}", s.handleFailedGet).Methods(http.MethodGet)
	router.HandleFunc("/v1/inbound", s.handleInbound).Methods(http.MethodPost)
	router.HandleFunc("/v1/transfer", s.handleTransfer).Methods(http.MethodPost)
	return router
}

func (s *serviceHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Version: version.Version()})
}

func (s *serviceHandler) handleFailedList(w http.ResponseWriter, r *http.Request) {
	records, err := s.svc.processor.OutstandingFailures()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	resp := make([]failedRecordResponse, 0, len(records))
	for _, rec := range records {
		resp = append(resp, failedRecordResponse{
			ID:     rec.ID.String(),
			Digest: rec.Digest.Hex(),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *serviceHandler) handleFailedGet(w http.ResponseWriter, r *http.Request) {
	id, err := message.IDFromString(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	digest, err := s.svc.processor.FailedDigest(id)
	if err != nil {
		if errors.Is(err, inbound.ErrMessageNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, failedRecordResponse{ID: id.String(), Digest: digest.Hex()})
}

func (s *serviceHandler) handleInbound(w http.ResponseWriter, r *http.Request) {
	var req inboundRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	raw, err := hexutil.Decode(req.Message)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid message hex: %w", err))
		return
	}
	msg, err := message.UnmarshalInbound(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	// The transport moved the attached tokens into custody before notifying
	// us. Mirror that movement only on first delivery: a redelivered parked
	// message was credited when it first arrived, and crediting it again
	// would mint custody the wire never moved.
	digest, err := msg.Digest()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if stored, err := s.svc.processor.FailedDigest(msg.ID); err == nil {
		if stored != digest {
			writeError(w, http.StatusConflict, fmt.Errorf("%w: id %s is already parked with digest %s", inbound.ErrDigestMismatch, msg.ID, stored))
			return
		}
		s.logger.Info("ignoring redelivery of parked message", msg.ZapFields()...)
		writeJSON(w, http.StatusOK, statusResponse{Status: "accepted"})
		return
	} else if !errors.Is(err, inbound.ErrMessageNotFound) {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	if err := s.svc.ledger.Update(func(tx *ledger.Tx) error {
		for _, ta := range msg.Tokens {
			if err := tx.Credit(s.svc.custodian, ta.Token, ta.Amount); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	if err := s.svc.processor.Handle(r.Context(), msg); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.logger.Info("accepted inbound message", msg.ZapFields()...)
	writeJSON(w, http.StatusOK, statusResponse{Status: "accepted"})
}

func (s *serviceHandler) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	for _, addr := range []string{req.Recipient, req.Requester, req.Token} {
		if !eth_common.IsHexAddress(addr) {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid address %q", addr))
			return
		}
	}
	amount, err := uint256.FromHex(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid amount: %w", err))
		return
	}
	outboundFee, err := hexutil.Decode(req.OutboundFee)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid outbound fee record: %w", err))
		return
	}
	returnFee, err := hexutil.Decode(req.ReturnFee)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid return fee record: %w", err))
		return
	}

	id, err := s.svc.builder.BuildAndSend(r.Context(), &outbound.Request{
		Destination: message.Selector(req.Destination),
		Recipient:   eth_common.HexToAddress(req.Recipient),
		Requester:   eth_common.HexToAddress(req.Requester),
		Token:       eth_common.HexToAddress(req.Token),
		Amount:      amount,
		OutboundFee: outboundFee,
		ReturnFee:   returnFee,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, transferResponse{ID: id.String()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return false
	}
	return true
}
