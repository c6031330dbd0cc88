package shuttled

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	eth_common "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/shuttle-bridge/shuttle/node/pkg/adapters"
	"github.com/shuttle-bridge/shuttle/node/pkg/inbound"
	"github.com/shuttle-bridge/shuttle/node/pkg/message"
	"github.com/shuttle-bridge/shuttle/node/pkg/supervisor"
)

type adminAdapterRequest struct {
	Selector uint64 `json:"selector"`
	Adapter  string `json:"adapter"`
}

type adminCounterpartyRequest struct {
	Selector uint64 `json:"selector"`
	Router   string `json:"router"`
}

type adminRetryRequest struct {
	Message string `json:"message"`
}

type adminRecoverRequest struct {
	Message     string `json:"message"`
	Destination string `json:"destination"`
}

type adminHandler struct {
	logger *zap.Logger
	svc    *nodeServices
}

// adminServiceRunnable serves the operator API on a UNIX domain socket.
// Anyone who can open the socket can rebind corridors and move parked funds,
// so the socket file permissions are the only access control.
func adminServiceRunnable(logger *zap.Logger, socketPath string, svc *nodeServices) (supervisor.Runnable, error) {
	// We don't want to accidentally delete a file that isn't a UNIX socket.
	fi, err := os.Stat(socketPath)
	if err == nil {
		if fi.Mode()&os.ModeSocket == 0 {
			return nil, fmt.Errorf("%s is not a UNIX socket", socketPath)
		}
		err = os.Remove(socketPath)
		if err != nil {
			return nil, fmt.Errorf("failed to remove existing socket at %s: %w", socketPath, err)
		}
	}

	laddr, err := net.ResolveUnixAddr("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("invalid listen address: %w", err)
	}
	l, err := net.ListenUnix("unix", laddr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", socketPath, err)
	}

	logger.Info("admin server listening on", zap.String("path", socketPath))

	a := &adminHandler{
		logger: logger.With(zap.String("component", "admin")),
		svc:    svc,
	}

	srv := &http.Server{Handler: a.router()}
	return supervisor.HTTPServer(srv, l, false), nil
}

func (a *adminHandler) router() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/v1/admin/adapter", a.handleSetAdapter).Methods(http.MethodPost)
	router.HandleFunc("/v1/admin/adapter/{selector}", a.handleRemoveAdapter).Methods(http.MethodDelete)
	router.HandleFunc("/v1/admin/counterparty", a.handleSetCounterparty).Methods(http.MethodPost)
	router.HandleFunc("/v1/admin/counterparty/{selector}", a.handleRemoveCounterparty).Methods(http.MethodDelete)
	router.HandleFunc("/v1/admin/retry", a.handleRetry).Methods(http.MethodPost)
	router.HandleFunc("/v1/admin/recover", a.handleRecover).Methods(http.MethodPost)
	router.HandleFunc("/v1/admin/failed", a.handleFailed).Methods(http.MethodGet)
	return router
}

func pathSelector(r *http.Request) (message.Selector, error) {
	v, err := strconv.ParseUint(mux.Vars(r)["selector"], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid selector: %w", err)
	}
	return message.Selector(v), nil
}

func (a *adminHandler) handleSetAdapter(w http.ResponseWriter, r *http.Request) {
	var req adminAdapterRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	id := adapters.ID(req.Adapter)
	if _, ok := a.svc.dispatcher.Lookup(id); !ok {
		writeError(w, http.StatusBadRequest, fmt.Errorf("adapter %s is not registered with the dispatcher", id))
		return
	}
	if err := a.svc.adapterReg.Set(message.Selector(req.Selector), id); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "ok"})
}

func (a *adminHandler) handleRemoveAdapter(w http.ResponseWriter, r *http.Request) {
	selector, err := pathSelector(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := a.svc.adapterReg.Remove(selector); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "ok"})
}

func (a *adminHandler) handleSetCounterparty(w http.ResponseWriter, r *http.Request) {
	var req adminCounterpartyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !eth_common.IsHexAddress(req.Router) {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid router address %q", req.Router))
		return
	}
	if err := a.svc.counterparties.Set(message.Selector(req.Selector), eth_common.HexToAddress(req.Router)); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "ok"})
}

func (a *adminHandler) handleRemoveCounterparty(w http.ResponseWriter, r *http.Request) {
	selector, err := pathSelector(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := a.svc.counterparties.Remove(selector); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "ok"})
}

func parseInboundMessage(raw string) (*message.Inbound, error) {
	b, err := hexutil.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid message hex: %w", err)
	}
	return message.UnmarshalInbound(b)
}

func (a *adminHandler) handleRetry(w http.ResponseWriter, r *http.Request) {
	var req adminRetryRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	msg, err := parseInboundMessage(req.Message)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	err = a.svc.processor.Retry(r.Context(), msg)
	switch {
	case errors.Is(err, inbound.ErrMessageNotFound):
		writeError(w, http.StatusNotFound, err)
		return
	case errors.Is(err, inbound.ErrDigestMismatch):
		writeError(w, http.StatusConflict, err)
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	a.logger.Info("retried parked message", zap.Stringer("messageID", msg.ID))
	writeJSON(w, http.StatusOK, statusResponse{Status: "ok"})
}

func (a *adminHandler) handleRecover(w http.ResponseWriter, r *http.Request) {
	var req adminRecoverRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	msg, err := parseInboundMessage(req.Message)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if !eth_common.IsHexAddress(req.Destination) {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid destination address %q", req.Destination))
		return
	}

	err = a.svc.processor.Recover(r.Context(), msg, eth_common.HexToAddress(req.Destination))
	switch {
	case errors.Is(err, inbound.ErrMessageNotFound):
		writeError(w, http.StatusNotFound, err)
		return
	case errors.Is(err, inbound.ErrDigestMismatch):
		writeError(w, http.StatusConflict, err)
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	a.logger.Info("recovered parked message",
		zap.Stringer("messageID", msg.ID),
		zap.String("destination", req.Destination),
	)
	writeJSON(w, http.StatusOK, statusResponse{Status: "ok"})
}

func (a *adminHandler) handleFailed(w http.ResponseWriter, r *http.Request) {
	records, err := a.svc.processor.OutstandingFailures()
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
