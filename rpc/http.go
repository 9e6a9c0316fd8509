package rpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"otcdesk/native/otc"
	"otcdesk/observability"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20

	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeServerError    = -32000
)

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      int               `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	_ = json.NewEncoder(w).Encode(RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj})
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	_ = json.NewEncoder(w).Encode(RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result})
}

// Server exposes the settlement engine over JSON-RPC.
type Server struct {
	engine *otc.Engine
	log    *slog.Logger
}

// NewServer wires the engine behind the RPC surface.
func NewServer(engine *otc.Engine, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{engine: engine, log: log}
}

// Router returns the HTTP handler serving the RPC endpoint, health check and
// metrics.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Post("/", s.handle)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	return r
}

type handlerFunc func(w http.ResponseWriter, req *RPCRequest)

// handle decodes the envelope and routes to the method handler.
func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(w, status, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}

	handler, ok := s.methods()[req.Method]
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, fmt.Sprintf("method %s not found", req.Method), nil)
		return
	}

	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	handler(rec, req)
	var outcome error
	if rec.status >= http.StatusBadRequest {
		outcome = errors.New(http.StatusText(rec.status))
	}
	observability.Desk().RecordRequest(req.Method, outcome, time.Since(start))
	s.log.Debug("rpc request", "method", req.Method, "status", rec.status, "elapsed", time.Since(start))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) methods() map[string]handlerFunc {
	return map[string]handlerFunc{
		"otc_initDesk":               s.handleInitDesk,
		"otc_registerToken":          s.handleRegisterToken,
		"otc_setTokenActive":         s.handleSetTokenActive,
		"otc_setApprover":            s.handleSetApprover,
		"otc_setAgent":               s.handleSetAgent,
		"otc_setRequiredApprovals":   s.handleSetRequiredApprovals,
		"otc_setLimits":              s.handleSetLimits,
		"otc_setPriceAges":           s.handleSetPriceAges,
		"otc_setFulfillPolicy":       s.handleSetFulfillPolicy,
		"otc_setEmergencyRefund":     s.handleSetEmergencyRefund,
		"otc_setManualPricesEnabled": s.handleSetManualPricesEnabled,
		"otc_setManualPrice":         s.handleSetManualPrice,
		"otc_publishFeedPrice":       s.handlePublishFeedPrice,
		"otc_pause":                  s.handlePause,
		"otc_unpause":                s.handleUnpause,
		"otc_ownerDeposit":           s.handleOwnerDeposit,
		"otc_ownerWithdraw":          s.handleOwnerWithdraw,
		"otc_withdrawPayments":       s.handleWithdrawPayments,
		"otc_adminRecover":           s.handleAdminRecover,
		"otc_createConsignment":      s.handleCreateConsignment,
		"otc_withdrawConsignment":    s.handleWithdrawConsignment,
		"otc_setConsignmentActive":   s.handleSetConsignmentActive,
		"otc_createOffer":            s.handleCreateOffer,
		"otc_approveOffer":           s.handleApproveOffer,
		"otc_fulfillOffer":           s.handleFulfillOffer,
		"otc_claim":                  s.handleClaim,
		"otc_autoClaim":              s.handleAutoClaim,
		"otc_cancelOffer":            s.handleCancelOffer,
		"otc_emergencyRefund":        s.handleEmergencyRefund,
		"otc_cleanup":                s.handleCleanup,
		"otc_getDesk":                s.handleGetDesk,
		"otc_getToken":               s.handleGetToken,
		"otc_getConsignment":         s.handleGetConsignment,
		"otc_getOffer":               s.handleGetOffer,
		"otc_requiredPayment":        s.handleRequiredPayment,
		"otc_openOffers":             s.handleOpenOffers,
		"otc_offersForBeneficiary":   s.handleOffersForBeneficiary,
		"otc_inventory":              s.handleInventory,
	}
}
