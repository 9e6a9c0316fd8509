package rpc

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"otcdesk/native/otc"
	"otcdesk/observability"
)

func decodeParams(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return fmt.Errorf("expected a single params object")
	}
	return json.Unmarshal(req.Params[0], out)
}

func parseAddress(value string) ([20]byte, error) {
	var addr [20]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return addr, fmt.Errorf("invalid address %q", value)
	}
	if len(raw) != len(addr) {
		return addr, fmt.Errorf("address must be %d bytes", len(addr))
	}
	copy(addr[:], raw)
	return addr, nil
}

func parseAmount(value string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(value), 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	return amount, nil
}

func parseCurrency(value string) (otc.Currency, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "native":
		return otc.CurrencyNative, nil
	case "stable":
		return otc.CurrencyStable, nil
	default:
		return 0, fmt.Errorf("invalid currency %q", value)
	}
}

func formatAddress(addr [20]byte) string {
	return "0x" + hex.EncodeToString(addr[:])
}

func writeParamError(w http.ResponseWriter, id interface{}, err error) {
	writeError(w, http.StatusBadRequest, id, codeInvalidParams, err.Error(), nil)
}

func writeEngineError(w http.ResponseWriter, id interface{}, err error) {
	writeError(w, http.StatusBadRequest, id, codeServerError, err.Error(), nil)
}

type deskResult struct {
	Owner                        string   `json:"owner"`
	Agent                        string   `json:"agent"`
	Vault                        string   `json:"vault"`
	Approvers                    []string `json:"approvers"`
	RequiredApprovals            uint32   `json:"requiredApprovals"`
	MinUsdAmount8                uint64   `json:"minUsdAmount8"`
	MaxTokenPerOrder             string   `json:"maxTokenPerOrder"`
	QuoteExpirySecs              int64    `json:"quoteExpirySecs"`
	MaxLockupSecs                int64    `json:"maxLockupSecs"`
	MaxPriceAgeSecs              int64    `json:"maxPriceAgeSecs"`
	ManualPriceMaxAgeSecs        int64    `json:"manualPriceMaxAgeSecs"`
	RestrictFulfillToBeneficiary bool     `json:"restrictFulfillToBeneficiary"`
	RequireApproverToFulfill     bool     `json:"requireApproverToFulfill"`
	EmergencyRefundEnabled       bool     `json:"emergencyRefundEnabled"`
	EmergencyRefundDeadlineSecs  int64    `json:"emergencyRefundDeadlineSecs"`
	AdminRecoverySecs            int64    `json:"adminRecoverySecs"`
	Paused                       bool     `json:"paused"`
}

func newDeskResult(d *otc.Desk) *deskResult {
	approvers := make([]string, 0, len(d.Approvers))
	for _, approver := range d.Approvers {
		approvers = append(approvers, formatAddress(approver))
	}
	return &deskResult{
		Owner:                        formatAddress(d.Owner),
		Agent:                        formatAddress(d.Agent),
		Vault:                        formatAddress(d.Vault),
		Approvers:                    approvers,
		RequiredApprovals:            d.RequiredApprovals,
		MinUsdAmount8:                d.MinUsdAmount8,
		MaxTokenPerOrder:             d.MaxTokenPerOrder.String(),
		QuoteExpirySecs:              d.QuoteExpirySecs,
		MaxLockupSecs:                d.MaxLockupSecs,
		MaxPriceAgeSecs:              d.MaxPriceAgeSecs,
		ManualPriceMaxAgeSecs:        d.ManualPriceMaxAgeSecs,
		RestrictFulfillToBeneficiary: d.RestrictFulfillToBeneficiary,
		RequireApproverToFulfill:     d.RequireApproverToFulfill,
		EmergencyRefundEnabled:       d.EmergencyRefundEnabled,
		EmergencyRefundDeadlineSecs:  d.EmergencyRefundDeadlineSecs,
		AdminRecoverySecs:            d.AdminRecoverySecs,
		Paused:                       d.Paused,
	}
}

type consignmentResult struct {
	ID                    uint64   `json:"id"`
	Token                 string   `json:"token"`
	Consigner             string   `json:"consigner"`
	TotalAmount           string   `json:"totalAmount"`
	RemainingAmount       string   `json:"remainingAmount"`
	Negotiable            bool     `json:"negotiable"`
	FixedDiscountBps      uint16   `json:"fixedDiscountBps"`
	FixedLockupDays       uint32   `json:"fixedLockupDays"`
	MinDiscountBps        uint16   `json:"minDiscountBps"`
	MaxDiscountBps        uint16   `json:"maxDiscountBps"`
	MinLockupDays         uint32   `json:"minLockupDays"`
	MaxLockupDays         uint32   `json:"maxLockupDays"`
	MinDealAmount         string   `json:"minDealAmount"`
	MaxDealAmount         string   `json:"maxDealAmount"`
	Fractionalized        bool     `json:"fractionalized"`
	Private               bool     `json:"private"`
	AllowList             []string `json:"allowList,omitempty"`
	MaxPriceVolatilityBps uint16   `json:"maxPriceVolatilityBps"`
	MaxTimeToExecuteSecs  int64    `json:"maxTimeToExecuteSecs"`
	Active                bool     `json:"active"`
	CreatedAt             int64    `json:"createdAt"`
}

func newConsignmentResult(c *otc.Consignment) *consignmentResult {
	allowList := make([]string, 0, len(c.AllowList))
	for _, addr := range c.AllowList {
		allowList = append(allowList, formatAddress(addr))
	}
	return &consignmentResult{
		ID:                    c.ID,
		Token:                 c.Token,
		Consigner:             formatAddress(c.Consigner),
		TotalAmount:           c.TotalAmount.String(),
		RemainingAmount:       c.RemainingAmount.String(),
		Negotiable:            c.Negotiable,
		FixedDiscountBps:      c.FixedDiscountBps,
		FixedLockupDays:       c.FixedLockupDays,
		MinDiscountBps:        c.MinDiscountBps,
		MaxDiscountBps:        c.MaxDiscountBps,
		MinLockupDays:         c.MinLockupDays,
		MaxLockupDays:         c.MaxLockupDays,
		MinDealAmount:         c.MinDealAmount.String(),
		MaxDealAmount:         c.MaxDealAmount.String(),
		Fractionalized:        c.Fractionalized,
		Private:               c.Private,
		AllowList:             allowList,
		MaxPriceVolatilityBps: c.MaxPriceVolatilityBps,
		MaxTimeToExecuteSecs:  c.MaxTimeToExecuteSecs,
		Active:                c.Active,
		CreatedAt:             c.CreatedAt,
	}
}

type offerResult struct {
	ID                   uint64   `json:"id"`
	ConsignmentID        uint64   `json:"consignmentId"`
	Token                string   `json:"token"`
	Beneficiary          string   `json:"beneficiary"`
	TokenAmount          string   `json:"tokenAmount"`
	DiscountBps          uint16   `json:"discountBps"`
	CreatedAt            int64    `json:"createdAt"`
	LockupSecs           int64    `json:"lockupSecs"`
	UnlockTime           int64    `json:"unlockTime"`
	PaidAt               int64    `json:"paidAt,omitempty"`
	PriceUsd8            uint64   `json:"priceUsd8"`
	RefPriceUsd8         uint64   `json:"refPriceUsd8,omitempty"`
	MaxPriceDeviationBps uint16   `json:"maxPriceDeviationBps"`
	Currency             string   `json:"currency"`
	Approvals            []string `json:"approvals,omitempty"`
	Approved             bool     `json:"approved"`
	Paid                 bool     `json:"paid"`
	Fulfilled            bool     `json:"fulfilled"`
	Cancelled            bool     `json:"cancelled"`
	Payer                string   `json:"payer,omitempty"`
	AmountPaid           string   `json:"amountPaid"`
}

func newOfferResult(o *otc.Offer) *offerResult {
	approvals := make([]string, 0, len(o.Approvals))
	for _, approver := range o.Approvals {
		approvals = append(approvals, formatAddress(approver))
	}
	result := &offerResult{
		ID:                   o.ID,
		ConsignmentID:        o.ConsignmentID,
		Token:                o.Token,
		Beneficiary:          formatAddress(o.Beneficiary),
		TokenAmount:          o.TokenAmount.String(),
		DiscountBps:          o.DiscountBps,
		CreatedAt:            o.CreatedAt,
		LockupSecs:           o.LockupSecs,
		UnlockTime:           o.UnlockTime,
		PaidAt:               o.PaidAt,
		PriceUsd8:            o.PriceUsd8,
		RefPriceUsd8:         o.RefPriceUsd8,
		MaxPriceDeviationBps: o.MaxPriceDeviationBps,
		Currency:             o.Currency.String(),
		Approvals:            approvals,
		Approved:             o.Approved,
		Paid:                 o.Paid,
		Fulfilled:            o.Fulfilled,
		Cancelled:            o.Cancelled,
		AmountPaid:           o.AmountPaid.String(),
	}
	if o.Paid {
		result.Payer = formatAddress(o.Payer)
	}
	return result
}

func (s *Server) handleInitDesk(w http.ResponseWriter, req *RPCRequest) {
	var params struct {
		Owner                       string   `json:"owner"`
		Agent                       string   `json:"agent"`
		Vault                       string   `json:"vault"`
		Approvers                   []string `json:"approvers"`
		RequiredApprovals           uint32   `json:"requiredApprovals"`
		MinUsdAmount8               uint64   `json:"minUsdAmount8"`
		MaxTokenPerOrder            string   `json:"maxTokenPerOrder"`
		QuoteExpirySecs             int64    `json:"quoteExpirySecs"`
		MaxLockupSecs               int64    `json:"maxLockupSecs"`
		MaxPriceAgeSecs             int64    `json:"maxPriceAgeSecs"`
		ManualPriceMaxAgeSecs       int64    `json:"manualPriceMaxAgeSecs"`
		EmergencyRefundEnabled      bool     `json:"emergencyRefundEnabled"`
		EmergencyRefundDeadlineSecs int64    `json:"emergencyRefundDeadlineSecs"`
		AdminRecoverySecs           int64    `json:"adminRecoverySecs"`
		NativeDecimals              uint8    `json:"nativeDecimals"`
		StableDecimals              uint8    `json:"stableDecimals"`
	}
	if err := decodeParams(req, &params); err != nil {
		writeParamError(w, req.ID, err)
		return
	}
	desk := &otc.Desk{
		RequiredApprovals:           params.RequiredApprovals,
		MinUsdAmount8:               params.MinUsdAmount8,
		QuoteExpirySecs:             params.QuoteExpirySecs,
		MaxLockupSecs:               params.MaxLockupSecs,
		MaxPriceAgeSecs:             params.MaxPriceAgeSecs,
		ManualPriceMaxAgeSecs:       params.ManualPriceMaxAgeSecs,
		EmergencyRefundEnabled:      params.EmergencyRefundEnabled,
		EmergencyRefundDeadlineSecs: params.EmergencyRefundDeadlineSecs,
		AdminRecoverySecs:           params.AdminRecoverySecs,
		NativeDecimals:              params.NativeDecimals,
		StableDecimals:              params.StableDecimals,
	}
	var err error
	if desk.Owner, err = parseAddress(params.Owner); err != nil {
		writeParamError(w, req.ID, err)
		return
	}
	if params.Agent != "" {
		if desk.Agent, err = parseAddress(params.Agent); err != nil {
			writeParamError(w, req.ID, err)
			return
		}
	}
	if desk.Vault, err = parseAddress(params.Vault); err != nil {
		writeParamError(w, req.ID, err)
		return
	}
	for _, raw := range params.Approvers {
		approver, err := parseAddress(raw)
		if err != nil {
			writeParamError(w, req.ID, err)
			return
		}
		desk.Approvers = append(desk.Approvers, approver)
	}
	if params.MaxTokenPerOrder != "" {
		if desk.MaxTokenPerOrder, err = parseAmount(params.MaxTokenPerOrder); err != nil {
			writeParamError(w, req.ID, err)
			return
		}
	}
	stored, err := s.engine.InitDesk(desk)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, newDeskResult(stored))
}

func (s *Server) handleRegisterToken(w http.ResponseWriter, req *RPCRequest) {
	var params struct {
		Caller   string `json:"caller"`
		Symbol   string `json:"symbol"`
		Decimals uint8  `json:"decimals"`
		FeedID   string `json:"feedId"`
	}
	if err := decodeParams(req, &params); err != nil {
		writeParamError(w, req.ID, err)
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeParamError(w, req.ID, err)
		return
	}
	token, err := s.engine.RegisterToken(caller, params.Symbol, params.Decimals, params.FeedID)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, token)
}

func (s *Server) handleSetTokenActive(w http.ResponseWriter, req *RPCRequest) {
	var params struct {
		Caller string `json:"caller"`
		Symbol string `json:"symbol"`
		Active bool   `json:"active"`
	}
	if err := decodeParams(req, &params); err != nil {
		writeParamError(w, req.ID, err)
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeParamError(w, req.ID, err)
		return
	}
	if err := s.engine.SetTokenActive(caller, params.Symbol, params.Active); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleSetApprover(w http.ResponseWriter, req *RPCRequest) {
	var params struct {
		Caller   string `json:"caller"`
		Approver string `json:"approver"`
		Enabled  bool   `json:"enabled"`
	}
	if err := decodeParams(req, &params); err != nil {
		writeParamError(w, req.ID, err)
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeParamError(w, req.ID, err)
		return
	}
	approver, err := parseAddress(params.Approver)
	if err != nil {
		writeParamError(w, req.ID, err)
		return
	}
	if err := s.engine.SetApprover(caller, approver, params.Enabled); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleSetAgent(w http.ResponseWriter, req *RPCRequest) {
	var params struct {
		Caller string `json:"caller"`
		Agent  string `json:"agent"`
	}
	if err := decodeParams(req, &params); err != nil {
		writeParamError(w, req.ID, err)
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeParamError(w, req.ID, err)
		return
	}
	var agent [20]byte
	if params.Agent != "" {
		if agent, err = parseAddress(params.Agent); err != nil {
			writeParamError(w, req.ID, err)
			return
		}
	}
	if err := s.engine.SetAgent(caller, agent); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleSetRequiredApprovals(w http.ResponseWriter, req *RPCRequest) {
	var params struct {
		Caller   string `json:"caller"`
		Required uint32 `json:"required"`
	}
	if err := decodeParams(req, &params); err != nil {
		writeParamError(w, req.ID, err)
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeParamError(w, req.ID, err)
		return
	}
	if err := s.engine.SetRequiredApprovals(caller, params.Required); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleSetLimits(w http.ResponseWriter, req *RPCRequest) {
	var params struct {
		Caller           string `json:"caller"`
		MinUsdAmount8    uint64 `json:"minUsdAmount8"`
		MaxTokenPerOrder string `json:"maxTokenPerOrder"`
		QuoteExpirySecs  int64  `json:"quoteExpirySecs"`
		MaxLockupSecs    int64  `json:"maxLockupSecs"`
	}
	if err := decodeParams(req, &params); err != nil {
		writeParamError(w, req.ID, err)
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeParamError(w, req.ID, err)
		return
	}
	var maxTokenPerOrder *big.Int
	if params.MaxTokenPerOrder != "" {
		if maxTokenPerOrder, err = parseAmount(params.MaxTokenPerOrder); err != nil {
			writeParamError(w, req.ID, err)
			return
		}
	}
	if err := s.engine.SetLimits(caller, params.MinUsdAmount8, maxTokenPerOrder, params.QuoteExpirySecs, params.MaxLockupSecs); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleSetPriceAges(w http.ResponseWriter, req *RPCRequest) {
	var params struct {
		Caller           string `json:"caller"`
		MaxAgeSecs       int64  `json:"maxAgeSecs"`
		ManualMaxAgeSecs int64  `json:"manualMaxAgeSecs"`
	}
	if err := decodeParams(req, &params); err != nil {
		writeParamError(w, req.ID, err)
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeParamError(w, req.ID, err)
		return
	}
	if err := s.engine.SetPriceAges(caller, params.MaxAgeSecs, params.ManualMaxAgeSecs); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleSetFulfillPolicy(w http.ResponseWriter, req *RPCRequest) {
	var params struct {
		Caller                string `json:"caller"`
		RestrictToBeneficiary bool   `json:"restrictToBeneficiary"`
		RequireApprover       bool   `json:"requireApprover"`
	}
	if err := decodeParams(req, &params); err != nil {
		writeParamError(w, req.ID, err)
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeParamError(w, req.ID, err)
		return
	}
	if err := s.engine.SetFulfillPolicy(caller, params.RestrictToBeneficiary, params.RequireApprover); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleSetEmergencyRefund(w http.ResponseWriter, req *RPCRequest) {
	var params struct {
		Caller       string `json:"caller"`
		Enabled      bool   `json:"enabled"`
		DeadlineSecs int64  `json:"deadlineSecs"`
	}
	if err := decodeParams(req, &params); err != nil {
		writeParamError(w, req.ID, err)
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeParamError(w, req.ID, err)
		return
	}
	if err := s.engine.SetEmergencyRefund(caller, params.Enabled, params.DeadlineSecs); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleSetManualPricesEnabled(w http.ResponseWriter, req *RPCRequest) {
	var params struct {
		Caller  string `json:"caller"`
		Enabled bool   `json:"enabled"`
	}
	if err := decodeParams(req, &params); err != nil {
		writeParamError(w, req.ID, err)
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeParamError(w, req.ID, err)
		return
	}
	if err := s.engine.SetManualPricesEnabled(caller, params.Enabled); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleSetManualPrice(w http.ResponseWriter, req *RPCRequest) {
	var params struct {
		Caller    string `json:"caller"`
		Symbol    string `json:"symbol"`
		PriceUsd8 uint64 `json:"priceUsd8"`
	}
	if err := decodeParams(req, &params); err != nil {
		writeParamError(w, req.ID, err)
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeParamError(w, req.ID, err)
		return
	}
	if err := s.engine.SetManualPrice(caller, params.Symbol, params.PriceUsd8); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	observability.Desk().RecordPrice(params.Symbol, params.PriceUsd8)
	writeResult(w, req.ID, true)
}

func (s *Server) handlePublishFeedPrice(w http.ResponseWriter, req *RPCRequest) {
	var params struct {
		Caller          string `json:"caller"`
		Symbol          string `json:"symbol"`
		PriceUsd8       uint64 `json:"priceUsd8"`
		UpdatedAt       int64  `json:"updatedAt"`
		MaxDeviationBps uint16 `json:"maxDeviationBps"`
	}
	if err := decodeParams(req, &params); err != nil {
		writeParamError(w, req.ID, err)
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeParamError(w, req.ID, err)
		return
	}
	if err := s.engine.PublishFeedPrice(caller, params.Symbol, params.PriceUsd8, params.UpdatedAt, params.MaxDeviationBps); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	observability.Desk().RecordPrice(params.Symbol, params.PriceUsd8)
	writeResult(w, req.ID, true)
}

func (s *Server) handlePause(w http.ResponseWriter, req *RPCRequest) {
	s.handlePauseToggle(w, req, true)
}

func (s *Server) handleUnpause(w http.ResponseWriter, req *RPCRequest) {
	s.handlePauseToggle(w, req, false)
}

func (s *Server) handlePauseToggle(w http.ResponseWriter, req *RPCRequest, paused bool) {
	var params struct {
		Caller string `json:"caller"`
	}
	if err := decodeParams(req, &params); err != nil {
		writeParamError(w, req.ID, err)
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeParamError(w, req.ID, err)
		return
	}
	if paused {
		err = s.engine.Pause(caller)
	} else {
		err = s.engine.Unpause(caller)
	}
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

type tokenMoveParams struct {
	Caller string `json:"caller"`
	Symbol string `json:"symbol"`
	Amount string `json:"amount"`
}

func (s *Server) handleOwnerDeposit(w http.ResponseWriter, req *RPCRequest) {
	s.handleOwnerMove(w, req, s.engine.OwnerDepositTokens)
}

func (s *Server) handleOwnerWithdraw(w http.ResponseWriter, req *RPCRequest) {
	s.handleOwnerMove(w, req, s.engine.OwnerWithdrawTokens)
}

func (s *Server) handleOwnerMove(w http.ResponseWriter, req *RPCRequest, fn func([20]byte, string, *big.Int) error) {
	var params tokenMoveParams
	if err := decodeParams(req, &params); err != nil {
		writeParamError(w, req.ID, err)
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeParamError(w, req.ID, err)
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeParamError(w, req.ID, err)
		return
	}
	if err := fn(caller, params.Symbol, amount); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleWithdrawPayments(w http.ResponseWriter, req *RPCRequest) {
	var params struct {
		Caller string `json:"caller"`
		Asset  string `json:"asset"`
		Amount string `json:"amount"`
		To     string `json:"to"`
	}
	if err := decodeParams(req, &params); err != nil {
		writeParamError(w, req.ID, err)
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeParamError(w, req.ID, err)
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeParamError(w, req.ID, err)
		return
	}
	to, err := parseAddress(params.To)
	if err != nil {
		writeParamError(w, req.ID, err)
		return
	}
	if err := s.engine.WithdrawPayments(caller, strings.ToUpper(strings.TrimSpace(params.Asset)), amount, to); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleCreateConsignment(w http.ResponseWriter, req *RPCRequest) {
	var params struct {
		Consigner             string   `json:"consigner"`
		Token                 string   `json:"token"`
		TotalAmount           string   `json:"totalAmount"`
		Negotiable            bool     `json:"negotiable"`
		FixedDiscountBps      uint16   `json:"fixedDiscountBps"`
		FixedLockupDays       uint32   `json:"fixedLockupDays"`
		MinDiscountBps        uint16   `json:"minDiscountBps"`
		MaxDiscountBps        uint16   `json:"maxDiscountBps"`
		MinLockupDays         uint32   `json:"minLockupDays"`
		MaxLockupDays         uint32   `json:"maxLockupDays"`
		MinDealAmount         string   `json:"minDealAmount"`
		MaxDealAmount         string   `json:"maxDealAmount"`
		Fractionalized        bool     `json:"fractionalized"`
		Private               bool     `json:"private"`
		AllowList             []string `json:"allowList"`
		MaxPriceVolatilityBps uint16   `json:"maxPriceVolatilityBps"`
		MaxTimeToExecuteSecs  int64    `json:"maxTimeToExecuteSecs"`
	}
	if err := decodeParams(req, &params); err != nil {
		writeParamError(w, req.ID, err)
		return
	}
	consigner, err := parseAddress(params.Consigner)
	if err != nil {
		writeParamError(w, req.ID, err)
		return
	}
	def := &otc.Consignment{
		Token:                 params.Token,
		Negotiable:            params.Negotiable,
		FixedDiscountBps:      params.FixedDiscountBps,
		FixedLockupDays:       params.FixedLockupDays,
		MinDiscountBps:        params.MinDiscountBps,
		MaxDiscountBps:        params.MaxDiscountBps,
		MinLockupDays:         params.MinLockupDays,
		MaxLockupDays:         params.MaxLockupDays,
		Fractionalized:        params.Fractionalized,
		Private:               params.Private,
		MaxPriceVolatilityBps: params.MaxPriceVolatilityBps,
		MaxTimeToExecuteSecs:  params.MaxTimeToExecuteSecs,
	}
	if def.TotalAmount, err = parseAmount(params.TotalAmount); err != nil {
		writeParamError(w, req.ID, err)
		return
	}
	if params.MinDealAmount != "" {
		if def.MinDealAmount, err = parseAmount(params.MinDealAmount); err != nil {
			writeParamError(w, req.ID, err)
			return
		}
	}
	if params.MaxDealAmount != "" {
		if def.MaxDealAmount, err = parseAmount(params.MaxDealAmount); err != nil {
			writeParamError(w, req.ID, err)
			return
		}
	}
	for _, raw := range params.AllowList {
		addr, err := parseAddress(raw)
		if err != nil {
			writeParamError(w, req.ID, err)
			return
		}
		def.AllowList = append(def.AllowList, addr)
	}
	consignment, err := s.engine.CreateConsignment(consigner, def)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, newConsignmentResult(consignment))
}

func (s *Server) handleWithdrawConsignment(w http.ResponseWriter, req *RPCRequest) {
	var params struct {
		Caller        string `json:"caller"`
		ConsignmentID uint64 `json:"consignmentId"`
		Amount        string `json:"amount"`
	}
	if err := decodeParams(req, &params); err != nil {
		writeParamError(w, req.ID, err)
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeParamError(w, req.ID, err)
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeParamError(w, req.ID, err)
		return
	}
	consignment, err := s.engine.WithdrawConsignment(caller, params.ConsignmentID, amount)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, newConsignmentResult(consignment))
}

func (s *Server) handleSetConsignmentActive(w http.ResponseWriter, req *RPCRequest) {
	var params struct {
		Caller        string `json:"caller"`
		ConsignmentID uint64 `json:"consignmentId"`
		Active        bool   `json:"active"`
	}
	if err := decodeParams(req, &params); err != nil {
		writeParamError(w, req.ID, err)
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeParamError(w, req.ID, err)
		return
	}
	if err := s.engine.SetConsignmentActive(caller, params.ConsignmentID, params.Active); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleCreateOffer(w http.ResponseWriter, req *RPCRequest) {
	var params struct {
		Buyer         string `json:"buyer"`
		ConsignmentID uint64 `json:"consignmentId"`
		TokenAmount   string `json:"tokenAmount"`
		DiscountBps   uint16 `json:"discountBps"`
		LockupDays    uint32 `json:"lockupDays"`
		Currency      string `json:"currency"`
	}
	if err := decodeParams(req, &params); err != nil {
		writeParamError(w, req.ID, err)
		return
	}
	buyer, err := parseAddress(params.Buyer)
	if err != nil {
		writeParamError(w, req.ID, err)
		return
	}
	amount, err := parseAmount(params.TokenAmount)
	if err != nil {
		writeParamError(w, req.ID, err)
		return
	}
	currency, err := parseCurrency(params.Currency)
	if err != nil {
		writeParamError(w, req.ID, err)
		return
	}
	offer, err := s.engine.CreateOffer(buyer, params.ConsignmentID, amount, params.DiscountBps, params.LockupDays, currency)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, newOfferResult(offer))
}

type offerActionParams struct {
	Caller  string `json:"caller"`
	OfferID uint64 `json:"offerId"`
}

func (s *Server) handleOfferAction(w http.ResponseWriter, req *RPCRequest, fn func([20]byte, uint64) (*otc.Offer, error)) {
	var params offerActionParams
	if err := decodeParams(req, &params); err != nil {
		writeParamError(w, req.ID, err)
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeParamError(w, req.ID, err)
		return
	}
	offer, err := fn(caller, params.OfferID)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, newOfferResult(offer))
}

func (s *Server) handleApproveOffer(w http.ResponseWriter, req *RPCRequest) {
	s.handleOfferAction(w, req, s.engine.ApproveOffer)
}

func (s *Server) handleClaim(w http.ResponseWriter, req *RPCRequest) {
	s.handleOfferAction(w, req, s.engine.Claim)
}

type autoClaimEntry struct {
	OfferID uint64       `json:"offerId"`
	Offer   *offerResult `json:"offer,omitempty"`
	Error   string       `json:"error,omitempty"`
}

func (s *Server) handleAutoClaim(w http.ResponseWriter, req *RPCRequest) {
	var params struct {
		Caller   string   `json:"caller"`
		OfferIDs []uint64 `json:"offerIds"`
	}
	if err := decodeParams(req, &params); err != nil {
		writeParamError(w, req.ID, err)
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeParamError(w, req.ID, err)
		return
	}
	results, err := s.engine.AutoClaim(caller, params.OfferIDs)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	entries := make([]autoClaimEntry, 0, len(results))
	for _, result := range results {
		entry := autoClaimEntry{OfferID: result.OfferID}
		if result.Err != nil {
			entry.Error = result.Err.Error()
		} else {
			entry.Offer = newOfferResult(result.Offer)
		}
		entries = append(entries, entry)
	}
	writeResult(w, req.ID, entries)
}

func (s *Server) handleCancelOffer(w http.ResponseWriter, req *RPCRequest) {
	s.handleOfferAction(w, req, s.engine.CancelOffer)
}

func (s *Server) handleEmergencyRefund(w http.ResponseWriter, req *RPCRequest) {
	s.handleOfferAction(w, req, s.engine.EmergencyRefund)
}

func (s *Server) handleAdminRecover(w http.ResponseWriter, req *RPCRequest) {
	s.handleOfferAction(w, req, s.engine.AdminRecover)
}

func (s *Server) handleFulfillOffer(w http.ResponseWriter, req *RPCRequest) {
	var params struct {
		Payer   string `json:"payer"`
		OfferID uint64 `json:"offerId"`
		Payment string `json:"payment"`
	}
	if err := decodeParams(req, &params); err != nil {
		writeParamError(w, req.ID, err)
		return
	}
	payer, err := parseAddress(params.Payer)
	if err != nil {
		writeParamError(w, req.ID, err)
		return
	}
	payment, err := parseAmount(params.Payment)
	if err != nil {
		writeParamError(w, req.ID, err)
		return
	}
	offer, err := s.engine.FulfillOffer(payer, params.OfferID, payment)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, newOfferResult(offer))
}

func (s *Server) handleCleanup(w http.ResponseWriter, req *RPCRequest) {
	var params struct {
		MaxToProcess int `json:"maxToProcess"`
	}
	if err := decodeParams(req, &params); err != nil {
		writeParamError(w, req.ID, err)
		return
	}
	removed, err := s.engine.CleanupExpiredOffers(params.MaxToProcess)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]int{"removed": removed})
}

func (s *Server) handleGetDesk(w http.ResponseWriter, req *RPCRequest) {
	desk, err := s.engine.GetDesk()
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, newDeskResult(desk))
}

func (s *Server) handleGetToken(w http.ResponseWriter, req *RPCRequest) {
	var params struct {
		Symbol string `json:"symbol"`
	}
	if err := decodeParams(req, &params); err != nil {
		writeParamError(w, req.ID, err)
		return
	}
	token, err := s.engine.GetToken(params.Symbol)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, token)
}

func (s *Server) handleGetConsignment(w http.ResponseWriter, req *RPCRequest) {
	var params struct {
		ConsignmentID uint64 `json:"consignmentId"`
	}
	if err := decodeParams(req, &params); err != nil {
		writeParamError(w, req.ID, err)
		return
	}
	consignment, err := s.engine.GetConsignment(params.ConsignmentID)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, newConsignmentResult(consignment))
}

func (s *Server) handleGetOffer(w http.ResponseWriter, req *RPCRequest) {
	var params struct {
		OfferID uint64 `json:"offerId"`
	}
	if err := decodeParams(req, &params); err != nil {
		writeParamError(w, req.ID, err)
		return
	}
	offer, err := s.engine.GetOffer(params.OfferID)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, newOfferResult(offer))
}

func (s *Server) handleRequiredPayment(w http.ResponseWriter, req *RPCRequest) {
	var params struct {
		OfferID uint64 `json:"offerId"`
	}
	if err := decodeParams(req, &params); err != nil {
		writeParamError(w, req.ID, err)
		return
	}
	required, err := s.engine.RequiredPaymentAmount(params.OfferID)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"required": required.String()})
}

func (s *Server) handleOpenOffers(w http.ResponseWriter, req *RPCRequest) {
	ids, err := s.engine.OpenOfferIDs()
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	if ids == nil {
		ids = []uint64{}
	}
	writeResult(w, req.ID, ids)
}

func (s *Server) handleOffersForBeneficiary(w http.ResponseWriter, req *RPCRequest) {
	var params struct {
		Beneficiary string `json:"beneficiary"`
	}
	if err := decodeParams(req, &params); err != nil {
		writeParamError(w, req.ID, err)
		return
	}
	beneficiary, err := parseAddress(params.Beneficiary)
	if err != nil {
		writeParamError(w, req.ID, err)
		return
	}
	ids, err := s.engine.OffersForBeneficiary(beneficiary)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	if ids == nil {
		ids = []uint64{}
	}
	writeResult(w, req.ID, ids)
}

func (s *Server) handleInventory(w http.ResponseWriter, req *RPCRequest) {
	var params struct {
		Symbol string `json:"symbol"`
	}
	if err := decodeParams(req, &params); err != nil {
		writeParamError(w, req.ID, err)
		return
	}
	inv, err := s.engine.AvailableInventory(params.Symbol)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{
		"token":     inv.Token,
		"deposited": inv.Deposited.String(),
		"reserved":  inv.Reserved.String(),
		"available": inv.Available().String(),
	})
}
