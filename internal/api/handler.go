package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/mtds-alfa/kipu-bank-v2/internal/domain"
	"github.com/mtds-alfa/kipu-bank-v2/internal/ledger"
	"github.com/mtds-alfa/kipu-bank-v2/internal/pricing"
	"github.com/mtds-alfa/kipu-bank-v2/internal/transfer"
	"github.com/mtds-alfa/kipu-bank-v2/pkg/crypto"
	"github.com/mtds-alfa/kipu-bank-v2/pkg/metrics"
	"github.com/mtds-alfa/kipu-bank-v2/pkg/validator"
)

type APIHandler struct {
	bank           *ledger.Ledger
	vault          transfer.Transferer
	metrics        *metrics.Collector
	signer         *crypto.Signer
	validator      *validator.RequestValidator
	limiter        *callerLimiter
	logger         *slog.Logger
	requestTimeout time.Duration
}

type Options struct {
	RateLimitRPS   float64
	RateLimitBurst int
	RequestTimeout time.Duration
}

func NewAPIHandler(
	bank *ledger.Ledger,
	vault transfer.Transferer,
	collector *metrics.Collector,
	signer *crypto.Signer,
	logger *slog.Logger,
	opts Options,
) *APIHandler {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &APIHandler{
		bank:           bank,
		vault:          vault,
		metrics:        collector,
		signer:         signer,
		validator:      validator.NewRequestValidator(),
		limiter:        newCallerLimiter(opts.RateLimitRPS, opts.RateLimitBurst),
		logger:         logger,
		requestTimeout: timeout,
	}
}

type DepositRequest struct {
	Caller  string `json:"caller"`
	Asset   string `json:"asset"`
	Amount  string `json:"amount"`
	Payment string `json:"payment,omitempty"`
}

type WithdrawRequest struct {
	Caller string `json:"caller"`
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

type OperationResponse struct {
	Caller   string `json:"caller"`
	Asset    string `json:"asset"`
	Amount   string `json:"amount"`
	UsdValue string `json:"usd_value"`
}

type AddTokenRequest struct {
	Caller   string `json:"caller"`
	Asset    string `json:"asset"`
	Decimals uint8  `json:"decimals"`
	// PriceUSD is the fixed quote the registered static source will serve,
	// in quote precision (8 decimals).
	PriceUSD  string `json:"price_usd"`
	Signature string `json:"signature,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

type SetParamRequest struct {
	Caller    string `json:"caller"`
	ValueUSD  string `json:"value_usd"`
	Signature string `json:"signature,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

type RoleChangeRequest struct {
	Caller    string `json:"caller"`
	Address   string `json:"address"`
	Role      string `json:"role"`
	Granted   bool   `json:"granted"`
	Signature string `json:"signature,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

type EmergencyWithdrawRequest struct {
	Caller    string `json:"caller"`
	Asset     string `json:"asset"`
	Signature string `json:"signature,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func (h *APIHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/deposits", h.DepositHandler)
	mux.HandleFunc("POST /api/v1/withdrawals", h.WithdrawHandler)

	mux.HandleFunc("POST /api/v1/admin/tokens", h.AddTokenHandler)
	mux.HandleFunc("DELETE /api/v1/admin/tokens/{asset}", h.RemoveTokenHandler)
	mux.HandleFunc("PUT /api/v1/admin/bank-cap", h.SetBankCapHandler)
	mux.HandleFunc("PUT /api/v1/admin/withdrawal-limit", h.SetWithdrawalLimitHandler)
	mux.HandleFunc("POST /api/v1/admin/roles", h.RoleChangeHandler)
	mux.HandleFunc("POST /api/v1/admin/emergency-withdrawals", h.EmergencyWithdrawHandler)

	mux.HandleFunc("GET /api/v1/assets", h.ListAssetsHandler)
	mux.HandleFunc("GET /api/v1/assets/{asset}", h.AssetInfoHandler)
	mux.HandleFunc("GET /api/v1/assets/{asset}/price", h.TokenPriceHandler)
	mux.HandleFunc("GET /api/v1/balances", h.BalanceHandler)
	mux.HandleFunc("GET /api/v1/holders/{holder}/usd-balance", h.TotalUsdBalanceHandler)
	mux.HandleFunc("GET /api/v1/tvl", h.TotalValueLockedHandler)
	mux.HandleFunc("GET /api/v1/usd-value", h.CalculateUsdValueHandler)
	mux.HandleFunc("GET /api/health", h.HealthCheckHandler)
}

func (h *APIHandler) DepositHandler(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	var req DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, "Invalid request body", http.StatusBadRequest, "INVALID_REQUEST")
		return
	}
	if !h.limiter.allow(req.Caller) {
		h.sendError(w, "Rate limit exceeded", http.StatusTooManyRequests, "RATE_LIMITED")
		return
	}

	caller, asset, amount, err := h.parseOperands(req.Caller, req.Asset, req.Amount)
	if err != nil {
		h.sendError(w, err.Error(), http.StatusBadRequest, "VALIDATION_ERROR")
		return
	}

	var payment *big.Int
	if req.Payment != "" {
		payment, err = h.validator.ParseAmount(req.Payment)
		if err != nil {
			h.sendError(w, err.Error(), http.StatusBadRequest, "VALIDATION_ERROR")
			return
		}
	}

	// For native deposits the payment travels with the call: deliver it into
	// custody first and refund it if the ledger rejects the deposit.
	nativeAsset := h.isNative(asset)
	if nativeAsset && payment != nil {
		if err := h.vault.Pull(ctx, asset, caller, payment); err != nil {
			h.metrics.RecordDeposit(time.Since(startTime), 0, false)
			h.sendError(w, "Payment delivery failed: "+err.Error(), http.StatusBadGateway, "PAYMENT_FAILED")
			return
		}
	}

	usd, err := h.bank.Deposit(ctx, caller, asset, amount, payment)
	duration := time.Since(startTime)

	if err != nil {
		if nativeAsset && payment != nil {
			if refundErr := h.vault.Push(ctx, asset, caller, payment); refundErr != nil {
				h.logger.Error("native payment refund failed",
					slog.String("caller", string(caller)),
					slog.String("error", refundErr.Error()))
			}
		}
		h.metrics.RecordDeposit(duration, 0, false)
		h.sendLedgerError(w, err)
		return
	}

	h.metrics.RecordDeposit(duration, usdToFloat(usd), true)
	h.refreshGauges(ctx)
	h.sendJSON(w, OperationResponse{
		Caller:   string(caller),
		Asset:    string(asset),
		Amount:   amount.String(),
		UsdValue: usd.String(),
	}, http.StatusCreated)
}

func (h *APIHandler) WithdrawHandler(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	var req WithdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, "Invalid request body", http.StatusBadRequest, "INVALID_REQUEST")
		return
	}
	if !h.limiter.allow(req.Caller) {
		h.sendError(w, "Rate limit exceeded", http.StatusTooManyRequests, "RATE_LIMITED")
		return
	}

	caller, asset, amount, err := h.parseOperands(req.Caller, req.Asset, req.Amount)
	if err != nil {
		h.sendError(w, err.Error(), http.StatusBadRequest, "VALIDATION_ERROR")
		return
	}

	usd, err := h.bank.Withdraw(ctx, caller, asset, amount)
	duration := time.Since(startTime)

	if err != nil {
		h.metrics.RecordWithdrawal(duration, 0, false)
		h.sendLedgerError(w, err)
		return
	}

	h.metrics.RecordWithdrawal(duration, usdToFloat(usd), true)
	h.refreshGauges(ctx)
	h.sendJSON(w, OperationResponse{
		Caller:   string(caller),
		Asset:    string(asset),
		Amount:   amount.String(),
		UsdValue: usd.String(),
	}, http.StatusOK)
}

func (h *APIHandler) AddTokenHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	var req AddTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, "Invalid request body", http.StatusBadRequest, "INVALID_REQUEST")
		return
	}
	if !h.verifyAdminSignature(w, req.Caller, r.Method, r.URL.Path, req.Timestamp, req.Signature) {
		return
	}

	if err := h.validator.ValidateAsset(req.Asset); err != nil {
		h.sendError(w, err.Error(), http.StatusBadRequest, "VALIDATION_ERROR")
		return
	}
	price, err := h.validator.ParseAmount(req.PriceUSD)
	if err != nil {
		h.sendError(w, err.Error(), http.StatusBadRequest, "VALIDATION_ERROR")
		return
	}

	source := pricing.NewStaticSource("static:"+req.Asset, price, pricing.QuoteDecimals)
	if err := h.bank.AddToken(ctx, domain.Holder(req.Caller), domain.Asset(req.Asset), source, req.Decimals); err != nil {
		h.sendLedgerError(w, err)
		return
	}

	h.refreshGauges(ctx)
	h.sendJSON(w, map[string]string{"asset": req.Asset, "status": "registered"}, http.StatusCreated)
}

func (h *APIHandler) RemoveTokenHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	asset := r.PathValue("asset")
	caller := r.URL.Query().Get("caller")
	if caller == "" {
		h.sendError(w, "caller is required", http.StatusBadRequest, "VALIDATION_ERROR")
		return
	}

	if err := h.bank.RemoveToken(ctx, domain.Holder(caller), domain.Asset(asset)); err != nil {
		h.sendLedgerError(w, err)
		return
	}

	h.refreshGauges(ctx)
	h.sendJSON(w, map[string]string{"asset": asset, "status": "removed"}, http.StatusOK)
}

func (h *APIHandler) SetBankCapHandler(w http.ResponseWriter, r *http.Request) {
	h.setParamHandler(w, r, h.bank.SetBankCap)
}

func (h *APIHandler) SetWithdrawalLimitHandler(w http.ResponseWriter, r *http.Request) {
	h.setParamHandler(w, r, h.bank.SetWithdrawalLimit)
}

func (h *APIHandler) setParamHandler(
	w http.ResponseWriter,
	r *http.Request,
	set func(context.Context, domain.Holder, *big.Int) error,
) {
	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	var req SetParamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, "Invalid request body", http.StatusBadRequest, "INVALID_REQUEST")
		return
	}
	if !h.verifyAdminSignature(w, req.Caller, r.Method, r.URL.Path, req.Timestamp, req.Signature) {
		return
	}

	value, err := h.validator.ParseNonNegative(req.ValueUSD)
	if err != nil {
		h.sendError(w, err.Error(), http.StatusBadRequest, "VALIDATION_ERROR")
		return
	}

	if err := set(ctx, domain.Holder(req.Caller), value); err != nil {
		h.sendLedgerError(w, err)
		return
	}

	h.sendJSON(w, map[string]string{"value_usd": value.String(), "status": "updated"}, http.StatusOK)
}

func (h *APIHandler) RoleChangeHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	var req RoleChangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, "Invalid request body", http.StatusBadRequest, "INVALID_REQUEST")
		return
	}
	if !h.verifyAdminSignature(w, req.Caller, r.Method, r.URL.Path, req.Timestamp, req.Signature) {
		return
	}

	caller := domain.Holder(req.Caller)
	addr := domain.Holder(req.Address)

	var err error
	switch {
	case req.Role == "admin" && req.Granted:
		err = h.bank.GrantAdmin(ctx, caller, addr)
	case req.Role == "admin":
		err = h.bank.RevokeAdmin(ctx, caller, addr)
	case req.Role == "operator" && req.Granted:
		err = h.bank.GrantOperator(ctx, caller, addr)
	case req.Role == "operator":
		err = h.bank.RevokeOperator(ctx, caller, addr)
	default:
		h.sendError(w, "unknown role: "+req.Role, http.StatusBadRequest, "VALIDATION_ERROR")
		return
	}

	if err != nil {
		h.sendLedgerError(w, err)
		return
	}
	h.sendJSON(w, map[string]any{"address": req.Address, "role": req.Role, "granted": req.Granted}, http.StatusOK)
}

func (h *APIHandler) EmergencyWithdrawHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	var req EmergencyWithdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, "Invalid request body", http.StatusBadRequest, "INVALID_REQUEST")
		return
	}
	if !h.verifyAdminSignature(w, req.Caller, r.Method, r.URL.Path, req.Timestamp, req.Signature) {
		return
	}

	swept, err := h.bank.EmergencyWithdraw(ctx, domain.Holder(req.Caller), domain.Asset(req.Asset))
	if err != nil {
		h.sendLedgerError(w, err)
		return
	}

	h.refreshGauges(ctx)
	h.sendJSON(w, map[string]string{"asset": req.Asset, "swept": swept.String()}, http.StatusOK)
}

func (h *APIHandler) ListAssetsHandler(w http.ResponseWriter, r *http.Request) {
	assets := h.bank.SupportedAssets()
	out := make([]string, len(assets))
	for i, a := range assets {
		out[i] = string(a)
	}
	h.sendJSON(w, map[string]any{"assets": out, "count": len(out)}, http.StatusOK)
}

func (h *APIHandler) AssetInfoHandler(w http.ResponseWriter, r *http.Request) {
	asset := domain.Asset(r.PathValue("asset"))

	info, err := h.bank.AssetInfo(asset)
	if err != nil {
		h.sendLedgerError(w, err)
		return
	}

	h.sendJSON(w, map[string]any{
		"asset":        string(info.Asset),
		"decimals":     info.Decimals,
		"price_source": info.Source.Description(),
	}, http.StatusOK)
}

func (h *APIHandler) TokenPriceHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	asset := domain.Asset(r.PathValue("asset"))
	price, decimals, err := h.bank.TokenPrice(ctx, asset)
	if err != nil {
		h.sendLedgerError(w, err)
		return
	}

	h.sendJSON(w, map[string]any{
		"asset":    string(asset),
		"price":    price.String(),
		"decimals": decimals,
	}, http.StatusOK)
}

func (h *APIHandler) BalanceHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	asset := domain.Asset(r.URL.Query().Get("asset"))
	holder := domain.Holder(r.URL.Query().Get("holder"))
	if asset.IsZero() || holder.IsZero() {
		h.sendError(w, "asset and holder are required", http.StatusBadRequest, "VALIDATION_ERROR")
		return
	}

	balance := h.bank.Balance(asset, holder)
	usd, err := h.bank.UsdBalance(ctx, asset, holder)
	if err != nil {
		h.sendLedgerError(w, err)
		return
	}

	h.sendJSON(w, map[string]string{
		"asset":       string(asset),
		"holder":      string(holder),
		"balance":     balance.String(),
		"usd_balance": usd.String(),
	}, http.StatusOK)
}

func (h *APIHandler) TotalUsdBalanceHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	holder := domain.Holder(r.PathValue("holder"))
	total, err := h.bank.TotalUsdBalance(ctx, holder)
	if err != nil {
		h.sendLedgerError(w, err)
		return
	}

	h.sendJSON(w, map[string]string{
		"holder":            string(holder),
		"total_usd_balance": total.String(),
	}, http.StatusOK)
}

func (h *APIHandler) TotalValueLockedHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	tvl, err := h.bank.TotalValueLocked(ctx)
	if err != nil {
		h.sendLedgerError(w, err)
		return
	}

	h.metrics.SetTotalValueLocked(usdToFloat(tvl))
	h.sendJSON(w, map[string]string{"total_value_locked_usd": tvl.String()}, http.StatusOK)
}

func (h *APIHandler) CalculateUsdValueHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	asset := domain.Asset(r.URL.Query().Get("asset"))
	amount, err := h.validator.ParseNonNegative(r.URL.Query().Get("amount"))
	if err != nil {
		h.sendError(w, err.Error(), http.StatusBadRequest, "VALIDATION_ERROR")
		return
	}

	usd, err := h.bank.CalculateUsdValue(ctx, asset, amount)
	if err != nil {
		h.sendLedgerError(w, err)
		return
	}

	h.sendJSON(w, map[string]string{
		"asset":     string(asset),
		"amount":    amount.String(),
		"usd_value": usd.String(),
	}, http.StatusOK)
}

func (h *APIHandler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	h.sendJSON(w, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	}, http.StatusOK)
}

func (h *APIHandler) parseOperands(caller, asset, amount string) (domain.Holder, domain.Asset, *big.Int, error) {
	if err := h.validator.ValidateHolder(caller); err != nil {
		return "", "", nil, err
	}
	if err := h.validator.ValidateAsset(asset); err != nil {
		return "", "", nil, err
	}
	parsed, err := h.validator.ParseAmount(amount)
	if err != nil {
		return "", "", nil, err
	}
	return domain.Holder(caller), domain.Asset(asset), parsed, nil
}

func (h *APIHandler) isNative(asset domain.Asset) bool {
	return asset == h.bank.NativeAsset()
}

// verifyAdminSignature enforces HMAC request signing on admin endpoints when a
// signer is configured. Returns false after writing the error response.
func (h *APIHandler) verifyAdminSignature(w http.ResponseWriter, caller, method, path string, timestamp int64, signature string) bool {
	if h.signer == nil {
		return true
	}
	if signature == "" {
		h.sendError(w, "Signature is required", http.StatusUnauthorized, "MISSING_SIGNATURE")
		return false
	}
	if valid, err := h.signer.VerifyRequest(caller, method, path, timestamp, signature); !valid || err != nil {
		h.sendError(w, "Invalid signature", http.StatusUnauthorized, "INVALID_SIGNATURE")
		return false
	}
	return true
}

func (h *APIHandler) refreshGauges(ctx context.Context) {
	h.metrics.SetSupportedAssets(h.bank.SupportedAssetCount())
	if tvl, err := h.bank.TotalValueLocked(ctx); err == nil {
		h.metrics.SetTotalValueLocked(usdToFloat(tvl))
	}
}

func (h *APIHandler) sendLedgerError(w http.ResponseWriter, err error) {
	status, code := mapLedgerError(err)
	h.sendError(w, err.Error(), status, code)
}

func mapLedgerError(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusForbidden, "UNAUTHORIZED"
	case errors.Is(err, domain.ErrAssetNotSupported):
		return http.StatusNotFound, "ASSET_NOT_SUPPORTED"
	case errors.Is(err, domain.ErrBankCapExceeded):
		return http.StatusConflict, "BANK_CAP_EXCEEDED"
	case errors.Is(err, domain.ErrWithdrawalLimitExceeded):
		return http.StatusConflict, "WITHDRAWAL_LIMIT_EXCEEDED"
	case errors.Is(err, domain.ErrInsufficientBalance):
		return http.StatusConflict, "INSUFFICIENT_BALANCE"
	case errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrInvalidDecimals),
		errors.Is(err, domain.ErrInvalidPriceSource),
		errors.Is(err, domain.ErrInvalidAsset):
		return http.StatusBadRequest, "VALIDATION_ERROR"
	case errors.Is(err, domain.ErrInvalidPrice),
		errors.Is(err, domain.ErrTransferFailed),
		errors.Is(err, domain.ErrWithdrawalFailed):
		return http.StatusBadGateway, "COLLABORATOR_ERROR"
	default:
		return http.StatusInternalServerError, "SERVER_ERROR"
	}
}

// usdToFloat converts USD minor units to a float for metrics only; the
// accounting path never touches floats.
func usdToFloat(usd *big.Int) float64 {
	f, _ := new(big.Float).SetInt(usd).Float64()
	return f
}

func (h *APIHandler) sendJSON(w http.ResponseWriter, data any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response", slog.String("error", err.Error()))
	}
}

func (h *APIHandler) sendError(w http.ResponseWriter, message string, statusCode int, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponse{Error: message, Code: code})

	h.logger.Warn("API error response",
		slog.String("message", message),
		slog.String("code", code),
		slog.Int("status", statusCode))
}
