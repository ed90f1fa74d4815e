// Package handler exposes the ledger over HTTP. Amounts travel as
// decimal strings so 256-bit values survive JSON untruncated.
package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"demura/internal/ledger/models"
	"demura/internal/ledger/service"
	"demura/pkg/domain"
	dErrors "demura/pkg/domain-errors"
	"demura/pkg/platform/httputil"
	"demura/pkg/requestcontext"
)

// Handler routes ledger requests to the service.
type Handler struct {
	svc    *service.Service
	logger *slog.Logger
}

// New creates a handler. A nil logger falls back to slog.Default.
func New(svc *service.Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{svc: svc, logger: logger}
}

// Register mounts the ledger routes on the router.
func (h *Handler) Register(r chi.Router) {
	r.Use(requestContextMiddleware)

	r.Route("/v1", func(r chi.Router) {
		r.Route("/accounts/{account}", func(r chi.Router) {
			r.Get("/balance", h.getBalance)
			r.Post("/decay", h.persistBalanceDecay)
		})

		r.Get("/supply", h.getSupply)
		r.Post("/supply/decay", h.persistAggregateDecay)

		r.Route("/schedule", func(r chi.Router) {
			r.Get("/", h.listSchedule)
			r.Post("/", h.scheduleChange)
			r.Get("/{index}", h.getScheduleEntry)
		})

		r.Get("/periods/current", h.getCurrentPeriod)
		r.Get("/periods/{period}", h.getPeriod)

		r.Post("/transfers", h.transfer)
		r.Post("/approvals", h.approve)
		r.Post("/mint", h.mint)
		r.Post("/burn", h.burn)
	})
}

// requestContextMiddleware tags every request with an ID and lifts the
// bearer token into the context for the authorizer.
func requestContextMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithRequestID(r.Context(), uuid.NewString())
		if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
			ctx = requestcontext.WithBearerToken(ctx, strings.TrimPrefix(auth, "Bearer "))
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type balanceResponse struct {
	Account string `json:"account"`
	Balance string `json:"balance"`
	Period  uint64 `json:"period"`
}

func (h *Handler) getBalance(w http.ResponseWriter, r *http.Request) {
	account, err := domain.ParseAccountID(chi.URLParam(r, "account"))
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid account"))
		return
	}

	balance, err := h.svc.BalanceOf(r.Context(), account)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, balanceResponse{
		Account: account.String(),
		Balance: balance.Dec(),
		Period:  h.svc.CurrentPeriod(),
	})
}

func (h *Handler) persistBalanceDecay(w http.ResponseWriter, r *http.Request) {
	account, err := domain.ParseAccountID(chi.URLParam(r, "account"))
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid account"))
		return
	}

	balance, err := h.svc.PersistBalanceDecay(r.Context(), account)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, balanceResponse{
		Account: account.String(),
		Balance: balance.Dec(),
		Period:  h.svc.CurrentPeriod(),
	})
}

type supplyResponse struct {
	Supply string `json:"supply"`
	Period uint64 `json:"period"`
}

func (h *Handler) getSupply(w http.ResponseWriter, r *http.Request) {
	supply, err := h.svc.TotalSupply(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, supplyResponse{
		Supply: supply.Dec(),
		Period: h.svc.CurrentPeriod(),
	})
}

func (h *Handler) persistAggregateDecay(w http.ResponseWriter, r *http.Request) {
	supply, err := h.svc.PersistAggregateDecay(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, supplyResponse{
		Supply: supply.Dec(),
		Period: h.svc.CurrentPeriod(),
	})
}

type scheduleEntry struct {
	Index  int    `json:"index"`
	Period uint64 `json:"period"`
	Rate   string `json:"rate"`
}

func toScheduleEntry(index int, change models.RateChange) scheduleEntry {
	return scheduleEntry{Index: index, Period: change.Period, Rate: change.Rate.Dec()}
}

func (h *Handler) listSchedule(w http.ResponseWriter, r *http.Request) {
	snapshot := h.svc.ScheduleSnapshot()
	entries := make([]scheduleEntry, len(snapshot))
	for i, change := range snapshot {
		entries[i] = toScheduleEntry(i, change)
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (h *Handler) getScheduleEntry(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "index must be an integer"))
		return
	}
	change, err := h.svc.RateChangeAt(index)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toScheduleEntry(index, change))
}

type scheduleChangeRequest struct {
	Period uint64 `json:"period"`
	Rate   string `json:"rate"`
}

func (h *Handler) scheduleChange(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.Decode[scheduleChangeRequest](w, r, h.logger)
	if !ok {
		return
	}
	rate, err := parseAmount(req.Rate, "rate")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	change, err := h.svc.ScheduleChange(r.Context(), req.Period, rate)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toScheduleEntry(h.svc.ScheduleCount()-1, change))
}

type periodResponse struct {
	Period  uint64 `json:"period"`
	StartAt string `json:"start_at"`
}

func (h *Handler) getCurrentPeriod(w http.ResponseWriter, r *http.Request) {
	p := h.svc.CurrentPeriod()
	httputil.WriteJSON(w, http.StatusOK, periodResponse{
		Period:  p,
		StartAt: h.svc.GetStartTimestamp(p).Format(time.RFC3339),
	})
}

func (h *Handler) getPeriod(w http.ResponseWriter, r *http.Request) {
	p, err := strconv.ParseUint(chi.URLParam(r, "period"), 10, 64)
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "period must be a non-negative integer"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, periodResponse{
		Period:  p,
		StartAt: h.svc.GetStartTimestamp(p).Format(time.RFC3339),
	})
}

type transferRequest struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Spender string `json:"spender,omitempty"`
	Amount  string `json:"amount"`
}

func (h *Handler) transfer(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.Decode[transferRequest](w, r, h.logger)
	if !ok {
		return
	}
	from, to, amount, err := parseMovement(req.From, req.To, req.Amount)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	if req.Spender != "" {
		spender, err := domain.ParseAccountID(req.Spender)
		if err != nil {
			httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid spender"))
			return
		}
		err = h.svc.TransferFrom(r.Context(), spender, from, to, amount)
		writeMovementResult(w, err)
		return
	}

	writeMovementResult(w, h.svc.Transfer(r.Context(), from, to, amount))
}

type approvalRequest struct {
	Owner   string `json:"owner"`
	Spender string `json:"spender"`
	Amount  string `json:"amount"`
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.Decode[approvalRequest](w, r, h.logger)
	if !ok {
		return
	}
	owner, err := domain.ParseAccountID(req.Owner)
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid owner"))
		return
	}
	spender, err := domain.ParseAccountID(req.Spender)
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid spender"))
		return
	}
	amount, err := parseAmount(req.Amount, "amount")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	writeMovementResult(w, h.svc.Approve(r.Context(), owner, spender, amount))
}

type supplyChangeRequest struct {
	Account string `json:"account"`
	Amount  string `json:"amount"`
}

func (h *Handler) mint(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.Decode[supplyChangeRequest](w, r, h.logger)
	if !ok {
		return
	}
	account, amount, err := parseSupplyChange(req)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	writeMovementResult(w, h.svc.Mint(r.Context(), account, amount))
}

func (h *Handler) burn(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.Decode[supplyChangeRequest](w, r, h.logger)
	if !ok {
		return
	}
	account, amount, err := parseSupplyChange(req)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	writeMovementResult(w, h.svc.Burn(r.Context(), account, amount))
}

func parseSupplyChange(req supplyChangeRequest) (domain.AccountID, *uint256.Int, error) {
	account, err := domain.ParseAccountID(req.Account)
	if err != nil {
		return "", nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid account")
	}
	amount, err := parseAmount(req.Amount, "amount")
	if err != nil {
		return "", nil, err
	}
	return account, amount, nil
}

func parseMovement(fromRaw, toRaw, amountRaw string) (domain.AccountID, domain.AccountID, *uint256.Int, error) {
	from, err := domain.ParseAccountID(fromRaw)
	if err != nil {
		return "", "", nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid sender")
	}
	to, err := domain.ParseAccountID(toRaw)
	if err != nil {
		return "", "", nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid receiver")
	}
	amount, err := parseAmount(amountRaw, "amount")
	if err != nil {
		return "", "", nil, err
	}
	return from, to, amount, nil
}

func parseAmount(raw, field string) (*uint256.Int, error) {
	if raw == "" {
		return nil, dErrors.Newf(dErrors.CodeBadRequest, "%s is required", field)
	}
	v, err := uint256.FromDecimal(raw)
	if err != nil {
		return nil, dErrors.Newf(dErrors.CodeBadRequest, "%s must be a decimal integer", field)
	}
	return v, nil
}

func writeMovementResult(w http.ResponseWriter, err error) {
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
