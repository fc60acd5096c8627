package routes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"vaulttoken/core/runtime"
	"vaulttoken/core/types"
	"vaulttoken/gateway/middleware"
	"vaulttoken/indexer"
	"vaulttoken/native/vault"
)

const maxRequestBody = 1 << 20

type handlers struct {
	rt      *runtime.Runtime
	token   types.AccountID
	events  EventSource
	timeout time.Duration
	logger  *slog.Logger
}

type txRequest struct {
	Receiver types.AccountID `json:"receiver,omitempty"`
	Method   string          `json:"method"`
	Args     json.RawMessage `json:"args,omitempty"`
	Deposit  *types.Amount   `json:"deposit,omitempty"`
	Gas      types.Gas       `json:"gas,omitempty"`
	Async    bool            `json:"async,omitempty"`
}

type outcomeView struct {
	ReceiptID   string          `json:"receiptId"`
	Status      runtime.Status  `json:"status"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	Logs        []string        `json:"logs,omitempty"`
	GasUsed     types.Gas       `json:"gasUsed"`
	Children    []string        `json:"children,omitempty"`
	ForwardedTo string          `json:"forwardedTo,omitempty"`
}

func newOutcomeView(o *runtime.Outcome) outcomeView {
	view := outcomeView{
		ReceiptID:   o.ReceiptID,
		Status:      o.Status,
		Error:       o.Error,
		Logs:        o.Logs,
		GasUsed:     o.GasUsed,
		Children:    o.Children,
		ForwardedTo: o.ForwardedTo,
	}
	if len(o.Value) > 0 {
		if json.Valid(o.Value) {
			view.Result = json.RawMessage(o.Value)
		} else {
			quoted, _ := json.Marshal(string(o.Value))
			view.Result = quoted
		}
	}
	return view
}

func (h *handlers) submit(w http.ResponseWriter, r *http.Request) {
	signer, ok := middleware.AccountFromContext(r.Context())
	if !ok {
		writeJSONError(w, http.StatusUnauthorized, errors.New("caller account unknown"))
		return
	}
	var req txRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeBadRequest(w, fmt.Errorf("invalid request body: %w", err))
		return
	}
	receiver := req.Receiver
	if receiver == "" {
		receiver = h.token
	}
	tx := runtime.Transaction{
		Signer:   signer,
		Receiver: receiver,
		Method:   strings.TrimSpace(req.Method),
		Args:     []byte(req.Args),
		Gas:      req.Gas,
	}
	if req.Deposit != nil {
		tx.Deposit = req.Deposit.Uint256()
	}
	id, err := h.rt.Submit(tx)
	if err != nil {
		writeError(w, err)
		return
	}
	if req.Async {
		h.accepted(w, id)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	outcome, err := h.rt.Await(ctx, id)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			h.accepted(w, id)
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newOutcomeView(outcome))
}

func (h *handlers) accepted(w http.ResponseWriter, id string) {
	w.Header().Set("Location", "/v1/receipts/"+id)
	writeJSON(w, http.StatusAccepted, outcomeView{ReceiptID: id, Status: runtime.StatusPending})
}

func (h *handlers) receipt(w http.ResponseWriter, r *http.Request) {
	outcome, err := h.rt.Outcome(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newOutcomeView(outcome))
}

func (h *handlers) view(w http.ResponseWriter, method string, args any) {
	var encoded []byte
	if args != nil {
		var err error
		if encoded, err = vault.EncodeArgs(args); err != nil {
			writeJSONError(w, http.StatusInternalServerError, err)
			return
		}
	}
	raw, err := h.rt.View(h.token, method, encoded)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

func (h *handlers) supply(w http.ResponseWriter, _ *http.Request) {
	h.view(w, vault.MethodTotalSupply, nil)
}

func accountParam(r *http.Request) (types.AccountID, error) {
	return types.ParseAccountID(chi.URLParam(r, "account"))
}

func (h *handlers) balance(w http.ResponseWriter, r *http.Request) {
	account, err := accountParam(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	h.view(w, vault.MethodGetBalance, vault.AccountArgs{AccountID: account})
}

func (h *handlers) native(w http.ResponseWriter, r *http.Request) {
	account, err := accountParam(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	balance, err := h.rt.NativeBalance(account)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"account": account,
		"balance": types.AmountFromInt(balance),
	})
}

func (h *handlers) storage(w http.ResponseWriter, r *http.Request) {
	account, err := accountParam(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	usage, err := h.rt.StorageUsage(account)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"account":      account,
		"storageUsage": usage,
	})
}

func (h *handlers) vault(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseVaultID(chi.URLParam(r, "id"))
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	h.view(w, vault.MethodGetVault, vault.VaultArgs{VaultID: id})
}

func (h *handlers) listEvents(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		writeError(w, errIndexerDisabled)
		return
	}
	filter, err := parseFilter(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	entries, err := h.events.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("list events failed", slog.Any("error", err))
		writeError(w, err)
		return
	}
	if entries == nil {
		entries = []indexer.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": entries})
}

func parseFilter(r *http.Request) (indexer.Filter, error) {
	q := r.URL.Query()
	filter := indexer.Filter{Type: strings.TrimSpace(q.Get("type"))}
	if raw := strings.TrimSpace(q.Get("vault")); raw != "" {
		id, err := types.ParseVaultID(raw)
		if err != nil {
			return filter, err
		}
		filter.VaultID = &id
	}
	if raw := strings.TrimSpace(q.Get("account")); raw != "" {
		account, err := types.ParseAccountID(raw)
		if err != nil {
			return filter, err
		}
		filter.Account = account
	}
	if raw := strings.TrimSpace(q.Get("after")); raw != "" {
		after, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return filter, fmt.Errorf("invalid after: %w", err)
		}
		filter.After = after
	}
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return filter, fmt.Errorf("invalid limit %q", raw)
		}
		filter.Limit = limit
	}
	return filter, nil
}
