/**
 * @description
 * This file contains the HTTP handlers for the ledger API. Handlers parse the
 * request, call the application service and map its error kinds to status codes.
 * User-facing routes act on behalf of the chat front end; /admin routes are the
 * operator review surface.
 *
 * @dependencies
 * - encoding/json, errors, io, log, net/http, strconv: Standard Go libraries.
 * - github.com/go-chi/chi/v5: URL parameters.
 * - internal/app, internal/domain: Service logic, models and error kinds.
 */

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/lianamurzabaeva86-hue/ma-money-bot/internal/app"
	"github.com/lianamurzabaeva86-hue/ma-money-bot/internal/domain"
)

// LedgerHandlers holds the application service that handlers will use.
type LedgerHandlers struct {
	service *app.Service
}

// NewLedgerHandlers creates a new instance of LedgerHandlers.
func NewLedgerHandlers(service *app.Service) *LedgerHandlers {
	return &LedgerHandlers{service: service}
}

type registerUserRequest struct {
	UserID    int64  `json:"user_id"`
	Username  string `json:"username"`
	InviterID *int64 `json:"inviter_id,omitempty"`
}

type registerUserResponse struct {
	User    *domain.User `json:"user"`
	Created bool         `json:"created"`
}

type linkReferralRequest struct {
	InviterID int64 `json:"inviter_id"`
}

type claimTaskRequest struct {
	UserID int64 `json:"user_id"`
}

type submitEvidenceRequest struct {
	UserID      int64  `json:"user_id"`
	EvidenceRef string `json:"evidence_ref"`
}

type withdrawalRequest struct {
	UserID      int64  `json:"user_id"`
	Amount      int64  `json:"amount"`
	BankDetails string `json:"bank_details,omitempty"`
	Bank        string `json:"bank,omitempty"`
	CardOrPhone string `json:"card_or_phone,omitempty"`
	Recipient   string `json:"recipient,omitempty"`
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

// RegisterUserHandler handles POST /users.
func (h *LedgerHandlers) RegisterUserHandler(w http.ResponseWriter, r *http.Request) {
	var req registerUserRequest
	if !decodeBody(w, r, "register_user", &req) {
		return
	}
	if req.UserID <= 0 {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	user, created, err := h.service.RegisterUser(r.Context(), req.UserID, req.Username, req.InviterID)
	if err != nil {
		h.handleServiceError(w, "register_user", err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, registerUserResponse{User: user, Created: created})
}

// GetUserHandler handles GET /users/{userID}.
func (h *LedgerHandlers) GetUserHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}
	user, err := h.service.GetUser(r.Context(), userID)
	if err != nil {
		h.handleServiceError(w, "get_user", err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// GetUserStatsHandler handles GET /users/{userID}/stats.
func (h *LedgerHandlers) GetUserStatsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}
	stats, err := h.service.GetUserStats(r.Context(), userID)
	if err != nil {
		h.handleServiceError(w, "get_user_stats", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// ListAvailableTasksHandler handles GET /users/{userID}/tasks.
func (h *LedgerHandlers) ListAvailableTasksHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}
	tasks, err := h.service.ListAvailableTasks(r.Context(), userID)
	if err != nil {
		h.handleServiceError(w, "list_available_tasks", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(tasks))
}

// LinkReferralHandler handles POST /users/{userID}/referral.
func (h *LedgerHandlers) LinkReferralHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}
	var req linkReferralRequest
	if !decodeBody(w, r, "link_referral", &req) {
		return
	}

	outcome, err := h.service.LinkReferral(r.Context(), userID, req.InviterID)
	if err != nil {
		h.handleServiceError(w, "link_referral", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]domain.LinkOutcome{"outcome": outcome})
}

// UnlinkReferralHandler handles DELETE /users/{userID}/referral.
func (h *LedgerHandlers) UnlinkReferralHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}
	unlinked, err := h.service.UnlinkReferral(r.Context(), userID)
	if err != nil {
		h.handleServiceError(w, "unlink_referral", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"unlinked": unlinked})
}

// ListReferralsHandler handles GET /users/{userID}/referrals.
func (h *LedgerHandlers) ListReferralsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}
	users, err := h.service.ListReferrals(r.Context(), userID)
	if err != nil {
		h.handleServiceError(w, "list_referrals", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(users))
}

// ListUserWithdrawalsHandler handles GET /users/{userID}/withdrawals.
func (h *LedgerHandlers) ListUserWithdrawalsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}
	withdrawals, err := h.service.ListUserWithdrawals(r.Context(), userID)
	if err != nil {
		h.handleServiceError(w, "list_user_withdrawals", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(withdrawals))
}

// ClaimTaskHandler handles POST /tasks/{taskID}/claim.
func (h *LedgerHandlers) ClaimTaskHandler(w http.ResponseWriter, r *http.Request) {
	taskID, ok := pathID(w, r, "taskID")
	if !ok {
		return
	}
	var req claimTaskRequest
	if !decodeBody(w, r, "claim_task", &req) {
		return
	}
	if req.UserID <= 0 {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	lease, err := h.service.ClaimTask(r.Context(), req.UserID, taskID)
	if err != nil {
		h.handleServiceError(w, "claim_task", err)
		return
	}
	log.Printf("level=info component=api endpoint=claim_task outcome=accepted user_id=%d task_id=%d lease_id=%d", req.UserID, taskID, lease.ID)
	writeJSON(w, http.StatusCreated, lease)
}

// SubmitEvidenceHandler handles POST /leases/{leaseID}/submit.
func (h *LedgerHandlers) SubmitEvidenceHandler(w http.ResponseWriter, r *http.Request) {
	leaseID, ok := pathID(w, r, "leaseID")
	if !ok {
		return
	}
	var req submitEvidenceRequest
	if !decodeBody(w, r, "submit_evidence", &req) {
		return
	}
	if req.UserID <= 0 {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	lease, err := h.service.SubmitEvidence(r.Context(), req.UserID, leaseID, req.EvidenceRef)
	if err != nil {
		h.handleServiceError(w, "submit_evidence", err)
		return
	}
	writeJSON(w, http.StatusOK, lease)
}

// RequestWithdrawalHandler handles POST /withdrawals. Bank details are either given
// preformatted or as the three parts of the payout form.
func (h *LedgerHandlers) RequestWithdrawalHandler(w http.ResponseWriter, r *http.Request) {
	var req withdrawalRequest
	if !decodeBody(w, r, "request_withdrawal", &req) {
		return
	}
	if req.UserID <= 0 {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	details := strings.TrimSpace(req.BankDetails)
	if details == "" && (req.Bank != "" || req.CardOrPhone != "" || req.Recipient != "") {
		if strings.TrimSpace(req.Bank) == "" || strings.TrimSpace(req.CardOrPhone) == "" || strings.TrimSpace(req.Recipient) == "" {
			writeError(w, http.StatusBadRequest, "bank, card_or_phone and recipient are all required")
			return
		}
		details = app.FormatBankDetails(req.Bank, req.CardOrPhone, req.Recipient)
	}

	withdrawal, err := h.service.RequestWithdrawal(r.Context(), req.UserID, req.Amount, details)
	if err != nil {
		h.handleServiceError(w, "request_withdrawal", err)
		return
	}
	log.Printf("level=info component=api endpoint=request_withdrawal outcome=accepted user_id=%d withdrawal_id=%d amount=%d", req.UserID, withdrawal.ID, withdrawal.Amount)
	writeJSON(w, http.StatusCreated, withdrawal)
}

// ListTasksHandler handles GET /admin/tasks.
func (h *LedgerHandlers) ListTasksHandler(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.service.ListTasks(r.Context())
	if err != nil {
		h.handleServiceError(w, "list_tasks", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(tasks))
}

// CreateTaskHandler handles POST /admin/tasks.
func (h *LedgerHandlers) CreateTaskHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.NewTask
	if !decodeBody(w, r, "create_task", &req) {
		return
	}
	task, err := h.service.CreateTask(r.Context(), req)
	if err != nil {
		h.handleServiceError(w, "create_task", err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

// GetTaskHandler handles GET /admin/tasks/{taskID}.
func (h *LedgerHandlers) GetTaskHandler(w http.ResponseWriter, r *http.Request) {
	taskID, ok := pathID(w, r, "taskID")
	if !ok {
		return
	}
	task, err := h.service.GetTask(r.Context(), taskID)
	if err != nil {
		h.handleServiceError(w, "get_task", err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// DeleteTaskHandler handles DELETE /admin/tasks/{taskID}.
func (h *LedgerHandlers) DeleteTaskHandler(w http.ResponseWriter, r *http.Request) {
	taskID, ok := pathID(w, r, "taskID")
	if !ok {
		return
	}
	if err := h.service.DeleteTask(r.Context(), taskID); err != nil {
		h.handleServiceError(w, "delete_task", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListSubmittedLeasesHandler handles GET /admin/leases/submitted.
func (h *LedgerHandlers) ListSubmittedLeasesHandler(w http.ResponseWriter, r *http.Request) {
	leases, err := h.service.ListSubmittedLeases(r.Context())
	if err != nil {
		h.handleServiceError(w, "list_submitted_leases", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(leases))
}

// GetLeaseHandler handles GET /admin/leases/{leaseID}.
func (h *LedgerHandlers) GetLeaseHandler(w http.ResponseWriter, r *http.Request) {
	leaseID, ok := pathID(w, r, "leaseID")
	if !ok {
		return
	}
	lease, err := h.service.GetLease(r.Context(), leaseID)
	if err != nil {
		h.handleServiceError(w, "get_lease", err)
		return
	}
	writeJSON(w, http.StatusOK, lease)
}

// ApproveLeaseHandler handles POST /admin/leases/{leaseID}/approve.
func (h *LedgerHandlers) ApproveLeaseHandler(w http.ResponseWriter, r *http.Request) {
	leaseID, ok := pathID(w, r, "leaseID")
	if !ok {
		return
	}
	lease, err := h.service.ApproveLease(r.Context(), leaseID)
	if err != nil {
		h.handleServiceError(w, "approve_lease", err)
		return
	}
	writeJSON(w, http.StatusOK, lease)
}

// RejectLeaseHandler handles POST /admin/leases/{leaseID}/reject.
func (h *LedgerHandlers) RejectLeaseHandler(w http.ResponseWriter, r *http.Request) {
	leaseID, ok := pathID(w, r, "leaseID")
	if !ok {
		return
	}
	var req rejectRequest
	if !decodeOptionalBody(w, r, "reject_lease", &req) {
		return
	}
	lease, err := h.service.RejectLease(r.Context(), leaseID, req.Reason)
	if err != nil {
		h.handleServiceError(w, "reject_lease", err)
		return
	}
	writeJSON(w, http.StatusOK, lease)
}

// ListPendingWithdrawalsHandler handles GET /admin/withdrawals/pending.
func (h *LedgerHandlers) ListPendingWithdrawalsHandler(w http.ResponseWriter, r *http.Request) {
	withdrawals, err := h.service.ListPendingWithdrawals(r.Context())
	if err != nil {
		h.handleServiceError(w, "list_pending_withdrawals", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(withdrawals))
}

// ApproveWithdrawalHandler handles POST /admin/withdrawals/{withdrawalID}/approve.
func (h *LedgerHandlers) ApproveWithdrawalHandler(w http.ResponseWriter, r *http.Request) {
	withdrawalID, ok := pathID(w, r, "withdrawalID")
	if !ok {
		return
	}
	approval, err := h.service.ApproveWithdrawal(r.Context(), withdrawalID)
	if err != nil {
		h.handleServiceError(w, "approve_withdrawal", err)
		return
	}
	writeJSON(w, http.StatusOK, approval)
}

// RejectWithdrawalHandler handles POST /admin/withdrawals/{withdrawalID}/reject.
func (h *LedgerHandlers) RejectWithdrawalHandler(w http.ResponseWriter, r *http.Request) {
	withdrawalID, ok := pathID(w, r, "withdrawalID")
	if !ok {
		return
	}
	var req rejectRequest
	if !decodeOptionalBody(w, r, "reject_withdrawal", &req) {
		return
	}
	withdrawal, err := h.service.RejectWithdrawal(r.Context(), withdrawalID, req.Reason)
	if err != nil {
		h.handleServiceError(w, "reject_withdrawal", err)
		return
	}
	writeJSON(w, http.StatusOK, withdrawal)
}

// RunSweepHandler handles POST /admin/sweep.
func (h *LedgerHandlers) RunSweepHandler(w http.ResponseWriter, r *http.Request) {
	reclaimed, err := h.service.RunExpirySweep(r.Context())
	if err != nil {
		h.handleServiceError(w, "run_sweep", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"reclaimed": reclaimed})
}

// GetLedgerStatsHandler handles GET /admin/stats.
func (h *LedgerHandlers) GetLedgerStatsHandler(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.GetLedgerStats(r.Context())
	if err != nil {
		h.handleServiceError(w, "get_ledger_stats", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleServiceError maps the service error kinds to HTTP responses.
func (h *LedgerHandlers) handleServiceError(w http.ResponseWriter, endpoint string, err error) {
	var limited *app.RateLimitedError
	switch {
	case errors.As(err, &limited):
		w.Header().Set("Retry-After", strconv.Itoa(limited.RetryAfterSeconds))
		writeError(w, http.StatusTooManyRequests, "Too many claim attempts. Please wait and try again.")
	case errors.Is(err, domain.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "Too many claim attempts. Please wait and try again.")
	case errors.Is(err, domain.ErrStorageUnavailable):
		log.Printf("level=error component=api endpoint=%s outcome=error reason=storage_unavailable err=%v", endpoint, err)
		writeError(w, http.StatusServiceUnavailable, "Storage is temporarily unavailable")
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrSlotExhausted):
		writeError(w, http.StatusConflict, "No free slots left for this task")
	case errors.Is(err, domain.ErrActiveLeaseExists):
		writeError(w, http.StatusConflict, "You already have an active task")
	case errors.Is(err, domain.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrInsufficientBalance):
		writeError(w, http.StatusUnprocessableEntity, "Insufficient balance")
	case errors.Is(err, domain.ErrBelowMinimumWithdrawal):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, domain.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		log.Printf("level=error component=api endpoint=%s outcome=error err=%v", endpoint, err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid %s", name))
		return 0, false
	}
	return id, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, endpoint string, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		log.Printf("level=warn component=api endpoint=%s outcome=reject reason=invalid_json err=%v", endpoint, err)
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return false
	}
	return true
}

// decodeOptionalBody accepts an empty body.
func decodeOptionalBody(w http.ResponseWriter, r *http.Request, endpoint string, dst interface{}) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		log.Printf("level=warn component=api endpoint=%s outcome=reject reason=invalid_json err=%v", endpoint, err)
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return false
	}
	return true
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

// writeJSON is a helper for writing JSON responses.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
