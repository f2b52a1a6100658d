package main

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/svirmi/coursepay/internal/gateway"
	"github.com/svirmi/coursepay/internal/helpers"
	"github.com/svirmi/coursepay/internal/model"
	"github.com/svirmi/coursepay/internal/repository"
	"github.com/svirmi/coursepay/internal/service"
)

// createPurchase() POST /purchases
func (app *application) createPurchase(w http.ResponseWriter, r *http.Request) {
	caller, _ := principalFrom(r.Context())

	var req model.PurchaseRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.WriteError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.CourseID == "" {
		helpers.WriteError(w, http.StatusBadRequest, "courseId is required")
		return
	}
	if caller.Email == "" {
		helpers.WriteError(w, http.StatusBadRequest, "token has no email claim")
		return
	}

	res, err := app.settlement.InitiatePurchase(r.Context(), service.Buyer{ID: caller.ID, Email: caller.Email}, req.CourseID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrValidation):
			helpers.WriteError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, service.ErrAlreadyEnrolled):
			helpers.WriteError(w, http.StatusConflict, "already enrolled in this course")
		case errors.Is(err, repository.ErrNotFound):
			helpers.WriteError(w, http.StatusNotFound, "course not found")
		case errors.Is(err, gateway.ErrGatewayUnavailable):
			helpers.WriteError(w, http.StatusServiceUnavailable, "payment could not start")
		case errors.Is(err, gateway.ErrInvalidRequest):
			helpers.WriteError(w, http.StatusBadGateway, "payment could not start")
		default:
			app.logger.Error("initiatePurchase failed", "buyer", caller.ID, "course", req.CourseID, "error", err)
			helpers.WriteError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	helpers.WriteJSON(w, http.StatusCreated, res)
}

// getPurchase() GET /purchases/{reference}
func (app *application) getPurchase(w http.ResponseWriter, r *http.Request) {
	caller, _ := principalFrom(r.Context())
	reference := chi.URLParam(r, "reference")

	p, err := app.settlement.Purchase(r.Context(), caller.ID, reference)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			helpers.WriteError(w, http.StatusNotFound, "purchase not found")
			return
		}
		app.logger.Error("getPurchase failed", "reference", reference, "error", err)
		helpers.WriteError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	helpers.WriteJSON(w, http.StatusOK, p)
}

// paymentCallback() GET /payments/callback?reference=...
// The processor redirects the buyer here after checkout.
func (app *application) paymentCallback(w http.ResponseWriter, r *http.Request) {
	reference := r.URL.Query().Get("reference")
	if reference == "" {
		reference = r.URL.Query().Get("trxref")
	}
	if reference == "" {
		helpers.WriteError(w, http.StatusBadRequest, "reference is required")
		return
	}

	p, err := app.settlement.VerifyAndSettle(r.Context(), reference)
	switch {
	case err == nil, errors.Is(err, service.ErrReconciliationRequired), errors.Is(err, service.ErrAmountMismatch):
		helpers.WriteJSON(w, http.StatusOK, settlementResponse(p))
	case errors.Is(err, service.ErrPaymentPending):
		helpers.WriteJSON(w, http.StatusAccepted, model.SettlementResponse{
			Reference: reference, Status: model.PurchasePending, Message: "payment is still processing",
		})
	case errors.Is(err, repository.ErrNotFound):
		helpers.WriteError(w, http.StatusNotFound, "purchase not found")
	case errors.Is(err, gateway.ErrGatewayUnavailable):
		helpers.WriteError(w, http.StatusServiceUnavailable, "payment could not be confirmed, try again")
	case errors.Is(err, gateway.ErrInvalidRequest):
		helpers.WriteError(w, http.StatusBadGateway, "payment not completed")
	default:
		app.logger.Error("verifyAndSettle failed", "reference", reference, "error", err)
		helpers.WriteError(w, http.StatusInternalServerError, "internal server error")
	}
}

func settlementResponse(p *model.Purchase) model.SettlementResponse {
	res := model.SettlementResponse{Reference: p.Reference, Status: p.Status}
	switch p.Status {
	case model.PurchaseCompleted:
		res.Message = "payment successful"
	case model.PurchaseFailed:
		res.Message = "payment not completed"
	default:
		res.Message = "payment is still processing"
	}
	return res
}

// getWallet() GET /wallet
func (app *application) getWallet(w http.ResponseWriter, r *http.Request) {
	caller, _ := principalFrom(r.Context())

	wallet, err := app.wallets.GetWallet(r.Context(), caller.ID)
	if err != nil {
		app.logger.Error("getWallet failed", "principal", caller.ID, "error", err)
		helpers.WriteError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	helpers.WriteJSON(w, http.StatusOK, wallet)
}

// createWithdrawal() POST /wallet/withdrawals
func (app *application) createWithdrawal(w http.ResponseWriter, r *http.Request) {
	caller, _ := principalFrom(r.Context())

	var req model.WithdrawalRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.WriteError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	wd, err := app.withdrawals.RequestWithdrawal(r.Context(), caller.ID, req.Amount, req.Bank)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrValidation):
			helpers.WriteError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, service.ErrInsufficientBalance):
			helpers.WriteError(w, http.StatusBadRequest, "insufficient balance")
		case errors.Is(err, service.ErrWithdrawalInProgress):
			helpers.WriteError(w, http.StatusConflict, "a withdrawal is already in progress")
		case errors.Is(err, gateway.ErrInvalidRequest):
			helpers.WriteError(w, http.StatusUnprocessableEntity, "transfer was rejected by the payment processor")
		case errors.Is(err, gateway.ErrGatewayUnavailable):
			helpers.WriteError(w, http.StatusServiceUnavailable, "transfer could not start, try again")
		default:
			app.logger.Error("requestWithdrawal failed", "principal", caller.ID, "error", err)
			helpers.WriteError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	helpers.WriteJSON(w, http.StatusAccepted, wd)
}

func (app *application) healthCheck(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	payload := map[string]string{
		"status": "ok",
		"env":    app.config.Env,
	}
	if app.db != nil {
		if err := app.db.PingContext(r.Context()); err != nil {
			status = http.StatusServiceUnavailable
			payload["status"] = "degraded"
		}
	}
	helpers.WriteJSON(w, status, payload)
}
