package main

import (
	"errors"
	"net/http"

	"github.com/svirmi/coursepay/internal/gateway"
	"github.com/svirmi/coursepay/internal/helpers"
	"github.com/svirmi/coursepay/internal/repository"
	"github.com/svirmi/coursepay/internal/service"
)

// gatewayWebhook() POST /webhooks/gateway
// Any non-2xx response makes the processor redeliver the event, so only
// transient failures answer with one.
func (app *application) gatewayWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := helpers.ReadBody(r)
	if err != nil {
		helpers.WriteError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if !app.gateway.VerifySignature(body, r.Header.Get(gateway.SignatureHeader)) {
		helpers.WriteError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	ev, err := gateway.ParseEvent(body)
	if err != nil {
		helpers.WriteError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if ev.Reference == "" {
		app.logger.Warn("webhook without reference ignored", "event", ev.Event)
		w.WriteHeader(http.StatusOK)
		return
	}

	switch ev.Event {
	case gateway.EventChargeSuccess:
		app.handleChargeEvent(w, r, ev)
	case gateway.EventTransferSuccess, gateway.EventTransferFailed, gateway.EventTransferReversed:
		app.handleTransferEvent(w, r, ev)
	default:
		app.logger.Info("webhook event ignored", "event", ev.Event, "reference", ev.Reference)
		w.WriteHeader(http.StatusOK)
	}
}

func (app *application) handleChargeEvent(w http.ResponseWriter, r *http.Request, ev *gateway.Event) {
	_, err := app.settlement.ConfirmCharge(r.Context(), ev.Reference)
	switch {
	case err == nil, errors.Is(err, service.ErrReconciliationRequired), errors.Is(err, service.ErrAmountMismatch):
		w.WriteHeader(http.StatusOK)
	case errors.Is(err, repository.ErrNotFound):
		app.logger.Warn("charge webhook for unknown purchase", "reference", ev.Reference)
		w.WriteHeader(http.StatusOK)
	case errors.Is(err, service.ErrPaymentPending), gateway.IsRetryable(err):
		helpers.WriteError(w, http.StatusServiceUnavailable, "retry later")
	default:
		app.logger.Error("charge webhook failed", "reference", ev.Reference, "error", err)
		helpers.WriteError(w, http.StatusInternalServerError, "internal server error")
	}
}

func (app *application) handleTransferEvent(w http.ResponseWriter, r *http.Request, ev *gateway.Event) {
	success := ev.Event == gateway.EventTransferSuccess
	_, err := app.withdrawals.ConfirmTransfer(r.Context(), ev.Reference, success, ev.Event)
	switch {
	case err == nil, errors.Is(err, service.ErrReconciliationRequired):
		w.WriteHeader(http.StatusOK)
	case errors.Is(err, repository.ErrNotFound):
		app.logger.Warn("transfer webhook for unknown withdrawal", "reference", ev.Reference)
		w.WriteHeader(http.StatusOK)
	default:
		app.logger.Error("transfer webhook failed", "reference", ev.Reference, "event", ev.Event, "error", err)
		helpers.WriteError(w, http.StatusInternalServerError, "internal server error")
	}
}
