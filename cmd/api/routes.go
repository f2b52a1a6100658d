package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func (app *application) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(app.logRequest)
	r.Use(middleware.Recoverer)
	if app.config.HTTP.RequestTimeout > 0 {
		r.Use(middleware.Timeout(app.config.HTTP.RequestTimeout))
	}

	r.Get("/health", app.healthCheck)
	r.Get("/payments/callback", app.paymentCallback)
	r.Post("/webhooks/gateway", app.gatewayWebhook)

	r.Group(func(r chi.Router) {
		r.Use(app.authenticate)
		r.Post("/purchases", app.createPurchase)
		r.Get("/purchases/{reference}", app.getPurchase)
		r.Get("/wallet", app.getWallet)
		r.Post("/wallet/withdrawals", app.createWithdrawal)
	})

	return r
}
