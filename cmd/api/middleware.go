package main

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"

	"github.com/svirmi/coursepay/internal/helpers"
)

type contextKey int

const principalKey contextKey = iota

// principal is the caller as vouched for by the identity provider.
type principal struct {
	ID    string
	Email string
}

type identityClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

func (app *application) logRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		app.logger.Info("request completed",
			"request_id", middleware.GetReqID(r.Context()),
			"method", r.Method,
			"uri", r.URL.RequestURI(),
			"ip", r.RemoteAddr,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

// authenticate accepts an HS256 bearer token from the identity provider and
// puts the subject and email on the request context.
func (app *application) authenticate(next http.Handler) http.Handler {
	secret := []byte(app.config.Identity.JWTSecret)
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if app.config.Identity.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(app.config.Identity.Issuer))
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || tokenString == "" {
			helpers.WriteError(w, http.StatusUnauthorized, "authorization required")
			return
		}

		var claims identityClaims
		token, err := jwt.ParseWithClaims(tokenString, &claims, func(*jwt.Token) (any, error) {
			return secret, nil
		}, opts...)
		if err != nil || !token.Valid || claims.Subject == "" {
			helpers.WriteError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), principalKey, principal{ID: claims.Subject, Email: claims.Email})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func principalFrom(ctx context.Context) (principal, bool) {
	p, ok := ctx.Value(principalKey).(principal)
	return p, ok
}
