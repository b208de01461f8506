package http

import (
	"bytes"
	"context"
	"crypto/rsa"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelhttp "go.opentelemetry.io/otel/propagation"

	"github.com/robertarktes/group-seat-bookings/internal/domain"
	"github.com/robertarktes/group-seat-bookings/internal/idempotency"
	"github.com/robertarktes/group-seat-bookings/internal/observability"
	"github.com/robertarktes/group-seat-bookings/internal/rateLimit"
)

type ctxKey int

const (
	loggerKey ctxKey = iota
	subjectKey
	roleKey
)

// RoleAdmin may post ledger entries, change wallet status, manage showtimes
// and act on any user's wallet.
const RoleAdmin = "admin"

func RequestIDMiddleware(next http.Handler) http.Handler {
	return middleware.RequestID(next)
}

func LoggerMiddleware(logger observability.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := middleware.GetReqID(r.Context())
			entry := logger.WithField("request_id", reqID)
			ctx := context.WithValue(r.Context(), loggerKey, entry)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func LoggerFrom(ctx context.Context) observability.Logger {
	if l, ok := ctx.Value(loggerKey).(observability.Logger); ok {
		return l
	}
	return observability.NewNopLogger()
}

// Subject is the authenticated caller, or uuid.Nil.
func Subject(ctx context.Context) uuid.UUID {
	id, _ := ctx.Value(subjectKey).(uuid.UUID)
	return id
}

func WithSubject(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, subjectKey, id)
}

func WithRole(ctx context.Context, role string) context.Context {
	return context.WithValue(ctx, roleKey, role)
}

func IsAdmin(ctx context.Context) bool {
	role, _ := ctx.Value(roleKey).(string)
	return role == RoleAdmin
}

func unauthorized(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusUnauthorized, domain.Outcome{Reason: domain.ReasonForbidden, Message: msg})
}

// JWTMiddleware authenticates RS256 bearer tokens whose subject is the
// caller's user id and whose optional "role" claim grants admin rights.
// With a nil key it trusts the X-User-ID and X-User-Role headers instead,
// which is only meant for local runs and tests.
func JWTMiddleware(key *rsa.PublicKey) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var raw, role string
			if key == nil {
				raw = r.Header.Get("X-User-ID")
				role = r.Header.Get("X-User-Role")
			} else {
				bearer, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
				if !ok {
					unauthorized(w, "missing bearer token")
					return
				}
				claims := jwt.MapClaims{}
				_, err := jwt.ParseWithClaims(bearer, claims, func(*jwt.Token) (any, error) { return key, nil },
					jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}), jwt.WithExpirationRequired())
				if err != nil {
					unauthorized(w, "invalid token")
					return
				}
				raw, err = claims.GetSubject()
				if err != nil {
					unauthorized(w, "invalid subject")
					return
				}
				role, _ = claims["role"].(string)
			}
			id, err := uuid.Parse(raw)
			if err != nil {
				unauthorized(w, "caller identity required")
				return
			}
			ctx := WithRole(WithSubject(r.Context(), id), role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func ParsePublicKey(pem string) (*rsa.PublicKey, error) {
	if pem == "" {
		return nil, nil
	}
	key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(pem))
	if err != nil {
		return nil, errors.Wrap(err, "jwt public key")
	}
	return key, nil
}

// IdempotencyMiddleware replays the stored response for a repeated
// Idempotency-Key on POST and PUT. Requests without the header pass through.
func IdempotencyMiddleware(idemp *idempotency.Idempotency) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientKey := r.Header.Get("Idempotency-Key")
			if idemp == nil || clientKey == "" || (r.Method != http.MethodPost && r.Method != http.MethodPut) {
				next.ServeHTTP(w, r)
				return
			}
			if len(clientKey) < 16 || len(clientKey) > 128 {
				writeInvalid(w, "invalid Idempotency-Key")
				return
			}
			key := idempotency.Key(clientKey, Subject(r.Context()).String(), r.Method, r.URL.Path)
			stored, err := idemp.Begin(r.Context(), key)
			if errors.Is(err, idempotency.ErrInFlight) {
				writeJSON(w, http.StatusConflict, domain.Outcome{Reason: domain.ReasonConflict, Message: err.Error()})
				return
			}
			if err != nil {
				LoggerFrom(r.Context()).WithError(err).Warn("idempotency store unavailable")
				next.ServeHTTP(w, r)
				return
			}
			if stored != nil {
				if stored.ContentType != "" {
					w.Header().Set("Content-Type", stored.ContentType)
				}
				w.Header().Set("Idempotent-Replayed", "true")
				w.WriteHeader(stored.Status)
				_, _ = w.Write(stored.Body)
				return
			}

			var buf bytes.Buffer
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			ww.Tee(&buf)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			ctx := context.WithoutCancel(r.Context())
			if status >= http.StatusInternalServerError {
				if err := idemp.Abandon(ctx, key); err != nil {
					LoggerFrom(ctx).WithError(err).Warn("failed to release idempotency key")
				}
				return
			}
			resp := idempotency.Response{Status: status, ContentType: ww.Header().Get("Content-Type"), Body: buf.Bytes()}
			if err := idemp.Complete(ctx, key, resp); err != nil {
				LoggerFrom(ctx).WithError(err).Warn("failed to store idempotent response")
			}
		})
	}
}

// Limits are requests per minute.
type Limits struct {
	PerUser int
	PerIP   int
}

func RateLimitMiddleware(rl *rateLimit.RateLimiter, limits Limits) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if rl == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				ip = r.RemoteAddr
			}
			allowed := rl.Allow(r.Context(), "ip:"+ip, limits.PerIP, time.Minute)
			if sub := Subject(r.Context()); allowed && sub != uuid.Nil {
				allowed = rl.Allow(r.Context(), "user:"+sub.String(), limits.PerUser, time.Minute)
			}
			if !allowed {
				writeError(w, r, domain.ErrRateLimited)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func TracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), otelhttp.HeaderCarrier(r.Header))
		tracer := otel.Tracer("http")
		ctx, span := tracer.Start(ctx, r.Method+" "+r.URL.Path)
		defer span.End()

		span.SetAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.url", r.URL.String()),
		)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// MetricsMiddleware counts requests by route pattern and status.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		observability.RequestsTotal.WithLabelValues(route, strconv.Itoa(status), r.Method).Inc()
	})
}
