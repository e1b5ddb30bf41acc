package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/time/rate"
)

type contextKey string

// PrincipalKey carries the authenticated subject through the request
// context.
const PrincipalKey contextKey = "principal"

// Principal returns the authenticated subject, or "" on public routes.
func Principal(ctx context.Context) string {
	s, _ := ctx.Value(PrincipalKey).(string)
	return s
}

// Auth validates HS256 bearer tokens for the panel routes.
type Auth struct {
	secret []byte
	logger *slog.Logger
}

func NewAuth(secret string, logger *slog.Logger) *Auth {
	return &Auth{secret: []byte(secret), logger: logger}
}

func (a *Auth) RequireAuthentication(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			http.Error(w, `{"message":"Unauthorized"}`, http.StatusUnauthorized)
			return
		}
		tokenString := strings.TrimPrefix(header, "Bearer ")

		token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return a.secret, nil
		}, jwt.WithValidMethods([]string{"HS256"}))
		if err != nil || !token.Valid {
			http.Error(w, `{"message":"Invalid token"}`, http.StatusUnauthorized)
			return
		}

		subject := ""
		if claims, ok := token.Claims.(jwt.MapClaims); ok {
			subject, _ = claims["sub"].(string)
		}

		ctx := context.WithValue(r.Context(), PrincipalKey, subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// MaxBytes caps request bodies so a hostile payload cannot exhaust memory.
func MaxBytes(n int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, n)
			next.ServeHTTP(w, r)
		})
	}
}

// StructuredLogger logs one line per request with latency and status.
func StructuredLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Info("http request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Duration("latency", time.Since(start)),
				slog.String("request_id", chimw.GetReqID(r.Context())),
			)
		})
	}
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// WebhookRateLimit is a per-IP token bucket guarding the public webhook
// route against delivery storms.
type WebhookRateLimit struct {
	visitors sync.Map
}

func NewWebhookRateLimit() *WebhookRateLimit {
	l := &WebhookRateLimit{}
	go l.cleanup()
	return l
}

func (l *WebhookRateLimit) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := r.Header.Get("X-Real-IP")
		if ip == "" {
			ip = r.RemoteAddr
		}

		v, _ := l.visitors.LoadOrStore(ip, &visitor{
			limiter:  rate.NewLimiter(rate.Limit(5), 20),
			lastSeen: time.Now(),
		})
		vis := v.(*visitor)
		vis.lastSeen = time.Now()

		if !vis.limiter.Allow() {
			http.Error(w, `{"message":"Rate limit exceeded"}`, http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (l *WebhookRateLimit) cleanup() {
	ticker := time.NewTicker(time.Minute)
	for range ticker.C {
		l.visitors.Range(func(key, value any) bool {
			if time.Since(value.(*visitor).lastSeen) > 3*time.Minute {
				l.visitors.Delete(key)
			}
			return true
		})
	}
}
