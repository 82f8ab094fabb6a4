// Package gateway implements the HTTP Gateway Surface (C8): the chat
// completion endpoints, model listing, health/readiness probes, and
// graceful shutdown, grounded on the teacher's pkg/backend server and
// middleware chain. Server.Handler wraps the mux as RequestID -> Logging ->
// Recovery -> CORS -> IngressLimit -> Auth -> Handler.
package gateway

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/time/rate"
)

type requestIDKeyType struct{}

// RequestIDKey is the context key RequestID stores the generated or
// forwarded request id under.
var RequestIDKey = requestIDKeyType{}

// RequestID assigns each request an id (reusing an inbound X-Request-ID
// header if present) and both stores it in the request context and echoes
// it back in the response header.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = newRequestID()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := context.WithValue(r.Context(), RequestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetRequestID reads the request id stashed by RequestID, returning "" if
// none is present (e.g. in a test handler invoked directly).
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(RequestIDKey).(string)
	return id
}

func newRequestID() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "unknown"
	}
	return hex.EncodeToString(b[:])
}

// Recovery converts a panic in a downstream handler into a 500 error
// envelope instead of crashing the server.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				log.Printf("[%s] panic: %v\n%s", GetRequestID(r.Context()), err, debug.Stack())
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				_ = json.NewEncoder(w).Encode(map[string]interface{}{
					"error": map[string]string{"message": "internal error", "type": "internal_error"},
				})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type loggingResponseWriter struct {
	http.ResponseWriter
	status int
	size   int
}

func (lw *loggingResponseWriter) WriteHeader(code int) {
	lw.status = code
	lw.ResponseWriter.WriteHeader(code)
}

func (lw *loggingResponseWriter) Write(b []byte) (int, error) {
	n, err := lw.ResponseWriter.Write(b)
	lw.size += n
	return n, err
}

// Logging records one line per request: method, path, status, size,
// duration, and the request id RequestID assigned it.
func Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lw := &loggingResponseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(lw, r)
		log.Printf("[%s] %s %s %d %dB %v", GetRequestID(r.Context()), r.Method, r.URL.Path, lw.status, lw.size, time.Since(start))
	})
}

// CORSConfig configures the permissive-by-allowlist CORS middleware.
type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
}

// CORS applies the configured allowlist, short-circuiting preflight
// requests.
func CORS(cfg CORSConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if originAllowed(origin, cfg.AllowedOrigins) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
			}
			if r.Method == http.MethodOptions {
				w.Header().Set("Access-Control-Allow-Methods", strings.Join(cfg.AllowedMethods, ", "))
				w.Header().Set("Access-Control-Allow-Headers", strings.Join(cfg.AllowedHeaders, ", "))
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func originAllowed(origin string, allowed []string) bool {
	for _, a := range allowed {
		if a == "*" || a == origin {
			return true
		}
	}
	return false
}

// publicPaths never require an API key (health/readiness probes).
var publicPaths = []string{"/health", "/ready"}

// Auth enforces spec.md §6's HTTP auth rule: the caller must present the
// configured apiKey either via the x-api-key header or as a Bearer token in
// Authorization. An empty configured apiKey disables auth entirely (local
// dev mode). Auth is a convenience wrapper around AuthWithJWT with no JWT
// secret configured (bare shared-secret comparison only).
func Auth(apiKey string) func(http.Handler) http.Handler {
	return AuthWithJWT(apiKey, "")
}

// AuthWithJWT is Auth's optional-JWT variant (spec.md §9's auth mode
// Open Question, resolved in SPEC_FULL.md's DOMAIN STACK): when jwtSecret
// is non-empty, a presented Bearer token is first verified as an
// HMAC-signed JWT under that secret; if that fails and apiKey is non-empty,
// the token is then compared to apiKey directly. This lets the gateway
// issue short-lived tokens rather than distributing the raw shared secret
// to every caller.
func AuthWithJWT(apiKey, jwtSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" && jwtSecret == "" {
				next.ServeHTTP(w, r)
				return
			}
			for _, p := range publicPaths {
				if strings.HasPrefix(r.URL.Path, p) {
					next.ServeHTTP(w, r)
					return
				}
			}

			presented := presentedKey(r)
			if jwtSecret != "" && verifyJWT(presented, jwtSecret) {
				next.ServeHTTP(w, r)
				return
			}
			if apiKey != "" && presented == apiKey {
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"error": map[string]string{"message": "invalid or missing api key", "type": "auth_error"},
			})
		})
	}
}

// verifyJWT reports whether token is a validly-signed HMAC JWT (HS256,
// HS384 or HS512) under secret. Claims content isn't inspected beyond signature + expiry, which
// jwt.Parse already enforces.
func verifyJWT(token, secret string) bool {
	if token == "" {
		return false
	}
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	return err == nil && parsed.Valid
}

func presentedKey(r *http.Request) string {
	if k := r.Header.Get("x-api-key"); k != "" {
		return k
	}
	return strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
}

// IngressLimit throttles inbound requests to a steady rate with a small
// burst allowance, protecting the gateway itself from being overwhelmed
// independent of any per-provider upstream rate limit tracked by C3.
// ratePerSecond <= 0 disables throttling.
func IngressLimit(ratePerSecond float64, burst int) func(http.Handler) http.Handler {
	if ratePerSecond <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	limiter := rate.NewLimiter(rate.Limit(ratePerSecond), burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]interface{}{
					"error": map[string]string{"message": "gateway ingress rate limit exceeded", "type": "rate_limit_error"},
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
