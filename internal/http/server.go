package http

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/dhyanmanav/GAT-CMS-2/internal/apperr"
	"github.com/dhyanmanav/GAT-CMS-2/internal/certificates"
	"github.com/dhyanmanav/GAT-CMS-2/internal/config"
	"github.com/dhyanmanav/GAT-CMS-2/internal/identity"
	"github.com/dhyanmanav/GAT-CMS-2/internal/kv"
	"github.com/dhyanmanav/GAT-CMS-2/internal/metrics"
	"github.com/dhyanmanav/GAT-CMS-2/internal/otp"
	"github.com/dhyanmanav/GAT-CMS-2/internal/ratelimit"
	"github.com/dhyanmanav/GAT-CMS-2/internal/registrar"
)

type Deps struct {
	Store      kv.Store
	Identity   identity.Provider
	OTP        *otp.Verifier
	Registrar  *registrar.Registrar
	Workflow   *certificates.Workflow
	OTPLimiter *ratelimit.Limiter
	Metrics    *metrics.Metrics
	Logger     *zap.Logger
}

type Server struct {
	cfg        config.Config
	store      kv.Store
	identity   identity.Provider
	otp        *otp.Verifier
	registrar  *registrar.Registrar
	workflow   *certificates.Workflow
	otpLimiter *ratelimit.Limiter
	metrics    *metrics.Metrics
	log        *zap.Logger
	validate   *validator.Validate
}

func NewServer(cfg config.Config, deps Deps) *Server {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		cfg:        cfg,
		store:      deps.Store,
		identity:   deps.Identity,
		otp:        deps.OTP,
		registrar:  deps.Registrar,
		workflow:   deps.Workflow,
		otpLimiter: deps.OTPLimiter,
		metrics:    deps.Metrics,
		log:        log,
		validate:   newValidator(),
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.accessLog)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Length", "Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: false,
		MaxAge:           600,
	}))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", s.metrics.Handler())

	r.With(s.rateLimit(s.otpLimiter)).Post("/send-otp", s.handleSendOTP)
	r.Post("/verify-otp", s.handleVerifyOTP)
	r.Post("/signup/student", s.handleStudentSignup)
	r.Post("/signup/admin", s.handleAdminSignup)
	r.Post("/login", s.handleLogin)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Get("/user", s.handleGetUser)
		r.Post("/certificate-request", s.handleSubmitRequest)
		r.Get("/certificate-requests", s.handleListAll)
		r.Get("/certificate-requests/student", s.handleListForStudent)
		r.Get("/certificate-request/{id}", s.handleGetRequest)
		r.Put("/certificate-request/{id}", s.handleSetStatus)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := kv.Ping(ctx, s.store); err != nil {
		s.log.Warn("health check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing_token", "Unauthorized")
			return
		}
		user, err := s.identity.Verify(r.Context(), token)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		ctx := context.WithValue(r.Context(), userKey{}, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type userKey struct{}

func userFromContext(ctx context.Context) (identity.User, bool) {
	user, ok := ctx.Value(userKey{}).(identity.User)
	return user, ok
}

// rateLimit throttles a route per client address. Store failures let the
// request through.
func (s *Server) rateLimit(limiter *ratelimit.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !limiter.Enabled() {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			decision, err := limiter.Allow(r.Context(), clientAddr(r), time.Now().UTC())
			if err != nil {
				s.log.Warn("rate limiter unavailable", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}
			retryAfter := int(time.Until(decision.Reset).Seconds()) + 1
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(decision.Reset.Unix(), 10))
			if !decision.Allowed {
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				writeError(w, http.StatusTooManyRequests, "rate_limited", "Too many requests. Please try again later.")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		s.metrics.HTTPRequest(r.Method, route, status)
		s.log.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

// fail writes err as the JSON error body. Failures outside the taxonomy are
// logged and reported without detail.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	s.failWithStatus(w, r, statusFor(err), err)
}

func (s *Server) failWithStatus(w http.ResponseWriter, r *http.Request, status int, err error) {
	var e *apperr.Error
	if !errors.As(err, &e) || e.Kind == apperr.Internal {
		s.log.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "server_error", "Internal server error")
		return
	}
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("code", e.Code),
			zap.Error(err),
		)
	}
	writeError(w, status, e.Code, e.Message)
}

func statusFor(err error) int {
	switch apperr.KindOf(err) {
	case apperr.Validation, apperr.AuthProvider:
		return http.StatusBadRequest
	case apperr.Authentication:
		return http.StatusUnauthorized
	case apperr.Authorization:
		return http.StatusForbidden
	case apperr.NotFound:
		return http.StatusNotFound
	case apperr.Conflict:
		return http.StatusConflict
	case apperr.Timeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func decodeJSON(r *http.Request, out interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": code, "message": message})
}
