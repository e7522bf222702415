package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/dhyanmanav/GAT-CMS-2/internal/certificates"
	"github.com/dhyanmanav/GAT-CMS-2/internal/config"
	"github.com/dhyanmanav/GAT-CMS-2/internal/db"
	bonafidegrpc "github.com/dhyanmanav/GAT-CMS-2/internal/grpc"
	internalhttp "github.com/dhyanmanav/GAT-CMS-2/internal/http"
	"github.com/dhyanmanav/GAT-CMS-2/internal/identity"
	"github.com/dhyanmanav/GAT-CMS-2/internal/jobs"
	"github.com/dhyanmanav/GAT-CMS-2/internal/kv"
	"github.com/dhyanmanav/GAT-CMS-2/internal/logging"
	"github.com/dhyanmanav/GAT-CMS-2/internal/metrics"
	"github.com/dhyanmanav/GAT-CMS-2/internal/notify"
	"github.com/dhyanmanav/GAT-CMS-2/internal/otp"
	"github.com/dhyanmanav/GAT-CMS-2/internal/ratelimit"
	"github.com/dhyanmanav/GAT-CMS-2/internal/registrar"
)

func main() {
	cfg := config.Load()
	log := logging.New(logging.ForEnv(cfg.Env, cfg.LogLevel, cfg.LogFormat))
	defer func() { _ = log.Sync() }()

	if cfg.InsecureJWTSecret() {
		if cfg.Production() {
			log.Fatal("JWT_SECRET must be set in production")
		}
		log.Warn("JWT_SECRET not set, tokens are signed with the development secret")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Fatal("store init failed", zap.String("backend", cfg.KVBackend), zap.Error(err))
	}
	defer closeStore()
	store := kv.WithTimeout(backend, cfg.KVTimeout)

	if cfg.AdminSecretCode == "" {
		log.Warn("ADMIN_SECRET_CODE not set, admin signup is disabled")
	}
	if cfg.OTPExposeCode && cfg.Production() {
		log.Warn("OTP_EXPOSE_CODE is enabled in production, codes are returned to callers")
	}

	m := metrics.New()
	provider := identity.NewLocal(store, cfg.JWTSecret, cfg.JWTIssuer, cfg.AccessTokenTTL)

	var sender notify.Sender
	if cfg.TwilioConfigured() {
		sender = notify.NewTwilioSender(notify.TwilioConfig{
			AccountSID:  cfg.TwilioAccountSID,
			AuthToken:   cfg.TwilioAuthToken,
			FromNumber:  cfg.TwilioPhoneNumber,
			BaseURL:     cfg.TwilioBaseURL,
			CountryCode: cfg.SMSCountryCode,
			Timeout:     cfg.NotifyTimeout,
		}, log)
	} else {
		log.Warn("twilio not configured, otp codes will not be delivered by sms")
		sender = notify.NewLogSender(log)
	}

	verifier := otp.New(store, sender, log, m, otp.Config{
		TTL:          cfg.OTPTTL,
		AssertionTTL: cfg.PhoneVerificationTTL,
		Secret:       cfg.JWTSecret,
		Issuer:       cfg.JWTIssuer,
	})
	reg := registrar.New(provider, store, verifier, cfg.AdminSecretCode, log, m)
	workflow := certificates.NewWorkflow(store, certificates.NewSequence(store, cfg.CertNumberPrefix), log, m,
		certificates.Options{ListAllAdminOnly: cfg.CertListAllAdminOnly})
	otpLimiter := ratelimit.New(store, "send-otp", cfg.OTPRateLimit, cfg.OTPRateWindow)

	server := internalhttp.NewServer(cfg, internalhttp.Deps{
		Store:      store,
		Identity:   provider,
		OTP:        verifier,
		Registrar:  reg,
		Workflow:   workflow,
		OTPLimiter: otpLimiter,
		Metrics:    m,
		Logger:     log,
	})
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	jobs.StartSweepJob(ctx, "otp", cfg.OTPSweepInterval, cfg.KVTimeout, verifier, log)
	if otpLimiter.Enabled() {
		jobs.StartSweepJob(ctx, "ratelimit", cfg.OTPSweepInterval, cfg.KVTimeout, otpLimiter, log)
	}

	health := bonafidegrpc.NewHealth()
	jobs.StartHealthProbeJob(ctx, cfg.HealthProbeInterval, cfg.KVTimeout,
		jobs.PingFunc(func(ctx context.Context) error { return kv.Ping(ctx, store) }), health, log)

	go func() {
		log.Info("bonafide http listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("http server error", zap.Error(err))
		}
	}()

	var grpcServer *grpc.Server
	if cfg.GRPCAddr != "" {
		grpcServer = bonafidegrpc.NewServer(health, cfg.GRPCServiceToken)
		go func() {
			listener, err := net.Listen("tcp", cfg.GRPCAddr)
			if err != nil {
				log.Fatal("grpc listen error", zap.Error(err))
			}
			log.Info("bonafide grpc health listening", zap.String("addr", cfg.GRPCAddr))
			if err := grpcServer.Serve(listener); err != nil {
				log.Fatal("grpc server error", zap.Error(err))
			}
		}()
	}

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	health.Shutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", zap.Error(err))
	}
	if grpcServer != nil {
		grpcServer.GracefulStop()
	}
}

// openStore connects the configured backend and returns it with its cleanup.
func openStore(ctx context.Context, cfg config.Config, log *zap.Logger) (kv.Store, func(), error) {
	switch cfg.KVBackend {
	case "", "memory":
		log.Warn("using in-memory store, data is lost on restart")
		return kv.NewMemoryStore(), func() {}, nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("redis ping failed: %w", err)
		}
		log.Info("using redis store", zap.String("addr", cfg.RedisAddr), zap.Int("db", cfg.RedisDB))
		return kv.NewRedisStore(client), func() {
			if err := client.Close(); err != nil {
				log.Error("redis close error", zap.Error(err))
			}
		}, nil
	case "postgres":
		pool, err := db.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("db connection failed: %w", err)
		}
		store := kv.NewPostgresStore(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("ensure kv schema: %w", err)
		}
		log.Info("using postgres store")
		return store, pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown KV_BACKEND %q", cfg.KVBackend)
	}
}
