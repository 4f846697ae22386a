// Command homestock-server starts the HomeStock auth HTTP API.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/and161185/homestock/internal/config"
	"github.com/and161185/homestock/internal/mailer"
	"github.com/and161185/homestock/internal/otp"
	httpserver "github.com/and161185/homestock/internal/server/http"
	"github.com/and161185/homestock/internal/service"
	"github.com/and161185/homestock/internal/token"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// main loads configuration, wires storage and services, and serves HTTP until signalled.
func main() {
	cfgPath := flag.String("config", "", "path to config file (yaml/json/toml); env HOMESTOCK_* overrides")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		// logger is not configured yet
		_, _ = os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(2)
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		_, _ = os.Stderr.WriteString("logger: " + err.Error() + "\n")
		os.Exit(2)
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", cfg.HTTP.Addr),
		zap.String("storage", cfg.Storage.Driver),
		zap.String("blacklist", cfg.Blacklist.Driver),
		zap.String("mail", cfg.Mail.Provider),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func newLogger(c config.Log) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if c.Dev {
		zc = zap.NewDevelopmentConfig()
	}
	if c.Level != "" {
		lvl, err := zap.ParseAtomicLevel(c.Level)
		if err != nil {
			return nil, err
		}
		zc.Level = lvl
	}
	return zc.Build()
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	st, err := openStorage(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.close()

	mail, err := mailer.New(mailer.Config{
		Provider:      cfg.Mail.Provider,
		From:          cfg.Mail.From,
		MailgunDomain: cfg.Mail.MailgunDomain,
		MailgunKey:    cfg.Mail.MailgunKey,
		SendGridKey:   cfg.Mail.SendGridKey,
		SendGridHost:  cfg.Mail.SendGridHost,
		LogCodes:      cfg.Mail.LogCodes,
	}, logger)
	if err != nil {
		return err
	}

	tokens := token.NewManager([]byte(cfg.Auth.JWTKey), cfg.Auth.TokenTTL)
	authSvc := service.NewAuthService(
		st.users,
		st.blacklist,
		tokens,
		otp.NewGenerator(cfg.Auth.OTPLength, cfg.Auth.OTPTTL),
		mail,
		st.limiter,
		logger,
	)

	go service.RunBlacklistJanitor(ctx, st.blacklist, cfg.Blacklist.TTL, cfg.Blacklist.PurgeInterval, logger)

	if !cfg.Log.Dev {
		gin.SetMode(gin.ReleaseMode)
	}
	api := httpserver.New(authSvc, httpserver.CookieConfig{
		Domain: cfg.HTTP.CookieDomain,
		Secure: cfg.HTTP.CookieSecure,
		MaxAge: int(tokens.TTL() / time.Second),
	}, st.health, logger)

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.Router(),
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.HTTP.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			logger.Warn("graceful shutdown", zap.Error(err))
			return srv.Close()
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
