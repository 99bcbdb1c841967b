package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/foxzi/herald/internal/api"
	"github.com/foxzi/herald/internal/cache"
	"github.com/foxzi/herald/internal/config"
	"github.com/foxzi/herald/internal/dispatch"
	"github.com/foxzi/herald/internal/dkim"
	"github.com/foxzi/herald/internal/events"
	"github.com/foxzi/herald/internal/metrics"
	"github.com/foxzi/herald/internal/notify"
	"github.com/foxzi/herald/internal/provider"
	"github.com/foxzi/herald/internal/provider/apns"
	"github.com/foxzi/herald/internal/provider/awsapi"
	"github.com/foxzi/herald/internal/provider/fcm"
	"github.com/foxzi/herald/internal/provider/netfun"
	"github.com/foxzi/herald/internal/provider/ses"
	"github.com/foxzi/herald/internal/provider/smtp"
	"github.com/foxzi/herald/internal/provider/sns"
	"github.com/foxzi/herald/internal/provider/telegram"
	"github.com/foxzi/herald/internal/provider/twilio"
	"github.com/foxzi/herald/internal/provider/webpush"
	"github.com/foxzi/herald/internal/provider/whatsapp"
	"github.com/foxzi/herald/internal/ratelimit"
	"github.com/foxzi/herald/internal/sandbox"
	"github.com/foxzi/herald/internal/storage"
	"github.com/foxzi/herald/internal/template"
	heraldTLS "github.com/foxzi/herald/internal/tls"
	"github.com/foxzi/herald/internal/tracing"
)

// App is the main application
type App struct {
	config        *config.Config
	db            *bolt.DB
	cache         cache.Client
	templates     template.Store
	registry      *provider.Registry
	dispatcher    *dispatch.Service
	apiServer     *api.Server
	metricsServer *metrics.Server
	collector     *metrics.Collector
	publisher     *events.Publisher
	rateLimiter   *ratelimit.Limiter
	tlsServer     *heraldTLS.Server
	acmeServer    *http.Server
	traceShutdown tracing.Shutdown
	logger        *slog.Logger
}

// New creates a new application
func New(ctx context.Context, cfg *config.Config, version string) (*App, error) {
	logger := setupLogger(cfg.Logging)

	a := &App{config: cfg, logger: logger}
	if err := a.init(ctx, version); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context, version string) error {
	cfg := a.config
	logger := a.logger

	shutdown, err := tracing.Setup(ctx, tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		Insecure:    cfg.Tracing.Insecure,
		ServiceName: cfg.Tracing.ServiceName,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("failed to setup tracing: %w", err)
	}
	a.traceShutdown = shutdown

	a.db, err = storage.Open(cfg.Storage.Path, storage.Options{})
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}

	// Templates
	tmplStorage, err := template.NewStorage(a.db)
	if err != nil {
		return fmt.Errorf("failed to create template storage: %w", err)
	}
	a.templates = tmplStorage
	if cfg.Cache.Enabled {
		client, err := cache.NewRedisClient(ctx, cache.Options{
			Addr:     cfg.Cache.Addr,
			Password: cfg.Cache.Password,
			DB:       cfg.Cache.DB,
			Prefix:   cfg.Cache.Prefix,
		})
		if err != nil {
			return fmt.Errorf("failed to connect to cache: %w", err)
		}
		a.cache = client
		a.templates = template.NewCachedStore(tmplStorage, client, cfg.Cache.TTL, logger.With("component", "cache"))
		logger.Info("template cache enabled", "addr", cfg.Cache.Addr, "ttl", cfg.Cache.TTL)
	}
	engine := template.NewEngine(cfg.Dispatch.DefaultLocale)

	// Providers
	senders, err := buildSenders(ctx, cfg, logger)
	if err != nil {
		return err
	}
	a.registry, err = provider.NewRegistry(senders...)
	if err != nil {
		return fmt.Errorf("failed to create provider registry: %w", err)
	}
	for _, d := range a.registry.Drivers() {
		logger.Info("driver registered", "driver", d.Name, "channel", d.Channel)
	}

	// Sandbox
	sandboxStorage, err := sandbox.NewStorage(a.db)
	if err != nil {
		return fmt.Errorf("failed to create sandbox storage: %w", err)
	}
	if sbCfg := cfg.SandboxConfig(); sbCfg.Active() {
		a.registry.Wrap(sandbox.Wrapper(sbCfg, sandboxStorage, logger.With("component", "sandbox")))
		for ch, cc := range sbCfg.Channels {
			logger.Info("sandbox mode", "channel", ch, "mode", cc.Mode, "redirect_to", cc.RedirectTo)
		}
	}

	// Observers
	var observers []dispatch.Observer
	if cfg.Metrics.Enabled {
		m := metrics.New()
		metrics.SetGlobal(m)
		a.collector, err = metrics.NewCollector(a.db, m, a.templates, cfg.Storage.Path, cfg.Metrics.FlushInterval)
		if err != nil {
			return fmt.Errorf("failed to create metrics collector: %w", err)
		}
		observers = append(observers, a.collector)
		a.metricsServer = metrics.NewServer(m, cfg.Metrics.ListenAddr, cfg.Metrics.Path, cfg.Metrics.AllowedIPs, logger.With("component", "metrics"))
	}
	if cfg.Events.Enabled {
		writer := events.NewWriter(events.Config{
			Brokers: cfg.Events.Brokers,
			Topic:   cfg.Events.Topic,
			Timeout: cfg.Events.Timeout,
		})
		a.publisher = events.NewPublisher(writer, cfg.Events.Timeout, logger.With("component", "events"))
		observers = append(observers, a.publisher)
		logger.Info("dispatch events enabled", "brokers", cfg.Events.Brokers, "topic", cfg.Events.Topic)
	}

	coordinator := dispatch.NewCoordinator(a.registry, cfg.DispatchConfig(), logger.With("component", "dispatch"), observers...)
	a.dispatcher = dispatch.NewService(a.templates, engine, coordinator, logger.With("component", "dispatch"))

	if cfg.RateLimit.Enabled {
		a.rateLimiter, err = ratelimit.NewLimiter(a.db, cfg.RateLimitConfig())
		if err != nil {
			return fmt.Errorf("failed to create rate limiter: %w", err)
		}
		logger.Info("rate limiting enabled")
	}

	if cfg.HasTLS() {
		a.tlsServer, err = heraldTLS.New(cfg.TLS())
		if err != nil {
			return fmt.Errorf("failed to setup TLS: %w", err)
		}
		if cfg.API.TLS.ACME.Enabled {
			logger.Info("ACME enabled", "domains", cfg.API.TLS.ACME.Domains, "email", cfg.API.TLS.ACME.Email)
		}
	}

	a.apiServer = api.NewServer(&cfg.API, api.Options{
		Templates:  a.templates,
		Engine:     engine,
		Dispatcher: a.dispatcher,
		Drivers:    a.registry,
		Sandbox:    sandboxStorage,
		Limiter:    a.rateLimiter,
		Collector:  a.collector,
		Version:    version,
	}, logger.With("component", "api"))

	return nil
}

// buildSenders creates one sender per enabled driver
func buildSenders(ctx context.Context, cfg *config.Config, logger *slog.Logger) ([]notify.Sender, error) {
	p := cfg.Providers
	httpClient := provider.NewHTTPClient(p.HTTPTimeout)
	var senders []notify.Sender

	if p.FCM.Enabled {
		client, err := fcm.NewClient(ctx, fcm.Config{ProjectID: p.FCM.ProjectID, CredentialsFile: p.FCM.CredentialsFile})
		if err != nil {
			return nil, fmt.Errorf("failed to create fcm client: %w", err)
		}
		senders = append(senders, fcm.NewSender(client, logger.With("driver", fcm.Driver)))
	}
	if p.APNs.Enabled {
		client, err := apns.NewClient(apns.Config{
			KeyID:      p.APNs.KeyID,
			TeamID:     p.APNs.TeamID,
			BundleID:   p.APNs.BundleID,
			KeyFile:    p.APNs.KeyFile,
			KeyContent: p.APNs.KeyContent,
			Production: p.APNs.Production,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create apns client: %w", err)
		}
		senders = append(senders, apns.NewSender(client, p.APNs.BundleID, logger.With("driver", apns.Driver)))
	}
	if p.WebPush.Enabled {
		senders = append(senders, webpush.NewSender(webpush.Config{
			Subscriber:      p.WebPush.Subscriber,
			VAPIDPublicKey:  p.WebPush.VAPIDPublicKey,
			VAPIDPrivateKey: p.WebPush.VAPIDPrivateKey,
			TTL:             p.WebPush.TTL,
		}, httpClient, logger.With("driver", webpush.Driver)))
	}
	if p.Netfun.Enabled {
		senders = append(senders, netfun.NewSender(netfun.Config{
			Endpoint: p.Netfun.Endpoint,
			APIToken: p.Netfun.APIToken,
			SenderID: p.Netfun.SenderID,
		}, httpClient, logger.With("driver", netfun.Driver)))
	}
	if p.Twilio.Enabled {
		senders = append(senders, twilio.NewSender(twilio.Config{
			BaseURL:             p.Twilio.BaseURL,
			AccountSID:          p.Twilio.AccountSID,
			AuthToken:           p.Twilio.AuthToken,
			From:                p.Twilio.From,
			MessagingServiceSID: p.Twilio.MessagingServiceSID,
		}, httpClient, logger.With("driver", twilio.Driver)))
	}
	if p.Telegram.Enabled {
		senders = append(senders, telegram.NewSender(telegram.Config{
			BaseURL:  p.Telegram.BaseURL,
			BotToken: p.Telegram.BotToken,
		}, httpClient, logger.With("driver", telegram.Driver)))
	}
	if p.WhatsApp.Enabled {
		senders = append(senders, whatsapp.NewSender(whatsapp.Config{
			BaseURL:       p.WhatsApp.BaseURL,
			APIVersion:    p.WhatsApp.APIVersion,
			PhoneNumberID: p.WhatsApp.PhoneNumberID,
			AccessToken:   p.WhatsApp.AccessToken,
		}, httpClient, logger.With("driver", whatsapp.Driver)))
	}
	if p.SNS.Enabled {
		client, err := sns.NewClient(ctx, awsConfig(p.SNS.AWS))
		if err != nil {
			return nil, fmt.Errorf("failed to create sns client: %w", err)
		}
		senders = append(senders, sns.NewSender(client, p.SNS.SenderID, p.SNS.SMSType, logger.With("driver", sns.Driver)))
	}
	if p.SES.Enabled {
		client, err := ses.NewClient(ctx, awsConfig(p.SES.AWS))
		if err != nil {
			return nil, fmt.Errorf("failed to create ses client: %w", err)
		}
		senders = append(senders, ses.NewSender(client, p.SES.From, p.SES.ConfigurationSet, logger.With("driver", ses.Driver)))
	}
	if p.SMTP.Enabled {
		var signer *dkim.Signer
		if d := p.SMTP.DKIM; d.Enabled {
			key, err := dkim.LoadKey(d.KeyFile, d.Domain, d.Selector)
			if err != nil {
				return nil, fmt.Errorf("failed to load DKIM key: %w", err)
			}
			signer = dkim.NewSigner(key)
			logger.Info("DKIM signing enabled", "domain", d.Domain, "selector", d.Selector)
		}
		senders = append(senders, smtp.NewSender(smtp.Config{
			Host:               p.SMTP.Host,
			Port:               p.SMTP.Port,
			Username:           p.SMTP.Username,
			Password:           p.SMTP.Password,
			From:               p.SMTP.From,
			HeloName:           p.SMTP.HeloName,
			TLSMode:            p.SMTP.TLSMode,
			InsecureSkipVerify: p.SMTP.InsecureSkipVerify,
			Timeout:            p.SMTP.Timeout,
			Headers:            p.SMTP.Headers,
		}, signer, logger.With("driver", smtp.Driver)))
	}

	return senders, nil
}

func awsConfig(c config.AWSConfig) awsapi.Config {
	return awsapi.Config{Region: c.Region, AccessKeyID: c.AccessKeyID, SecretAccessKey: c.SecretAccessKey}
}

// Run starts the application and blocks until ctx is cancelled or a
// server fails
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	errCh := make(chan error, 3)

	if a.collector != nil {
		a.collector.Start(ctx)
	}

	if a.metricsServer != nil {
		go func() {
			a.logger.Info("starting metrics server", "addr", a.config.Metrics.ListenAddr)
			if err := a.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server error: %w", err)
			}
		}()
	}

	if a.tlsServer != nil {
		if a.config.API.TLS.ACME.Enabled {
			// HTTP-01 challenges and redirect to HTTPS
			a.acmeServer = &http.Server{
				Addr:              ":80",
				Handler:           a.tlsServer.ChallengeHandler(http.HandlerFunc(redirectHTTPS)),
				ReadHeaderTimeout: 10 * time.Second,
			}
			go func() {
				a.logger.Info("starting ACME HTTP challenge server", "addr", ":80")
				if err := a.acmeServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					a.logger.Error("ACME HTTP server error", "error", err)
				}
			}()
		}
		go func() {
			if err := a.apiServer.ListenAndServeTLS(a.tlsServer.Config); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("API server error: %w", err)
			}
		}()
	} else {
		go func() {
			if err := a.apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("API server error: %w", err)
			}
		}()
	}

	a.logger.Info("herald started",
		"hostname", a.config.Server.Hostname,
		"drivers", len(a.registry.Drivers()),
	)

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutting down...")
	case runErr = <-errCh:
		a.logger.Error("server error", "error", runErr)
	}

	if err := a.Shutdown(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

func redirectHTTPS(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "https://"+r.Host+r.URL.RequestURI(), http.StatusMovedPermanently)
}

// Shutdown gracefully shuts down the application
func (a *App) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var errs []error

	if a.acmeServer != nil {
		if err := a.acmeServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("ACME server shutdown: %w", err))
		}
	}
	if a.apiServer != nil {
		if err := a.apiServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("API server shutdown: %w", err))
		}
	}
	if a.metricsServer != nil {
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metrics server shutdown: %w", err))
		}
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("event publisher close: %w", err))
		}
	}
	if err := tracing.Stop(ctx, a.traceShutdown); err != nil {
		errs = append(errs, fmt.Errorf("tracing shutdown: %w", err))
	}

	if err := a.close(); err != nil {
		errs = append(errs, err)
	}

	a.logger.Info("shutdown complete")
	return errors.Join(errs...)
}

// close releases storage-backed components. Safe on a partially built App.
func (a *App) close() error {
	var errs []error
	if a.rateLimiter != nil {
		if err := a.rateLimiter.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("rate limiter stop: %w", err))
		}
		a.rateLimiter = nil
	}
	if a.collector != nil {
		if err := a.collector.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("metrics collector stop: %w", err))
		}
		a.collector = nil
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			errs = append(errs, fmt.Errorf("cache close: %w", err))
		}
		a.cache = nil
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("storage close: %w", err))
		}
		a.db = nil
	}
	return errors.Join(errs...)
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
