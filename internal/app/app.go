// Package app assembles the service from configuration. Both the API server
// and the operator CLI build their dependencies here.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"ecocredit.org/internal/action"
	"ecocredit.org/internal/auth"
	"ecocredit.org/internal/config"
	"ecocredit.org/internal/evidence"
	"ecocredit.org/internal/extract"
	"ecocredit.org/internal/httpapi"
	"ecocredit.org/internal/ledger"
	"ecocredit.org/internal/market"
	"ecocredit.org/internal/obs"
	"ecocredit.org/internal/pipeline"
	"ecocredit.org/internal/registry"
	"ecocredit.org/internal/review"
	"ecocredit.org/internal/store/pg"
	"ecocredit.org/internal/store/sqlite"
	"ecocredit.org/internal/stream"
	"ecocredit.org/internal/verify"
)

// App holds the wired components and whatever must be closed on shutdown.
type App struct {
	Config   config.Config
	Ledger   ledger.Service
	Actions  action.Store
	Registry registry.Registry
	Market   market.Store
	Stream   *stream.Stream
	// Events receives every domain event: the SSE stream plus NATS when configured.
	Events   stream.Publisher
	Pipeline *pipeline.Pipeline
	Review   *review.Gate
	Admins   auth.AdminPolicy

	// PG is set when storage.backend is postgres.
	PG *pg.Store

	evidence        evidence.Store
	evidenceHandler http.Handler
	closers         []func() error
}

// Build wires every component named by cfg. Callers must Close the result.
func Build(ctx context.Context, cfg config.Config) (_ *App, err error) {
	a := &App{
		Config: cfg,
		Stream: stream.New(),
		Admins: auth.NewAdminPolicy(cfg.Auth.AdminIdentities),
	}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	if cfg.Auth.Secret != "" {
		auth.SetSecret(cfg.Auth.Secret)
	}

	external, err := a.buildRegistry(ctx)
	if err != nil {
		return nil, err
	}
	if err := a.buildStorage(ctx, external); err != nil {
		return nil, err
	}
	if err := a.buildEvidence(ctx); err != nil {
		return nil, err
	}
	if err := a.buildEvents(); err != nil {
		return nil, err
	}

	var autoApprove []action.Category
	for _, c := range cfg.Pipeline.AutoApprove {
		autoApprove = append(autoApprove, action.Category(c))
	}
	a.Pipeline = pipeline.New(a.buildVerifier(), a.Actions, a.evidence, a.Events, pipeline.Config{
		AdapterTimeout: cfg.Extraction.Timeout,
		AutoApprove:    autoApprove,
	})
	a.Review = review.NewGate(a.Actions, a.Admins, a.Events)
	return a, nil
}

// buildRegistry returns the registry for backends that live outside the
// primary store, or nil when the store provides it.
func (a *App) buildRegistry(ctx context.Context) (registry.Registry, error) {
	rc := a.Config.Registry
	switch rc.Backend {
	case "store":
		return nil, nil
	case "memory":
		return registry.NewInMemory(), nil
	case "redis":
		r, err := registry.DialRedis(ctx, rc.RedisAddr, rc.RedisPassword, rc.RedisDB, rc.RedisPrefix)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, r.Close)
		return r, nil
	case "sqlite":
		r, err := sqlite.Open(rc.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite registry: %w", err)
		}
		a.closers = append(a.closers, r.Close)
		return r, nil
	case "remote":
		return registry.NewRemote(rc.RemoteURL, rc.RemoteToken, rc.RemoteTimeout), nil
	default:
		return nil, fmt.Errorf("unknown registry backend %q", rc.Backend)
	}
}

func (a *App) buildStorage(ctx context.Context, external registry.Registry) error {
	switch a.Config.Storage.Backend {
	case "memory":
		l := ledger.NewInMemory()
		reg := external
		if reg == nil {
			reg = registry.NewInMemory()
		}
		a.Ledger = l
		a.Registry = registry.WithAudit(reg)
		a.Actions = action.NewInMemory(a.Registry, l)
		a.Market = market.NewInMemory(l)
		return nil
	case "postgres":
		db := a.Config.Database
		var opts []pg.Option
		if external != nil {
			opts = append(opts, pg.WithRegistry(registry.WithAudit(external)))
		}
		s, err := pg.Open(db.DSN, pg.PoolConfig{
			MaxOpenConns:    db.MaxOpenConns,
			MaxIdleConns:    db.MaxIdleConns,
			ConnMaxLifetime: db.ConnMaxLifetime,
		}, opts...)
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		a.closers = append(a.closers, s.Close)
		if db.MigrateOnStart {
			if _, err := s.Migrator().Up(ctx); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
		}
		reg := external
		if reg == nil {
			reg = s
		}
		a.PG = s
		a.Ledger = s
		a.Registry = registry.WithAudit(reg)
		a.Actions = s
		a.Market = s
		return nil
	default:
		return fmt.Errorf("unknown storage backend %q", a.Config.Storage.Backend)
	}
}

func (a *App) buildEvidence(ctx context.Context) error {
	ec := a.Config.Evidence
	switch ec.Backend {
	case "none":
		return nil
	case "file":
		fs, err := evidence.NewFileStore(ec.Dir, ec.BaseURL)
		if err != nil {
			return err
		}
		a.evidence = fs
		a.evidenceHandler = fs.Handler()
		return nil
	case "s3":
		s, err := evidence.NewS3Store(ctx, evidence.S3Config{
			Bucket:    ec.Bucket,
			Region:    ec.Region,
			Endpoint:  ec.Endpoint,
			Prefix:    ec.Prefix,
			PublicURL: ec.PublicURL,
		})
		if err != nil {
			return err
		}
		a.evidence = s
		return nil
	case "gcs":
		s, err := evidence.NewGCSStore(ctx, evidence.GCSConfig{
			Bucket:    ec.Bucket,
			Prefix:    ec.Prefix,
			PublicURL: ec.PublicURL,
		})
		if err != nil {
			return err
		}
		a.closers = append(a.closers, s.Close)
		a.evidence = s
		return nil
	default:
		return fmt.Errorf("unknown evidence backend %q", ec.Backend)
	}
}

func (a *App) buildEvents() error {
	a.Events = a.Stream
	ec := a.Config.Events
	if ec.NATSURL == "" {
		return nil
	}
	n, drain, err := stream.DialNATS(ec.NATSURL, ec.SubjectPrefix)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, drain)
	a.Events = stream.Fanout(a.Stream, n)
	return nil
}

func (a *App) buildVerifier() *verify.Dispatcher {
	xc := a.Config.Extraction
	var ocr verify.TextExtractor
	if xc.OCRURL != "" {
		ocr = extract.NewOCRClient(xc.OCRURL, xc.Timeout)
	} else {
		ocr = extract.NewTesseract(xc.TesseractPath)
	}
	var classifier verify.ImageClassifier
	if xc.ClassifierURL != "" {
		classifier = extract.NewClassifierClient(xc.ClassifierURL, xc.Timeout)
	} else {
		obs.Logger().Warn("no image classifier configured; recycling submissions will be rejected")
	}
	return verify.NewDefaultDispatcher(ocr, classifier)
}

// Ready reports whether the primary store answers.
func (a *App) Ready(ctx context.Context) error {
	if a.PG == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return a.PG.Ping(ctx)
}

// API builds the HTTP surface over the wired components.
func (a *App) API(version string) *httpapi.API {
	hc := a.Config.HTTP
	return httpapi.New(httpapi.Deps{
		Ledger:   a.Ledger,
		Actions:  a.Actions,
		Registry: a.Registry,
		Market:   a.Market,
		Pipeline: a.Pipeline,
		Review:   a.Review,
		Stream:   a.Stream,
		Events:   a.Events,
		Evidence: a.evidenceHandler,
		Ready:    httpapi.ReadyFunc(a.Ready),
		Admins:   a.Admins,
	}, httpapi.Options{
		Version:        version,
		AllowDevTokens: a.Config.Auth.AllowDevTokens,
		TokenTTL:       a.Config.Auth.TokenTTL,
		MaxBodyBytes:   hc.MaxBodyBytes,
		RateBurst:      hc.RateBurst,
		RatePerSecond:  hc.RatePerSecond,
		AllowedOrigins: hc.AllowedOrigins,
	})
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		obs.Logger().Warn("shutdown", slog.String("error", err.Error()))
		return err
	}
	return nil
}
