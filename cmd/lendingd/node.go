package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/nats-io/nats.go"

	engineconfig "intentlend/config"
	"intentlend/core/events"
	"intentlend/core/state"
	nativecommon "intentlend/native/common"
	"intentlend/native/lending"
	"intentlend/native/viewcache"
	"intentlend/observability"
	"intentlend/observability/logging"
	"intentlend/observability/metrics"
	"intentlend/services/eventbus"
	daemonconfig "intentlend/services/lendingd/config"
	"intentlend/services/viewsink"
	"intentlend/storage"
)

// node owns every long-lived resource behind the HTTP surface.
type node struct {
	engine    *lending.Engine
	db        storage.Database
	views     *viewcache.Cache
	publisher *eventbus.Publisher
	nc        *nats.Conn
	closers   []io.Closer
	logger    *slog.Logger
}

func openStorage(cfg *engineconfig.Config) (storage.Database, error) {
	switch cfg.StorageBackend {
	case "memory":
		return storage.NewMemDB(), nil
	case "leveldb", "":
		if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		db, err := storage.NewLevelDB(cfg.DataDir)
		if err != nil {
			return nil, fmt.Errorf("open leveldb: %w", err)
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", cfg.StorageBackend)
	}
}

// assemble opens storage and the optional sinks, then builds the engine with
// its emitter chain: websocket hub, metrics recorder and, when configured,
// the JetStream publisher.
func assemble(ctx context.Context, cfg daemonconfig.Config, engineCfg *engineconfig.Config, hub events.Emitter, logger *slog.Logger) (*node, error) {
	db, err := openStorage(engineCfg)
	if err != nil {
		return nil, err
	}
	n := &node{db: db, logger: logger}
	if err := n.build(ctx, cfg, engineCfg, hub); err != nil {
		n.Close()
		return nil, err
	}
	return n, nil
}

func (n *node) build(ctx context.Context, cfg daemonconfig.Config, engineCfg *engineconfig.Config, hub events.Emitter) error {
	n.views = viewcache.New()
	n.views.SetLogger(n.logger)
	if redisCfg := cfg.Sinks.Redis; redisCfg != nil {
		sink, err := viewsink.DialRedis(ctx, *redisCfg)
		if err != nil {
			return err
		}
		n.views.AddSink(sink)
		n.closers = append(n.closers, sink)
		n.logger.Info("view sink attached", "sink", sink.Name(), "addr", redisCfg.Addr)
	}
	if sqlCfg := cfg.Sinks.SQL; sqlCfg != nil {
		sink, err := viewsink.OpenSQL(sqlCfg.DSN)
		if err != nil {
			return err
		}
		n.views.AddSink(sink)
		n.closers = append(n.closers, sink)
		n.logger.Info("view sink attached", "sink", sink.Name(), logging.MaskField("dsn", sqlCfg.DSN))
	}

	prices, err := engineCfg.ParsedPrices()
	if err != nil {
		return err
	}
	oracle := lending.NewStaticOracle()
	for asset, price := range prices {
		oracle.Set(asset, price)
	}
	validators, err := engineCfg.Validators()
	if err != nil {
		return err
	}

	st := state.NewManager(n.db)
	reg, err := lending.NewRegistry(st, lending.Options{
		Config:     engineCfg.Lending,
		Accounts:   engineCfg.Accounts,
		Domain:     engineCfg.Domain.Signing(),
		Validators: validators,
		Oracle:     oracle,
		Views:      n.views,
	})
	if err != nil {
		return fmt.Errorf("assemble components: %w", err)
	}
	engine, err := lending.NewEngine(st, reg, engineCfg.Lending, engineCfg.Accounts)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	engine.SetLogger(n.logger)
	engine.SetPauses(nativecommon.NewPauseSet(engineCfg.Pauses.Modules()...))

	roles, err := engineCfg.ParsedRoles()
	if err != nil {
		return err
	}
	if err := engine.SeedRoles(roles); err != nil {
		return fmt.Errorf("seed roles: %w", err)
	}

	emitters := []events.Emitter{hub, observability.NewEventRecorder(metrics.Lending())}
	if url := cfg.NATS.URL; url != "" {
		nc, js, err := eventbus.Connect(ctx, url)
		if err != nil {
			return err
		}
		n.nc = nc
		n.publisher = eventbus.NewPublisher(js, cfg.NATS.Buffer)
		n.publisher.SetLogger(n.logger)
		emitters = append(emitters, n.publisher)
		n.logger.Info("event forwarding enabled", logging.MaskField("url", url))
	}
	st.SetEmitter(events.Multi(emitters...))

	n.engine = engine
	n.logger.Info("engine ready",
		"storage", engineCfg.StorageBackend,
		"sinks", n.views.Sinks(),
		"chainId", engineCfg.Domain.ChainID,
		"eventBus", n.publisher != nil)
	return nil
}

// healthHandler reports liveness together with the attached view sinks.
func (n *node) healthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status := map[string]any{
			"status": "ok",
			"sinks":  n.views.Sinks(),
		}
		if n.nc != nil {
			status["nats"] = n.nc.Status().String()
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(status)
	})
}

func (n *node) droppedEvents() uint64 {
	if n.publisher == nil {
		return 0
	}
	return n.publisher.Dropped()
}

// Close releases sinks, the NATS connection and storage in reverse order of
// acquisition.
func (n *node) Close() error {
	var errs []error
	if n.nc != nil {
		if err := n.nc.Drain(); err != nil {
			errs = append(errs, err)
		}
	}
	for i := len(n.closers) - 1; i >= 0; i-- {
		if err := n.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if n.db != nil {
		n.db.Close()
	}
	return errors.Join(errs...)
}

func buildTLSConfig(cfg daemonconfig.TLSConfig) (*tls.Config, error) {
	if cfg.CertPath == "" && cfg.KeyPath == "" {
		if !cfg.AllowInsecure {
			return nil, errors.New("certificate and key are required unless allow_insecure is set")
		}
		return nil, nil
	}
	cert, err := tls.LoadX509KeyPair(cfg.CertPath, cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("load TLS key pair: %w", err)
	}
	tlsCfg := &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}
	if cfg.MTLSEnabled() {
		data, err := os.ReadFile(cfg.ClientCAPath)
		if err != nil {
			return nil, fmt.Errorf("read client CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(data) {
			return nil, fmt.Errorf("parse client CA file %s", cfg.ClientCAPath)
		}
		tlsCfg.ClientCAs = pool
		tlsCfg.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return tlsCfg, nil
}
