package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/Aidin1998/lotmarket/api"
	"github.com/Aidin1998/lotmarket/internal/auth"
	"github.com/Aidin1998/lotmarket/internal/config"
	"github.com/Aidin1998/lotmarket/internal/database"
	"github.com/Aidin1998/lotmarket/internal/ledger"
	"github.com/Aidin1998/lotmarket/internal/storage"
	"github.com/redis/go-redis/v9"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
)

type closer struct {
	name string
	fn   func() error
}

// closers runs registered shutdown hooks in reverse order.
type closers []closer

func (c *closers) add(name string, fn func() error) {
	*c = append(*c, closer{name: name, fn: fn})
}

func (c *closers) closeAll(log *zap.Logger) {
	for i := len(*c) - 1; i >= 0; i-- {
		h := (*c)[i]
		if err := h.fn(); err != nil {
			log.Error("Failed to close", zap.String("component", h.name), zap.Error(err))
		}
	}
	*c = nil
}

// openStore returns the configured backend scoped to the marketplace
// address, so several marketplaces can share one cluster.
func openStore(ctx context.Context, cfg config.StorageConfig, address string, cl *closers) (storage.Store, error) {
	var base storage.Store
	switch cfg.Driver {
	case "memory":
		base = storage.NewMemoryStore()
	case "badger":
		s, err := storage.NewBadgerStore(cfg.BadgerPath)
		if err != nil {
			return nil, err
		}
		cl.add("badger", s.Close)
		base = s
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:        cfg.RedisAddr,
			Password:    cfg.RedisPassword,
			DB:          cfg.RedisDB,
			DialTimeout: cfg.DialTimeout,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		cl.add("redis", client.Close)
		base = storage.NewRedisStore(client)
	case "etcd":
		client, err := clientv3.New(clientv3.Config{
			Endpoints:   cfg.EtcdEndpoints,
			DialTimeout: cfg.DialTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("etcd connect: %w", err)
		}
		cl.add("etcd", client.Close)
		base = storage.NewEtcdStore(client)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
	return storage.WithNamespace(base, address), nil
}

// openLedger also returns a Minter for development ledgers; sql ledgers are
// funded out of band and get none.
func openLedger(cfg config.LedgerConfig, log *zap.Logger, cl *closers) (ledger.Ledger, api.Minter, error) {
	if cfg.Driver == "memory" {
		l := ledger.NewMemoryLedger()
		return l, l, nil
	}
	db, err := database.Open(database.Options{
		Driver:       cfg.Driver,
		DSN:          cfg.DSN,
		MaxOpenConns: cfg.MaxOpenConns,
		MaxIdleConns: cfg.MaxIdleConns,
		ConnMaxLife:  time.Hour,
	}, log)
	if err != nil {
		return nil, nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, err
	}
	cl.add("database", sqlDB.Close)

	l := ledger.NewGormLedger(db, log)
	if err := l.AutoMigrate(); err != nil {
		return nil, nil, fmt.Errorf("ledger migration: %w", err)
	}
	if cfg.Driver == "sqlite" {
		return l, l, nil
	}
	return l, nil, nil
}

// recorderHistory caps what the development verifier keeps in memory.
const recorderHistory = 256

func newVerifier(ctx context.Context, cfg config.AuthConfig, log *zap.Logger, cl *closers) (auth.Verifier, error) {
	var nonces auth.NonceStore
	if cfg.NonceRedisAddr != "" && cfg.Scheme != "recorder" {
		client := redis.NewClient(&redis.Options{Addr: cfg.NonceRedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("nonce redis ping: %w", err)
		}
		cl.add("nonce redis", client.Close)
		nonces = auth.NewRedisNonceStore(client, "")
	}
	switch cfg.Scheme {
	case "recorder":
		log.Warn("Recorder auth trusts every claimed identity; use it for development only")
		return auth.NewBoundedRecorder(recorderHistory), nil
	case "jwt":
		return auth.NewJWTVerifier([]byte(cfg.JWTSecret), cfg.Issuer, nonces), nil
	case "evm":
		return auth.NewEVMVerifier(nonces, cfg.ProofTTL), nil
	default:
		return nil, fmt.Errorf("unsupported auth scheme %q", cfg.Scheme)
	}
}

// setupTracing installs a stdout span exporter when tracing is enabled. The
// returned function flushes and stops the provider.
func setupTracing(cfg config.TracingConfig) (func(context.Context) error, error) {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(os.Stderr))
	if err != nil {
		return nil, fmt.Errorf("stdout trace exporter: %w", err)
	}
	res, err := resource.Merge(resource.Default(),
		resource.NewSchemaless(attribute.String("service.name", cfg.ServiceName)))
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}
