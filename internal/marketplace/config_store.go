package marketplace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/Aidin1998/lotmarket/internal/storage"
	"github.com/Aidin1998/lotmarket/pkg/models"
)

const (
	configKey  = "config"
	counterKey = "counter"
)

// configStore owns the singleton MarketConfig and the next-id counter.
type configStore struct {
	kv storage.Store
}

func (c configStore) load(ctx context.Context) (models.MarketConfig, error) {
	raw, err := c.kv.Get(ctx, configKey)
	if errors.Is(err, storage.ErrNotFound) {
		return models.MarketConfig{}, nil
	}
	if err != nil {
		return models.MarketConfig{}, fmt.Errorf("read config: %w", err)
	}
	var cfg models.MarketConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return models.MarketConfig{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// initialize persists cfg once and resets the counter.
func (c configStore) initialize(ctx context.Context, paymentAsset models.AssetID, admin models.Identity) error {
	cfg, err := c.load(ctx)
	if err != nil {
		return err
	}
	if cfg.Initialized {
		return ErrAlreadyInitialized
	}
	raw, err := json.Marshal(models.MarketConfig{PaymentAsset: paymentAsset, Admin: admin, Initialized: true})
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := c.kv.Set(ctx, configKey, raw); err != nil {
		return err
	}
	return c.setCounter(ctx, 0)
}

// require returns the config, failing when initialize has not run.
func (c configStore) require(ctx context.Context) (models.MarketConfig, error) {
	cfg, err := c.load(ctx)
	if err != nil {
		return models.MarketConfig{}, err
	}
	if !cfg.Initialized {
		return models.MarketConfig{}, ErrNotInitialized
	}
	return cfg, nil
}

func (c configStore) counter(ctx context.Context) (uint64, error) {
	raw, err := c.kv.Get(ctx, counterKey)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read counter: %w", err)
	}
	n, err := strconv.ParseUint(string(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("decode counter: %w", err)
	}
	return n, nil
}

func (c configStore) setCounter(ctx context.Context, n uint64) error {
	return c.kv.Set(ctx, counterKey, []byte(strconv.FormatUint(n, 10)))
}
