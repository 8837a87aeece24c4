// Package backends builds a remote.Store from configuration.
package backends

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"

	"github.com/fruitsalade/drivegate/internal/logging"
	"github.com/fruitsalade/drivegate/internal/remote"
	"github.com/fruitsalade/drivegate/internal/remote/fsstore"
	"github.com/fruitsalade/drivegate/internal/remote/graph"
	"github.com/fruitsalade/drivegate/internal/remote/s3"
)

// Config selects a backend. Local, S3 and Graph hold the raw settings of
// the matching type and are decoded only when that type is chosen.
type Config struct {
	Type      string         `mapstructure:"type" validate:"required,oneof=local memory s3 graph"`
	RateLimit float64        `mapstructure:"rate_limit" validate:"gte=0"`
	Burst     int            `mapstructure:"burst" validate:"gte=0"`
	Local     map[string]any `mapstructure:"local"`
	S3        map[string]any `mapstructure:"s3"`
	Graph     map[string]any `mapstructure:"graph"`
}

var validate = validator.New()

// Open creates the configured store and wraps it in the rate limiter.
func Open(ctx context.Context, cfg Config) (remote.Store, error) {
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid remote config: %w", err)
	}

	var (
		store remote.Store
		err   error
	)
	switch cfg.Type {
	case "memory":
		var c fsstore.Config
		if err := decode(cfg.Local, &c); err != nil {
			return nil, err
		}
		store = fsstore.NewMemory(c.RootName)
	case "local":
		var c fsstore.Config
		if err := decode(cfg.Local, &c); err != nil {
			return nil, err
		}
		if c.RootPath == "" {
			return nil, fmt.Errorf("remote.local.root_path is required")
		}
		store, err = fsstore.NewLocal(c)
	case "s3":
		var c s3.Config
		if err := decode(cfg.S3, &c); err != nil {
			return nil, err
		}
		if err := validate.Struct(c); err != nil {
			return nil, fmt.Errorf("invalid s3 config: %w", err)
		}
		store, err = s3.New(ctx, c)
	case "graph":
		var c graph.Config
		if err := decode(cfg.Graph, &c); err != nil {
			return nil, err
		}
		if err := validate.Struct(c); err != nil {
			return nil, fmt.Errorf("invalid graph config: %w", err)
		}
		store, err = graph.New(ctx, c)
	default:
		return nil, fmt.Errorf("unknown remote type: %s", cfg.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Type, err)
	}

	logging.Info("remote store ready",
		zap.String("type", store.Type()),
		zap.Float64("rate_limit", cfg.RateLimit),
		zap.Int("burst", cfg.Burst))
	return remote.Throttle(store, cfg.RateLimit, cfg.Burst), nil
}

func decode(in map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(in); err != nil {
		return fmt.Errorf("decode remote settings: %w", err)
	}
	return nil
}
