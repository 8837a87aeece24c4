// Package config loads server configuration from an optional YAML file and
// DRIVEGATE_* environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/fruitsalade/drivegate/internal/auth"
	"github.com/fruitsalade/drivegate/internal/remote/backends"
	"github.com/fruitsalade/drivegate/internal/retry"
)

// EnvPrefix prefixes every environment override, e.g.
// DRIVEGATE_SERVER_LISTEN_ADDR.
const EnvPrefix = "DRIVEGATE"

// Config holds all server configuration.
type Config struct {
	Server ServerConfig `mapstructure:"server"`
	Log    LogConfig    `mapstructure:"log"`
	Policy PolicyConfig `mapstructure:"policy"`
	Remote RemoteConfig `mapstructure:"remote"`
	Poll   retry.Config `mapstructure:"poll"`
	Auth   auth.Config  `mapstructure:"auth"`
}

type ServerConfig struct {
	ListenAddr      string        `mapstructure:"listen_addr" validate:"required"`
	MetricsAddr     string        `mapstructure:"metrics_addr"`
	MaxUploadMemory int64         `mapstructure:"max_upload_memory" validate:"gt=0"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
	TLSCertFile     string        `mapstructure:"tls_cert_file" validate:"required_with=TLSKeyFile"`
	TLSKeyFile      string        `mapstructure:"tls_key_file" validate:"required_with=TLSCertFile"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=json console"`
	Output string `mapstructure:"output"`
}

// PolicyConfig names where the rule list comes from. File wins over
// DatabaseURL; with neither, nothing is restricted.
type PolicyConfig struct {
	File        string `mapstructure:"file"`
	DatabaseURL string `mapstructure:"database_url"`
	Role        string `mapstructure:"role"`
}

// RemoteConfig selects the backing store.
type RemoteConfig struct {
	backends.Config `mapstructure:",squash"`
	MaxDepth        int `mapstructure:"max_depth" validate:"gte=0"`
}

var validate = validator.New()

// Load reads configuration. path may be empty, in which case only
// defaults and the environment apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Log.Level = strings.ToLower(cfg.Log.Level)

	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	poll := retry.DefaultConfig()

	v.SetDefault("server.listen_addr", ":8080")
	v.SetDefault("server.metrics_addr", ":9090")
	v.SetDefault("server.max_upload_memory", 32<<20)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("server.tls_cert_file", "")
	v.SetDefault("server.tls_key_file", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output", "stdout")

	v.SetDefault("policy.file", "")
	v.SetDefault("policy.database_url", "")
	v.SetDefault("policy.role", "")

	v.SetDefault("remote.type", "local")
	v.SetDefault("remote.rate_limit", 20)
	v.SetDefault("remote.burst", 40)
	v.SetDefault("remote.max_depth", 64)
	v.SetDefault("remote.local.root_path", "/data/files")
	v.SetDefault("remote.local.root_name", "Files")
	// Registered so DRIVEGATE_REMOTE_S3_* and DRIVEGATE_REMOTE_GRAPH_* resolve.
	for _, key := range []string{"endpoint", "bucket", "access_key", "secret_key", "region", "root_name"} {
		v.SetDefault("remote.s3."+key, "")
	}
	for _, key := range []string{"tenant_id", "client_id", "client_secret", "site_id", "drive_id"} {
		v.SetDefault("remote.graph."+key, "")
	}

	v.SetDefault("poll.max_attempts", poll.MaxAttempts)
	v.SetDefault("poll.initial_wait", poll.InitialWait)
	v.SetDefault("poll.max_wait", poll.MaxWait)
	v.SetDefault("poll.multiplier", poll.Multiplier)
	v.SetDefault("poll.jitter", poll.Jitter)
	v.SetDefault("poll.timeout", poll.Timeout)

	v.SetDefault("auth.required", false)
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.oidc_issuer", "")
	v.SetDefault("auth.oidc_client_id", "")
	v.SetDefault("auth.role_claim", auth.DefaultRoleClaim)
	v.SetDefault("auth.default_role", "")
}
