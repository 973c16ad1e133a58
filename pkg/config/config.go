package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	kerrors "k8s.io/apimachinery/pkg/util/errors"

	"sgrouter/pkg/hashring"
	"sgrouter/pkg/partition"
)

var ErrInvalidConfig = errors.New("invalid config")

const hashMethodRange = "range"

// Config - корневая структура конфигурации приложения
// yaml и validate теги для парсинга и валидации

type Config struct {
	Logger    LoggerConfig    `yaml:"logger" validate:"required"`
	Server    ServerConfig    `yaml:"http-server" validate:"required"`
	Router    RouterConfig    `yaml:"router" validate:"required"`
	Transport TransportConfig `yaml:"transport"`
	ZooKeeper ZooKeeperConfig `yaml:"zookeeper"`
}

type LoggerConfig struct {
	Level string `yaml:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`
	JSON  bool   `yaml:"json"`
}

// ServerConfig describes the host node.
type ServerConfig struct {
	Port int `yaml:"port" validate:"required,min=1,max=65535"`
	// Advertise is the host name registered for this node, "localhost:{port}" when empty.
	Advertise string `yaml:"advertise"`
	// Partitions this node serves.
	Partitions []int `yaml:"partitions"`
}

// RouterConfig describes how keys map to hosts.
type RouterConfig struct {
	Partitions   int    `yaml:"partitions" validate:"required,min=1"`
	VirtualNodes int    `yaml:"virtual_nodes" validate:"min=0"`
	Policy       string `yaml:"policy" validate:"oneof=sticky uniform random"`
	KeyPattern   string `yaml:"key_pattern"`
	// HashMethod "range" partitions integer keys by RangeStart and RangeSize.
	HashMethod string   `yaml:"hash_method" validate:"omitempty,oneof=modulo md5 range"`
	RangeStart int64    `yaml:"range_start"`
	RangeSize  int64    `yaml:"range_size" validate:"required_if=HashMethod range"`
	Resource   string   `yaml:"resource" validate:"required"`
	Hosts      []string `yaml:"hosts"`
}

type TransportConfig struct {
	Timeout     time.Duration `yaml:"timeout"`
	Compression bool          `yaml:"compression"`
}

// ZooKeeperConfig enables dynamic membership when Servers is non-empty.
type ZooKeeperConfig struct {
	Servers        []string      `yaml:"servers"`
	Root           string        `yaml:"root"`
	SessionTimeout time.Duration `yaml:"session_timeout"`
}

func (z ZooKeeperConfig) Enabled() bool { return len(z.Servers) > 0 }

// Default returns a baseline development config.
func Default() Config {
	return Config{
		Logger: LoggerConfig{
			Level: "DEBUG",
			JSON:  false,
		},
		Server: ServerConfig{
			Port:       8080,
			Partitions: []int{0},
		},
		Router: RouterConfig{
			Partitions:   10,
			VirtualNodes: hashring.DefaultVirtualNodes,
			Policy:       "sticky",
			KeyPattern:   `greetings/(.*)\?`,
			HashMethod:   "modulo",
			Resource:     "greetings",
		},
		Transport: TransportConfig{
			Timeout:     3 * time.Second,
			Compression: false,
		},
		ZooKeeper: ZooKeeperConfig{
			Root:           "/sgrouter",
			SessionTimeout: 5 * time.Second,
		},
	}
}

// Load reads a YAML file over Default(). A missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Info("config file not found, using default config", "path", path)
			return cfg, nil
		}
		return cfg, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs []error
	switch strings.ToUpper(c.Logger.Level) {
	case "DEBUG", "INFO", "WARN", "ERROR":
	default:
		errs = append(errs, fmt.Errorf("logger.level %q", c.Logger.Level))
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("http-server.port %d", c.Server.Port))
	}
	for _, p := range c.Server.Partitions {
		if p < 0 || p >= c.Router.Partitions {
			errs = append(errs, fmt.Errorf("http-server.partitions: %d out of range", p))
		}
	}
	if c.Router.Partitions < 1 {
		errs = append(errs, fmt.Errorf("router.partitions %d", c.Router.Partitions))
	}
	if c.Router.VirtualNodes < 0 {
		errs = append(errs, fmt.Errorf("router.virtual_nodes %d", c.Router.VirtualNodes))
	}
	if c.Router.Resource == "" {
		errs = append(errs, errors.New("router.resource is empty"))
	}
	if _, err := hashring.ParsePolicy(c.Router.Policy); err != nil {
		errs = append(errs, fmt.Errorf("router.policy: %w", err))
	}
	if _, err := c.Router.Partitioner(); err != nil {
		errs = append(errs, fmt.Errorf("router: %w", err))
	}
	if c.Transport.Timeout < 0 {
		errs = append(errs, fmt.Errorf("transport.timeout %s", c.Transport.Timeout))
	}
	if agg := kerrors.NewAggregate(errs); agg != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, agg)
	}
	return nil
}

// SlogLevel maps the configured level onto slog.
func (l LoggerConfig) SlogLevel() slog.Level {
	switch strings.ToUpper(l.Level) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// HashPolicy parses Policy.
func (r RouterConfig) HashPolicy() (hashring.HashPolicy, error) {
	return hashring.ParsePolicy(r.Policy)
}

// Partitioner builds the partition provider: range based when HashMethod is
// "range", a single partition when Partitions is 1, hash based on KeyPattern
// otherwise.
func (r RouterConfig) Partitioner() (partition.Provider, error) {
	if strings.EqualFold(strings.TrimSpace(r.HashMethod), hashMethodRange) {
		return partition.NewRangeBased(r.Partitions, r.KeyPattern, r.RangeStart, r.RangeSize)
	}
	if r.Partitions == 1 {
		return partition.Single{}, nil
	}
	method, err := partition.ParseHashMethod(r.HashMethod)
	if err != nil {
		return nil, err
	}
	return partition.NewHashBased(r.Partitions, r.KeyPattern, method)
}
