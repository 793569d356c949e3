package offgate

import (
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Config carries everything the gateway needs to run. It is built once at
// startup and passed by value; handlers never reach for mutable globals.
type Config struct {
	// VersionToken is embedded in every partition name. Bumping it is the
	// only way to invalidate previously cached entries.
	VersionToken string `env:"OFFGATE_VERSION" envDefault:"v1"`

	// CachePrefix distinguishes this application's partitions from anything
	// else sharing the cache directory.
	CachePrefix string `env:"OFFGATE_CACHE_PREFIX" envDefault:"dentflow"`

	// Origin is the base URL of the portal backend, example: 'https://portal.dentflow.app'.
	Origin string `env:"OFFGATE_ORIGIN" envDefault:"http://127.0.0.1:8080"`

	// APIPathPrefix selects requests handled network-first.
	APIPathPrefix string `env:"OFFGATE_API_PREFIX" envDefault:"/api/"`

	// Manifest lists the app-shell asset paths precached on install.
	Manifest []string `env:"OFFGATE_MANIFEST" envSeparator:","`

	OfflineFallbackPath string `env:"OFFGATE_OFFLINE_PAGE" envDefault:"/offline.html"`
	ReportEndpoint      string `env:"OFFGATE_REPORT_ENDPOINT" envDefault:"/api/reports"`
	EventsPath          string `env:"OFFGATE_EVENTS_PATH" envDefault:"/api/events"`
	HealthPath          string `env:"OFFGATE_HEALTH_PATH" envDefault:"/api/health"`
	PortalRoot          string `env:"OFFGATE_PORTAL_ROOT" envDefault:"/portal/"`

	CacheDir  string `env:"OFFGATE_CACHE_DIR" envDefault:"/var/lib/offgate/cache"`
	StorePath string `env:"OFFGATE_STORE_PATH" envDefault:"/var/lib/offgate/offgate.db"`

	ListenAddr     string `env:"OFFGATE_LISTEN" envDefault:"127.0.0.1:8070"`
	PushServiceURL string `env:"OFFGATE_PUSH_URL"`
}

// defaultManifest covers the app shell served by the portal.
var defaultManifest = []string{
	"/",
	"/offline.html",
	"/static/css/app.css",
	"/static/js/app.js",
	"/static/img/icon-192.png",
	"/static/img/icon-512.png",
	"/manifest.webmanifest",
}

// LoadConfig reads the configuration from the environment and applies
// defaults for anything unset.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "env.Parse")
	}

	if len(cfg.Manifest) == 0 {
		cfg.Manifest = defaultManifest
	}
	cfg.Origin = strings.TrimSuffix(cfg.Origin, "/")

	log.Debugf("loaded config, version: %s, origin: %s", cfg.VersionToken, cfg.Origin)
	return cfg, nil
}

// StaticPartition returns the name of the partition holding precached
// app-shell assets.
func (c Config) StaticPartition() string {
	return c.CachePrefix + "-" + c.VersionToken + "-static"
}

// DynamicPartition returns the name of the partition holding same-origin
// pages and assets captured at runtime.
func (c Config) DynamicPartition() string {
	return c.CachePrefix + "-" + c.VersionToken + "-dynamic"
}

// APIPartition returns the name of the partition holding backend responses.
func (c Config) APIPartition() string {
	return c.CachePrefix + "-" + c.VersionToken + "-api"
}

// PartitionNames returns the three partition names valid for the current
// version token. Anything else carrying CachePrefix is stale.
func (c Config) PartitionNames() []string {
	return []string{c.StaticPartition(), c.DynamicPartition(), c.APIPartition()}
}

// IsAPIPath reports whether the request path belongs to the backend API.
func (c Config) IsAPIPath(path string) bool {
	return strings.HasPrefix(path, c.APIPathPrefix)
}
