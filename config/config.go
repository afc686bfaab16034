package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	ProviderMemory  = "memory"
	ProviderSQLite  = "sqlite"
	ProviderLevelDB = "leveldb"
)

type Config struct {
	Agent Agent `yaml:"agent"`
	Push  Push  `yaml:"push"`
}

type Agent struct {
	// Names the cache generations, change it to replace the cached application.
	Version string `yaml:"version"`
	Port    int    `yaml:"port"`
	// URL of the origin server the agent sits in front of.
	Origin string `yaml:"origin"`
	// Hostname for requests and TLS if the origin is an IP address.
	Host            string   `yaml:"host"`
	Precache        []string `yaml:"precache"`
	ApiPrefixes     []string `yaml:"apiPrefixes"`
	RootDocument    string   `yaml:"rootDocument"`
	OfflineDocument string   `yaml:"offlineDocument"`
	FallbackImage   string   `yaml:"fallbackImage"`
	NetworkTimeout  string   `yaml:"networkTimeout"`
	Store           Store    `yaml:"store"`

	originURL *url.URL
	timeout   time.Duration
}

func (a Agent) OriginURL() *url.URL {
	return a.originURL
}

func (a Agent) Timeout() time.Duration {
	return a.timeout
}

type Store struct {
	// memory, sqlite or leveldb
	Provider string `yaml:"provider"`
	Path     string `yaml:"path"`
}

type Push struct {
	Port int `yaml:"port"`
	// Directory with the frontend files, empty to serve none.
	Static      string `yaml:"static"`
	VAPID       VAPID  `yaml:"vapid"`
	TTL         string `yaml:"ttl"`
	Urgency     string `yaml:"urgency"`
	Concurrency int    `yaml:"concurrency"`
	// Remove subscriptions the push service reports as gone.
	PruneGone bool `yaml:"pruneGone"`
	// memory or sqlite
	Store Store `yaml:"store"`

	ttl time.Duration
}

func (p Push) TTLDuration() time.Duration {
	return p.ttl
}

type VAPID struct {
	PublicKey  string `yaml:"publicKey"`
	PrivateKey string `yaml:"privateKey"`
	Subject    string `yaml:"subject"`
}

// Default returns the configuration used for missing values.
func Default() Config {
	return Config{
		Agent: Agent{
			Version: "pwa-shop-v2",
			Port:    8080,
			Precache: []string{
				"/",
				"/index.html",
				"/styles.css",
				"/app.js",
				"/manifest.json",
				"/offline.html",
				"/assets/fallback-image.png",
			},
			ApiPrefixes:     []string{"/api/", "/v1/"},
			RootDocument:    "/index.html",
			OfflineDocument: "/offline.html",
			FallbackImage:   "/assets/fallback-image.png",
			NetworkTimeout:  "10s",
			Store:           Store{Provider: ProviderMemory},
		},
		Push: Push{
			Port: 3000,
			VAPID: VAPID{
				Subject: "mailto:you@example.com",
			},
			TTL:         "24h",
			Concurrency: 16,
			Store:       Store{Provider: ProviderMemory},
		},
	}
}

// Load reads the YAML file at path on top of the defaults and applies the
// environment overrides. An empty path loads defaults and environment only.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, err
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.applyEnv(os.Getenv); err != nil {
		return Config{}, err
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	if v := getenv("VAPID_PUBLIC"); v != "" {
		c.Push.VAPID.PublicKey = v
	}
	if v := getenv("VAPID_PRIVATE"); v != "" {
		c.Push.VAPID.PrivateKey = v
	}
	if v := getenv("CONTACT_EMAIL"); v != "" {
		c.Push.VAPID.Subject = v
	}
	if v := getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PORT: %w", err)
		}
		c.Push.Port = port
	}
	return nil
}

func (c *Config) validate() error {
	a := &c.Agent
	if a.Version == "" {
		return errors.New("agent.version is required")
	}
	if a.Port <= 0 || a.Port > 65535 {
		return fmt.Errorf("agent.port: invalid port %d", a.Port)
	}
	if a.Origin != "" {
		u, err := url.Parse(strings.TrimRight(a.Origin, "/"))
		if err != nil {
			return fmt.Errorf("agent.origin: %w", err)
		}
		if u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("agent.origin: %q is not an absolute URL", a.Origin)
		}
		if u.Path != "" {
			return fmt.Errorf("agent.origin: origins with paths are not supported")
		}
		a.originURL = u
	}
	for i, p := range a.Precache {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("agent.precache[%d]: %q must start with /", i, p)
		}
	}
	if a.NetworkTimeout != "" {
		d, err := time.ParseDuration(a.NetworkTimeout)
		if err != nil {
			return fmt.Errorf("agent.networkTimeout: %w", err)
		}
		a.timeout = d
	}
	if err := validateStore("agent.store", a.Store, ProviderMemory, ProviderSQLite, ProviderLevelDB); err != nil {
		return err
	}

	p := &c.Push
	if p.Port <= 0 || p.Port > 65535 {
		return fmt.Errorf("push.port: invalid port %d", p.Port)
	}
	if p.TTL != "" {
		d, err := time.ParseDuration(p.TTL)
		if err != nil {
			return fmt.Errorf("push.ttl: %w", err)
		}
		if d < 0 {
			return fmt.Errorf("push.ttl: must not be negative")
		}
		p.ttl = d
	}
	switch p.Urgency {
	case "", "very-low", "low", "normal", "high":
	default:
		return fmt.Errorf("push.urgency: invalid value %q", p.Urgency)
	}
	if p.Concurrency < 0 {
		return fmt.Errorf("push.concurrency: must not be negative")
	}
	return validateStore("push.store", p.Store, ProviderMemory, ProviderSQLite)
}

func validateStore(field string, s Store, providers ...string) error {
	for _, p := range providers {
		if s.Provider == p {
			if p != ProviderMemory && s.Path == "" {
				return fmt.Errorf("%s.path is required for provider %s", field, p)
			}
			return nil
		}
	}
	return fmt.Errorf("%s.provider: unknown provider %q", field, s.Provider)
}
