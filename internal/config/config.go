package config

import (
	"encoding/json"
	"os"
	"strconv"
	"sync"
)

// Config is the gateway's runtime configuration: defaults, optionally
// overlaid by a JSON file, then by environment variables.
type Config struct {
	mu sync.RWMutex

	Port string
	Host string

	Debug bool

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	SQLiteAuditPath string

	OAuthClientID     string
	OAuthClientSecret string
	OAuthTokenURL     string

	DefaultModel    string
	FallbackModel   string
	FallbackModelV2 string
}

// DefaultConfig returns a Config populated with the gateway's defaults.
func DefaultConfig() *Config {
	return &Config{
		Port:            "8080",
		Host:            "0.0.0.0",
		Debug:           false,
		RedisAddr:       "localhost:6379",
		RedisDB:         0,
		SQLiteAuditPath: "./gateway-audit.db",
		DefaultModel:    DefaultModel,
		FallbackModel:   FallbackModel,
		FallbackModelV2: FallbackModelV2,
	}
}

type fileOverlay struct {
	Port            string `json:"port"`
	Host            string `json:"host"`
	Debug           bool   `json:"debug"`
	RedisAddr       string `json:"redisAddr"`
	RedisPassword   string `json:"redisPassword"`
	RedisDB         int    `json:"redisDb"`
	SQLiteAuditPath string `json:"sqliteAuditPath"`
	OAuthClientID   string `json:"oauthClientId"`
	OAuthClientSecret string `json:"oauthClientSecret"`
	OAuthTokenURL   string `json:"oauthTokenUrl"`
}

// Load overlays a JSON config file (if present) and then environment
// variables on top of the current values. Missing files are not an error.
func (c *Config) Load(path string) error {
	if path != "" {
		if data, err := os.ReadFile(path); err == nil {
			var overlay fileOverlay
			if jsonErr := json.Unmarshal(data, &overlay); jsonErr != nil {
				return jsonErr
			}
			c.mu.Lock()
			if overlay.Port != "" {
				c.Port = overlay.Port
			}
			if overlay.Host != "" {
				c.Host = overlay.Host
			}
			c.Debug = overlay.Debug
			if overlay.RedisAddr != "" {
				c.RedisAddr = overlay.RedisAddr
			}
			if overlay.RedisPassword != "" {
				c.RedisPassword = overlay.RedisPassword
			}
			c.RedisDB = overlay.RedisDB
			if overlay.SQLiteAuditPath != "" {
				c.SQLiteAuditPath = overlay.SQLiteAuditPath
			}
			if overlay.OAuthClientID != "" {
				c.OAuthClientID = overlay.OAuthClientID
			}
			if overlay.OAuthClientSecret != "" {
				c.OAuthClientSecret = overlay.OAuthClientSecret
			}
			if overlay.OAuthTokenURL != "" {
				c.OAuthTokenURL = overlay.OAuthTokenURL
			}
			c.mu.Unlock()
		} else if !os.IsNotExist(err) {
			return err
		}
	}

	c.loadFromEnv()
	return nil
}

func (c *Config) loadFromEnv() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v := os.Getenv("GATEWAY_PORT"); v != "" {
		c.Port = v
	}
	if v := os.Getenv("GATEWAY_HOST"); v != "" {
		c.Host = v
	}
	if v := os.Getenv("GATEWAY_DEBUG"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Debug = b
		}
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.RedisPassword = v
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.RedisDB = n
		}
	}
	if v := os.Getenv("OAUTH_CLIENT_ID"); v != "" {
		c.OAuthClientID = v
	}
	if v := os.Getenv("OAUTH_CLIENT_SECRET"); v != "" {
		c.OAuthClientSecret = v
	}
	if v := os.Getenv("OAUTH_TOKEN_URL"); v != "" {
		c.OAuthTokenURL = v
	}
}

// IsDebug reports the current debug flag under the read lock.
func (c *Config) IsDebug() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Debug
}

// Addr returns the host:port listen address.
func (c *Config) Addr() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Host + ":" + c.Port
}
