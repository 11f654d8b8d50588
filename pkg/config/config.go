/*
 * Copyright (c) 2026, LoadLab contributors.
 *
 * LoadLab licenses this file to you under the Apache License,
 * Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.
 * You may obtain a copy of the License at
 *
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing,
 * software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
 * KIND, either express or implied.  See the License for the
 * specific language governing permissions and limitations
 * under the License.
 */

package config

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	toml "github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	// EnvPrefix is the prefix for environment variables used to configure the mock API
	EnvPrefix = "MOCKAPI_"
)

// ErrConfig is wrapped by every configuration load or validation failure.
// Callers treat it as fatal at startup.
var ErrConfig = errors.New("invalid configuration")

// Handler kinds selectable per route.
const (
	HandlerStatic    = "static"
	HandlerAppCreate = "app_create"
	HandlerAppList   = "app_list"
	HandlerAppGet    = "app_get"
)

// Config holds all configuration for the mock API
type Config struct {
	Server  ServerConfig           `koanf:"server"`
	Logging LoggingConfig          `koanf:"logging"`
	Metrics MetricsConfig          `koanf:"metrics"`
	Routes  map[string]RouteConfig `koanf:"routes"`
}

// ServerConfig holds the HTTP listener configuration
type ServerConfig struct {
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// MetricsConfig holds Prometheus metrics server configuration
type MetricsConfig struct {
	// Enabled indicates whether the metrics server should be started
	Enabled bool `koanf:"enabled"`

	// Port is the port for the metrics HTTP server
	Port int `koanf:"port"`
}

// RouteConfig describes a single configured route. The route set is the
// entire HTTP surface of the mock API; nothing is hard-coded.
type RouteConfig struct {
	// Path is the route template, with {param} placeholders for single
	// path segments (e.g. "/app/{id}").
	Path string `koanf:"path"`

	// Method is the HTTP method. Defaults to GET.
	Method string `koanf:"method"`

	// Latency is an artificial delay applied before the handler responds.
	// Accepts duration strings ("100ms") or bare integers (milliseconds).
	Latency time.Duration `koanf:"latency"`

	// Handler selects the handler kind: static, app_create, app_list, app_get.
	// Defaults to static.
	Handler string `koanf:"handler"`

	// Status is the response status for static routes. Defaults to 200.
	Status int `koanf:"status"`

	// ResponseBody is the JSON body for static routes.
	ResponseBody string `koanf:"response_body"`

	// BodySchema is an optional JSON schema applied to request bodies.
	BodySchema string `koanf:"body_schema"`
}

var validMethods = map[string]struct{}{
	"GET": {}, "POST": {}, "PUT": {}, "DELETE": {}, "PATCH": {},
	"HEAD": {}, "OPTIONS": {}, "TRACE": {}, "CONNECT": {},
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ShutdownTimeout: 15 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Port:    9100,
		},
	}
}

// LoadConfig loads configuration from an optional TOML file and the
// environment, applies defaults, and validates the result.
func LoadConfig(configPath string) (*Config, error) {
	cfg := defaultConfig()

	k := koanf.New(".")

	// Load config file if a path is provided
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: failed to load config file: %v", ErrConfig, err)
		}
	}

	// Load environment variables with prefix
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, EnvPrefix)
		s = strings.ToLower(s)

		// Double underscore survives as a literal underscore; single
		// underscore becomes a key separator. MOCKAPI_ROUTES_GET__APP_PATH
		// maps to routes.get_app.path.
		s = strings.ReplaceAll(s, "__", "%UNDERSCORE%")
		s = strings.ReplaceAll(s, "_", ".")
		s = strings.ReplaceAll(s, "%UNDERSCORE%", "_")
		return s
	}), nil); err != nil {
		return nil, fmt.Errorf("%w: failed to load environment variables: %v", ErrConfig, err)
	}

	// Unmarshal into Config struct with DecodeHooks for duration strings
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{
		DecoderConfig: &mapstructure.DecoderConfig{
			TagName:          "koanf",
			WeaklyTypedInput: true,
			Result:           cfg,
			DecodeHook:       DurationDecodeHook(),
		},
	}); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal config: %v", ErrConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// DurationDecodeHook decodes duration fields from either Go duration
// strings ("250ms") or bare integers interpreted as milliseconds.
func DurationDecodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		millisecondsToDurationHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
	)
}

var bareMillis = regexp.MustCompile(`^\d+$`)

// millisecondsToDurationHookFunc accepts bare integers as millisecond
// durations, matching the original latency configuration surface.
func millisecondsToDurationHookFunc() mapstructure.DecodeHookFunc {
	return func(f reflect.Type, t reflect.Type, data interface{}) (interface{}, error) {
		if t != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			if bareMillis.MatchString(v) {
				d, err := time.ParseDuration(v + "ms")
				return d, err
			}
		case int, int32, int64, float64:
			d, err := time.ParseDuration(fmt.Sprintf("%vms", v))
			return d, err
		}
		return data, nil
	}
}

// Validate checks the configuration for structural errors. Cross-route
// template checks (duplicates, ambiguity) happen in routespec.Build.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: server.port must be between 1 and 65535, got %d", ErrConfig, c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("%w: server.shutdown_timeout must be positive", ErrConfig)
	}
	if c.Metrics.Enabled {
		if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
			return fmt.Errorf("%w: metrics.port must be between 1 and 65535, got %d", ErrConfig, c.Metrics.Port)
		}
		if c.Metrics.Port == c.Server.Port {
			return fmt.Errorf("%w: metrics.port must differ from server.port", ErrConfig)
		}
	}
	if len(c.Routes) == 0 {
		return fmt.Errorf("%w: at least one route must be configured", ErrConfig)
	}

	for name, route := range c.Routes {
		normalized, err := route.normalized()
		if err != nil {
			return fmt.Errorf("%w: route %q: %v", ErrConfig, name, err)
		}
		c.Routes[name] = normalized
	}

	return nil
}

// normalized applies per-route defaults and validates a single route.
func (r RouteConfig) normalized() (RouteConfig, error) {
	if r.Path == "" {
		return r, errors.New("path is required")
	}
	if !strings.HasPrefix(r.Path, "/") {
		return r, fmt.Errorf("path %q must start with '/'", r.Path)
	}

	if r.Method == "" {
		r.Method = "GET"
	}
	r.Method = strings.ToUpper(r.Method)
	if _, ok := validMethods[r.Method]; !ok {
		return r, fmt.Errorf("unknown method %q", r.Method)
	}

	if r.Latency < 0 {
		return r, fmt.Errorf("latency must not be negative, got %s", r.Latency)
	}

	if r.Handler == "" {
		r.Handler = HandlerStatic
	}
	switch r.Handler {
	case HandlerStatic, HandlerAppCreate, HandlerAppList, HandlerAppGet:
	default:
		return r, fmt.Errorf("unknown handler kind %q", r.Handler)
	}

	if r.Status == 0 {
		r.Status = 200
	}
	if r.Status < 100 || r.Status > 599 {
		return r, fmt.Errorf("status must be a valid HTTP status code, got %d", r.Status)
	}

	return r, nil
}
