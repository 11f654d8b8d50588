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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const minimalConfig = `
[routes.health]
path = "/health"
`

func TestLoadConfigFile(t *testing.T) {
	path := writeConfigFile(t, `
[server]
port = 9090
shutdown_timeout = "5s"

[logging]
level = "debug"
format = "console"

[metrics]
enabled = true
port = 9200

[routes.health]
path = "/health"

[routes.get_app]
path = "/app/{id}"
method = "get"
handler = "app_get"
latency = "250ms"

[routes.teapot]
path = "/teapot"
status = 418
response_body = '{"short":"stout"}'
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, 9200, cfg.Metrics.Port)
	require.Len(t, cfg.Routes, 3)

	getApp := cfg.Routes["get_app"]
	assert.Equal(t, "/app/{id}", getApp.Path)
	assert.Equal(t, "GET", getApp.Method, "method is upper-cased")
	assert.Equal(t, HandlerAppGet, getApp.Handler)
	assert.Equal(t, 250*time.Millisecond, getApp.Latency)

	teapot := cfg.Routes["teapot"]
	assert.Equal(t, 418, teapot.Status)
	assert.Equal(t, `{"short":"stout"}`, teapot.ResponseBody)
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfigFile(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 15*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.False(t, cfg.Metrics.Enabled)

	health := cfg.Routes["health"]
	assert.Equal(t, "GET", health.Method)
	assert.Equal(t, HandlerStatic, health.Handler)
	assert.Equal(t, 200, health.Status)
	assert.Equal(t, time.Duration(0), health.Latency)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	path := writeConfigFile(t, `
[server]
port = 8080

[routes.get_app]
path = "/app/{id}"
handler = "app_get"
latency = "100ms"
`)

	// Double underscore survives as a literal underscore in the key, so
	// ROUTES_GET__APP_LATENCY addresses routes.get_app.latency.
	t.Setenv("MOCKAPI_SERVER_PORT", "9999")
	t.Setenv("MOCKAPI_LOGGING_LEVEL", "warn")
	t.Setenv("MOCKAPI_ROUTES_GET__APP_LATENCY", "250ms")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, 250*time.Millisecond, cfg.Routes["get_app"].Latency)
	assert.Equal(t, "/app/{id}", cfg.Routes["get_app"].Path, "file values survive next to the override")
}

func TestLoadConfigBareMillisecondLatency(t *testing.T) {
	cfg, err := LoadConfig(writeConfigFile(t, `
[routes.slow]
path = "/slow"
latency = 500

[routes.slower]
path = "/slower"
latency = "750ms"
`))
	require.NoError(t, err)

	assert.Equal(t, 500*time.Millisecond, cfg.Routes["slow"].Latency, "bare integers are milliseconds")
	assert.Equal(t, 750*time.Millisecond, cfg.Routes["slower"].Latency)

	t.Setenv("MOCKAPI_ROUTES_SLOW_LATENCY", "1200")
	cfg, err = LoadConfig(writeConfigFile(t, minimalConfig+`
[routes.slow]
path = "/slow"
`))
	require.NoError(t, err)
	assert.Equal(t, 1200*time.Millisecond, cfg.Routes["slow"].Latency, "bare-ms hook applies to env values too")
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfig)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  string
		wantErr string
	}{
		{"no routes", `
[server]
port = 8080
`, "at least one route"},
		{"bad port", `
[server]
port = 70000

[routes.health]
path = "/health"
`, "server.port"},
		{"metrics port clash", `
[metrics]
enabled = true
port = 8080

[routes.health]
path = "/health"
`, "metrics.port must differ"},
		{"route without path", `
[routes.health]
method = "GET"
`, "path is required"},
		{"relative path", `
[routes.health]
path = "health"
`, "must start with '/'"},
		{"unknown method", `
[routes.health]
path = "/health"
method = "FETCH"
`, "unknown method"},
		{"unknown handler", `
[routes.health]
path = "/health"
handler = "app_delete"
`, "unknown handler kind"},
		{"bad status", `
[routes.health]
path = "/health"
status = 42
`, "valid HTTP status"},
		{"negative latency", `
[routes.health]
path = "/health"
latency = "-5ms"
`, "latency must not be negative"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfigFile(t, tc.config))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrConfig)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}
