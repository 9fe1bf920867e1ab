package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// Parse reads and strictly decodes the config file at path. YAML files are
// coerced to JSON first so both formats share the same strict decoder
// (DisallowUnknownFields catches typos early). The deployment env overlay
// is applied afterwards.
func Parse(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	jb, err := coerceToJSONBytes(path, b)
	if err != nil {
		return nil, err
	}

	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return nil, fmt.Errorf("invalid config: trailing data")
		}
		return nil, err
	}

	cfg.ApplyEnv()
	return &cfg, nil
}

// coerceToJSONBytes converts YAML content to JSON bytes; JSON passes
// through untouched.
func coerceToJSONBytes(path string, data []byte) ([]byte, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return data, nil
	}
	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("yaml unmarshal: %w", err)
	}
	j, err := json.Marshal(normalizeYAML(v))
	if err != nil {
		return nil, fmt.Errorf("yaml->json marshal: %w", err)
	}
	return j, nil
}

// normalizeYAML ensures all map keys are strings so the result can be
// JSON-marshaled.
func normalizeYAML(in any) any {
	switch x := in.(type) {
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[fmt.Sprint(k)] = normalizeYAML(v)
		}
		return m
	case map[string]any:
		for k, v := range x {
			x[k] = normalizeYAML(v)
		}
		return x
	case []any:
		for i := range x {
			x[i] = normalizeYAML(x[i])
		}
		return x
	default:
		return in
	}
}

// ApplyEnv overlays deployment environment variables onto cfg, matching
// the env surface commonly used in container setups. A set variable wins
// over the file value.
func (c *Config) ApplyEnv() {
	overlayApp := func(prefix string, app *AppConfig) {
		if v, ok := os.LookupEnv(prefix + "_URL"); ok {
			app.URL = strings.TrimSpace(v)
		}
		if v, ok := os.LookupEnv(prefix + "_API_KEY"); ok {
			app.APIKey = strings.TrimSpace(v)
		}
		if v, ok := os.LookupEnv(prefix + "_ENABLED"); ok {
			app.Enabled = envBool(v)
		}
	}
	overlayApp("SONARR", &c.Apps.Show)
	overlayApp("RADARR", &c.Apps.Movie)
	overlayApp("LIDARR", &c.Apps.Artist)

	if v, ok := os.LookupEnv("TAG_SEARCH"); ok {
		c.Tags.Search = strings.TrimSpace(v)
	}
	if v, ok := os.LookupEnv("TAG_DONE"); ok {
		c.Tags.Done = strings.TrimSpace(v)
	}
	if v, ok := os.LookupEnv("DRY_RUN"); ok {
		c.DryRun = envBool(v)
	}
	if v, ok := os.LookupEnv("STATE_DIR"); ok && strings.TrimSpace(v) != "" {
		c.State.Path = filepath.Join(strings.TrimSpace(v), "state.json")
	}
	if v, ok := os.LookupEnv("RANDOM_SEED"); ok {
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			c.Seed = n
		}
	}
	if v, ok := os.LookupEnv("TELEGRAM_TOKEN"); ok {
		c.Telegram.Token = strings.TrimSpace(v)
	}
	if v, ok := os.LookupEnv("TELEGRAM_CHAT_ID"); ok {
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			c.Telegram.ChatID = n
		}
	}
}

func envBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "y", "on":
		return true
	default:
		return false
	}
}
