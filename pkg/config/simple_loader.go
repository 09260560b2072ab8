package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix for environment overrides, e.g. ROLEPOOL_DSN
const EnvPrefix = "ROLEPOOL"

// Load loads a Config from a YAML file. ${VAR} references are substituted from
// the environment, ROLEPOOL_* variables override top-level keys, and every
// databases.<name> section is overlaid on the defaults section.
func Load(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath) //nolint:gosec // G304: File path is controlled by caller
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	content := substituteEnvVars(string(data))

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadConfig(bytes.NewBufferString(content)); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	cfg := NewConfig("", "")
	cfg.Driver = v.GetString("driver")
	cfg.DSN = v.GetString("dsn")

	if err := v.UnmarshalKey("defaults", &cfg.Defaults); err != nil {
		return nil, fmt.Errorf("failed to decode defaults: %w", err)
	}
	if err := v.UnmarshalKey("logging", &cfg.Logging); err != nil {
		return nil, fmt.Errorf("failed to decode logging: %w", err)
	}
	if err := v.UnmarshalKey("metrics", &cfg.Metrics); err != nil {
		return nil, fmt.Errorf("failed to decode metrics: %w", err)
	}
	if err := v.UnmarshalKey("tracing", &cfg.Tracing); err != nil {
		return nil, fmt.Errorf("failed to decode tracing: %w", err)
	}

	for name := range v.GetStringMap("databases") {
		// Decoding into a copy of the defaults leaves unset keys at their default
		pc := cfg.Defaults
		if err := v.UnmarshalKey("databases."+name, &pc); err != nil {
			return nil, fmt.Errorf("failed to decode databases.%s: %w", name, err)
		}
		cfg.Databases[name] = pc
	}

	return cfg, nil
}

// Save saves a configuration to a YAML file
func Save(filePath string, cfg *Config) error {
	data, err := Marshal(cfg)
	if err != nil {
		return err
	}

	if err := os.WriteFile(filePath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Marshal renders a configuration as YAML
func Marshal(cfg *Config) ([]byte, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal YAML: %w", err)
	}
	return data, nil
}

func setDefaults(v *viper.Viper) {
	d := NewConfig("", "")
	v.SetDefault("defaults.max_pool_size", d.Defaults.MaxPoolSize)
	v.SetDefault("defaults.min_idle", d.Defaults.MinIdle)
	v.SetDefault("defaults.connection_timeout", d.Defaults.ConnectionTimeout)
	v.SetDefault("defaults.validation_timeout", d.Defaults.ValidationTimeout)
	v.SetDefault("defaults.idle_timeout", d.Defaults.IdleTimeout)
	v.SetDefault("defaults.max_lifetime", d.Defaults.MaxLifetime)
	v.SetDefault("defaults.security_policy", d.Defaults.SecurityPolicy)
	v.SetDefault("defaults.application_name", d.Defaults.ApplicationName)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.encoding", d.Logging.Encoding)
	v.SetDefault("metrics.namespace", d.Metrics.Namespace)
	v.SetDefault("metrics.listen", d.Metrics.Listen)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
}

// substituteEnvVars replaces ${VAR_NAME} with environment variable values.
// Substituted values are not expanded again.
func substituteEnvVars(content string) string {
	var b strings.Builder
	for {
		start := strings.Index(content, "${")
		if start == -1 {
			break
		}
		end := strings.Index(content[start:], "}")
		if end == -1 {
			break
		}
		end += start

		b.WriteString(content[:start])
		b.WriteString(os.Getenv(content[start+2 : end]))
		content = content[end+1:]
	}
	b.WriteString(content)
	return b.String()
}
