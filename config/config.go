package config

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v4"
)

type Config struct {
	Operational DatabaseConfig `yaml:"operational_db"`
	Panel       DatabaseConfig `yaml:"panel_db"`
	Kafka       KafkaConfig    `yaml:"kafka"`
	Redis       RedisConfig    `yaml:"redis"`
	SOAP        SOAPConfig     `yaml:"soap"`
	Sync        SyncConfig     `yaml:"sync"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

func (d DatabaseConfig) ConnString() string {
	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.Username, d.Password, d.Host, d.Port, d.DBName, sslMode)
}

type KafkaConfig struct {
	Host                   string `yaml:"host"`
	Port                   int    `yaml:"port"`
	StatusChangedTopicName string `yaml:"status_changed_topic_name"`
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type SOAPConfig struct {
	Environment    string `yaml:"environment"` // "production" | "test"
	UsuarioNombre  string `yaml:"usuario_nombre"`
	UsuarioClave   string `yaml:"usuario_clave"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	MinIntervalMS  int    `yaml:"min_interval_ms"`
	MaxAttempts    int    `yaml:"max_attempts"`
}

type SyncConfig struct {
	HTTPAddr    string `yaml:"http_addr"`
	SwaggerPath string `yaml:"swagger_path"`

	PollIntervalSeconds int `yaml:"poll_interval_seconds"`
	RateLimitPerMinute  int `yaml:"rate_limit_per_minute"`

	// "leave" keeps the record untouched when the remote history is empty
	// for a fresh tracking code; "placeholder" writes "Sin info" instead.
	EmptyHistoryPolicy string `yaml:"empty_history_policy"`

	// Category codes whose notifications get the tighter (urgent) age window.
	UrgentCategories []string `yaml:"urgent_categories"`

	CurrentStatusTTLSeconds int    `yaml:"current_status_ttl_seconds"`
	ReportDir               string `yaml:"report_dir"`
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	applyEnvOverrides(&config)
	return &config, nil
}

// Credentials never live in the YAML checked into deployment repos; they are
// injected through the environment and folded in here, once, at startup.
func applyEnvOverrides(c *Config) {
	if v := os.Getenv("SIAN_OPERATIONAL_DB_PASSWORD"); v != "" {
		c.Operational.Password = v
	}
	if v := os.Getenv("SIAN_PANEL_DB_PASSWORD"); v != "" {
		c.Panel.Password = v
	}
	if v := os.Getenv("SIAN_SOAP_USUARIO_NOMBRE"); v != "" {
		c.SOAP.UsuarioNombre = v
	}
	if v := os.Getenv("SIAN_SOAP_USUARIO_CLAVE"); v != "" {
		c.SOAP.UsuarioClave = v
	}
}
