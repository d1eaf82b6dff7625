package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config contains server configuration parameters.
type Config struct {
	LogLevel  int           `env:"LOG_LEVEL" envDefault:"0"`
	DeviceTTL time.Duration `env:"DEVICE_TTL" envDefault:"720h"`
	HTTP      HTTP          `envPrefix:"HTTP_"`
	Data      Data          `envPrefix:"DATA_"`
	JWT       JWT           `envPrefix:"JWT_"`
	Policy    Policy        `envPrefix:"POLICY_"`
}

// HTTP contains HTTP server parameters.
type HTTP struct {
	Port               string `env:"PORT" envDefault:"8080"`
	EnableHTTPS        bool   `env:"ENABLE_HTTPS" envDefault:"false"`
	CertFileName       string `env:"CERT_FILE_NAME" envDefault:"cert.pem"`
	PrivateKeyFileName string `env:"PRIVATE_KEY_FILE_NAME" envDefault:"key.pem"`
}

// Data contains persistence parameters.
type Data struct {
	Dir string `env:"DIR" envDefault:"data"`
}

// JWT contains device-session token parameters.
type JWT struct {
	Secret string `env:"SECRET" envDefault:"devsecret"`
}

// Policy points at the policy file holding voter requirements and role
// permission bundles. Empty means built-in defaults.
type Policy struct {
	File string `env:"FILE" envDefault:""`
}

// NewConfig loads configuration from environment variables.
func NewConfig() (*Config, error) {
	cfg := Config{}
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return &cfg, nil
}
