package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config es la configuración completa de trfolio.
type Config struct {
	Broker     BrokerConfig     `yaml:"broker"`
	MarketData MarketDataConfig `yaml:"market_data"`
	Storage    StorageConfig    `yaml:"storage"`
	Log        LogConfig        `yaml:"log"`
}

// BrokerConfig configura la sesión y el socket del broker.
type BrokerConfig struct {
	Host            string `yaml:"host"`
	WebsocketURL    string `yaml:"websocket_url"`
	Locale          string `yaml:"locale"`
	PhoneNo         string `yaml:"phone_no"`
	PIN             string `yaml:"pin"`
	KeyFile         string `yaml:"key_file"`         // PEM con la clave del dispositivo
	CredentialsFile string `yaml:"credentials_file"` // teléfono y PIN, una línea cada uno
	TimeoutSeconds  int    `yaml:"timeout_seconds"`  // espera máxima por suscripción
}

// MarketDataConfig configura la fuente de precios externa.
type MarketDataConfig struct {
	SearchBase    string `yaml:"search_base"`
	ChartBase     string `yaml:"chart_base"`
	MaxConcurrent int    `yaml:"max_concurrent"`
}

// StorageConfig controla dónde se persiste el histórico.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // ruta al archivo SQLite, o ":memory:"
}

// LogConfig controla el formato y nivel de logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load carga la configuración desde el archivo YAML y el archivo .env
// si existe. Los valores del entorno sobreescriben los del YAML.
func Load(path string) (*Config, error) {
	// Cargar .env si existe (silencia error si no hay archivo)
	_ = godotenv.Load()

	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
		}
	case os.IsNotExist(err):
		// Sin archivo: todo por entorno y defaults.
	default:
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := loadCredentialsFile(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// SubscribeTimeout devuelve la espera máxima por suscripción.
func (c *Config) SubscribeTimeout() time.Duration {
	return time.Duration(c.Broker.TimeoutSeconds) * time.Second
}

// applyEnvOverrides sobreescribe valores con variables de entorno si
// están presentes. Las credenciales nunca deberían vivir en el YAML.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TR_PHONE_NO"); v != "" {
		cfg.Broker.PhoneNo = v
	}
	if v := os.Getenv("TR_PIN"); v != "" {
		cfg.Broker.PIN = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

// setDefaults asegura que los valores requeridos tengan valores sensatos.
func setDefaults(cfg *Config) {
	home, _ := os.UserHomeDir()
	base := home + "/.trfolio"

	if cfg.Broker.Host == "" {
		cfg.Broker.Host = "https://api.traderepublic.com"
	}
	if cfg.Broker.WebsocketURL == "" {
		cfg.Broker.WebsocketURL = "wss://api.traderepublic.com"
	}
	if cfg.Broker.Locale == "" {
		cfg.Broker.Locale = "de"
	}
	if cfg.Broker.KeyFile == "" {
		cfg.Broker.KeyFile = base + "/keyfile.pem"
	}
	if cfg.Broker.CredentialsFile == "" {
		cfg.Broker.CredentialsFile = base + "/credentials"
	}
	if cfg.Broker.TimeoutSeconds <= 0 {
		cfg.Broker.TimeoutSeconds = 5
	}
	if cfg.MarketData.MaxConcurrent <= 0 {
		cfg.MarketData.MaxConcurrent = 5
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = base + "/trfolio.db"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}

// loadCredentialsFile lee teléfono y PIN del archivo de credenciales
// cuando no vinieron ni por YAML ni por entorno.
func loadCredentialsFile(cfg *Config) error {
	if cfg.Broker.PhoneNo != "" && cfg.Broker.PIN != "" {
		return nil
	}

	data, err := os.ReadFile(cfg.Broker.CredentialsFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // el pairing interactivo pedirá las credenciales
		}
		return fmt.Errorf("config.Load: read credentials %q: %w", cfg.Broker.CredentialsFile, err)
	}

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) < 2 {
		return fmt.Errorf("config.Load: credentials file %q needs two lines (phone, pin)", cfg.Broker.CredentialsFile)
	}
	if cfg.Broker.PhoneNo == "" {
		cfg.Broker.PhoneNo = strings.TrimSpace(lines[0])
	}
	if cfg.Broker.PIN == "" {
		cfg.Broker.PIN = strings.TrimSpace(lines[1])
	}
	return nil
}
