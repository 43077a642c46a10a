// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"

	"labdevice-service/internal/protocol/serial"
)

// Config represents the application configuration
type Config struct {
	Server      ServerConfig       `mapstructure:"server"`
	Database    DatabaseConfig     `mapstructure:"database"`
	Security    SecurityConfig     `mapstructure:"security"`
	Logging     LoggingConfig      `mapstructure:"logging"`
	Device      DeviceConfig       `mapstructure:"device"`
	Controllers []ControllerConfig `mapstructure:"controllers"`
	App         AppConfig          `mapstructure:"app"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host" validate:"required"`
	Port            string        `mapstructure:"port" validate:"required"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	TLS             TLSConfig     `mapstructure:"tls"`
}

// TLSConfig represents TLS configuration
type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

// DatabaseConfig represents the operation journal database. When disabled
// the journal is kept in memory.
type DatabaseConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	User           string        `mapstructure:"user"`
	Password       string        `mapstructure:"password"`
	DBName         string        `mapstructure:"dbname"`
	SSLMode        string        `mapstructure:"sslmode"`
	MaxOpenConns   int           `mapstructure:"max_open_conns"`
	MaxIdleConns   int           `mapstructure:"max_idle_conns"`
	MaxLifetime    time.Duration `mapstructure:"max_lifetime"`
	MigrationsPath string        `mapstructure:"migrations_path"`
	Retention      time.Duration `mapstructure:"retention"`
}

// SecurityConfig represents security configuration
type SecurityConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level" validate:"required"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// DeviceConfig represents controller handling shared by all controllers
type DeviceConfig struct {
	OperationTimeout time.Duration   `mapstructure:"operation_timeout"`
	MaxRetryAttempts int             `mapstructure:"max_retry_attempts"`
	RetryDelay       time.Duration   `mapstructure:"retry_delay"`
	MaxRetryDelay    time.Duration   `mapstructure:"max_retry_delay"`
	Discovery        DiscoveryConfig `mapstructure:"discovery"`
}

// DiscoveryConfig controls serial port scanning
type DiscoveryConfig struct {
	BaudRates    []int         `mapstructure:"baud_rates"`
	ProbeTimeout time.Duration `mapstructure:"probe_timeout"`
	USBOnly      bool          `mapstructure:"usb_only"`
	Probe        bool          `mapstructure:"probe"`
}

// ControllerConfig describes one controller to open at startup
type ControllerConfig struct {
	Name              string          `mapstructure:"name"`
	Brand             string          `mapstructure:"brand"`
	Model             string          `mapstructure:"model"`
	Transport         TransportConfig `mapstructure:"transport"`
	Timeout           time.Duration   `mapstructure:"timeout"`
	MoveTimeoutFactor int             `mapstructure:"move_timeout_factor"`
	DescriptionReads  int             `mapstructure:"description_reads"`
}

// TransportConfig is a serial port or a serial-over-TCP bridge
type TransportConfig struct {
	Type     string `mapstructure:"type"`
	Port     string `mapstructure:"port"`
	BaudRate int    `mapstructure:"baud_rate"`
	Host     string `mapstructure:"host"`
	TCPPort  int    `mapstructure:"tcp_port"`
}

// Address returns the port name or host:port of the transport
func (t TransportConfig) Address() string {
	if strings.EqualFold(t.Type, "tcp") {
		return fmt.Sprintf("%s:%d", t.Host, t.TCPPort)
	}
	return t.Port
}

// AppConfig represents application metadata
type AppConfig struct {
	Name        string `mapstructure:"name" validate:"required"`
	Version     string `mapstructure:"version" validate:"required"`
	Environment string `mapstructure:"environment" validate:"required"`
	Debug       bool   `mapstructure:"debug"`
}

// Load loads configuration from path, or from config.yaml in the usual
// places when path is empty, overlaid with LABDEVICE_* environment
// variables. A missing config.yaml is not an error when searching.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/labdevice")
	}

	// Environment variable support
	v.SetEnvPrefix("LABDEVICE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	applyControllerDefaults(&config)

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8084")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "5m")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.tls.enabled", false)

	// Database defaults
	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "labdevice")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.max_lifetime", "5m")
	v.SetDefault("database.migrations_path", "migrations")
	v.SetDefault("database.retention", "720h")

	// Security defaults
	v.SetDefault("security.allowed_origins", []string{"*"})

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.max_size", 100)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age", 28)
	v.SetDefault("logging.compress", true)

	// Device defaults
	v.SetDefault("device.operation_timeout", "5m")
	v.SetDefault("device.max_retry_attempts", 3)
	v.SetDefault("device.retry_delay", "2s")
	v.SetDefault("device.max_retry_delay", "30s")
	v.SetDefault("device.discovery.baud_rates", []int{9600})
	v.SetDefault("device.discovery.probe_timeout", "500ms")
	v.SetDefault("device.discovery.usb_only", false)
	v.SetDefault("device.discovery.probe", true)

	// App defaults
	v.SetDefault("app.name", "labdevice-service")
	v.SetDefault("app.version", "1.0.0")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.debug", false)
}

// applyControllerDefaults fills per-controller settings that viper cannot
// default inside a list
func applyControllerDefaults(config *Config) {
	for i := range config.Controllers {
		c := &config.Controllers[i]
		c.Brand = strings.ToUpper(c.Brand)
		c.Transport.Type = strings.ToLower(c.Transport.Type)
		if c.Transport.Type == "" {
			c.Transport.Type = "serial"
		}
		if c.Transport.Type == "serial" && c.Transport.BaudRate == 0 {
			c.Transport.BaudRate = 9600
		}
		if c.Timeout == 0 {
			c.Timeout = 500 * time.Millisecond
		}
		if c.MoveTimeoutFactor == 0 {
			c.MoveTimeoutFactor = 10
		}
		if c.DescriptionReads == 0 {
			c.DescriptionReads = 4
		}
	}
}

// validate validates the configuration
func validate(config *Config) error {
	// Basic validation
	if config.Server.Host == "" {
		return fmt.Errorf("server.host is required")
	}
	if config.Server.Port == "" {
		return fmt.Errorf("server.port is required")
	}
	if config.Database.Enabled && config.Database.Host == "" {
		return fmt.Errorf("database.host is required when the database is enabled")
	}

	// Validate environment
	validEnvs := []string{"development", "staging", "production", "test"}
	if !slices.Contains(validEnvs, config.App.Environment) {
		return fmt.Errorf("app.environment must be one of: %v", validEnvs)
	}

	// Validate logging level
	validLevels := []string{"debug", "info", "warn", "error", "fatal"}
	if !slices.Contains(validLevels, config.Logging.Level) {
		return fmt.Errorf("logging.level must be one of: %v", validLevels)
	}

	for _, rate := range config.Device.Discovery.BaudRates {
		if !slices.Contains(serial.SupportedBaudRates, rate) {
			return fmt.Errorf("device.discovery.baud_rates: unsupported baud rate %d", rate)
		}
	}

	names := make(map[string]bool, len(config.Controllers))
	for i, c := range config.Controllers {
		if err := validateController(c); err != nil {
			return fmt.Errorf("controllers[%d]: %w", i, err)
		}
		if names[c.Name] {
			return fmt.Errorf("controllers[%d]: duplicate name %q", i, c.Name)
		}
		names[c.Name] = true
	}

	return nil
}

func validateController(c ControllerConfig) error {
	if c.Name == "" {
		return fmt.Errorf("name is required")
	}
	if c.Brand == "" {
		return fmt.Errorf("brand is required")
	}
	if c.Timeout < 0 || c.MoveTimeoutFactor < 1 || c.DescriptionReads < 1 {
		return fmt.Errorf("timeout, move_timeout_factor and description_reads must be positive")
	}

	switch c.Transport.Type {
	case "serial":
		if c.Transport.Port == "" {
			return fmt.Errorf("transport.port is required for serial transport")
		}
		if !slices.Contains(serial.SupportedBaudRates, c.Transport.BaudRate) {
			return fmt.Errorf("transport.baud_rate must be one of %v", serial.SupportedBaudRates)
		}
	case "tcp":
		if c.Transport.Host == "" {
			return fmt.Errorf("transport.host is required for tcp transport")
		}
		if c.Transport.TCPPort <= 0 || c.Transport.TCPPort > 65535 {
			return fmt.Errorf("transport.tcp_port must be between 1 and 65535")
		}
	default:
		return fmt.Errorf("transport.type must be serial or tcp, got %q", c.Transport.Type)
	}
	return nil
}

// DSN returns the lib/pq connection string
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

// GetDatabaseDSN returns the database connection string
func (c *Config) GetDatabaseDSN() string {
	return c.Database.DSN()
}

// GetServerAddr returns the server address
func (c *Config) GetServerAddr() string {
	return fmt.Sprintf("%s:%s", c.Server.Host, c.Server.Port)
}

// IsProduction checks if the environment is production
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// IsDevelopment checks if the environment is development
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}

// IsDebugEnabled checks if debug mode is enabled
func (c *Config) IsDebugEnabled() bool {
	return c.App.Debug || c.IsDevelopment()
}
