package config

import (
	"time"
)

type Config struct {
	Logger    LoggerConfig    `mapstructure:"logger"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Bluetooth BluetoothConfig `mapstructure:"bluetooth"`
	Attacks   AttackPolicy    `mapstructure:"attacks"`
	Audit     AuditConfig     `mapstructure:"audit"`
	Privilege PrivilegeConfig `mapstructure:"privilege"`
	Ollama    OllamaConfig    `mapstructure:"ollama"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Reporting ReportingConfig `mapstructure:"reporting"`
	Session   SessionConfig   `mapstructure:"session"`
}

type LoggerConfig struct {
	Level       string   `mapstructure:"level"`
	Format      string   `mapstructure:"format"`
	OutputPaths []string `mapstructure:"output_paths"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxConnections  int           `mapstructure:"max_connections"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type BluetoothConfig struct {
	Adapter      string        `mapstructure:"adapter"`
	ScanDuration time.Duration `mapstructure:"scan_duration"`
	Classic      bool          `mapstructure:"classic"`
	LowEnergy    bool          `mapstructure:"low_energy"`
}

// AttackPolicy governs whether and how disruptive scenarios run. It is
// constructed once and passed by value to every component that gates or
// supervises execution; there is no ambient mutable policy state.
type AttackPolicy struct {
	EthicalMode         bool          `mapstructure:"ethical_mode"`
	RequireConfirmation bool          `mapstructure:"require_confirmation"`
	MaxDuration         time.Duration `mapstructure:"max_duration"`
	WorkerCount         int           `mapstructure:"worker_count"`
	CancelGrace         time.Duration `mapstructure:"cancel_grace"`
	OutputBufferLines   int           `mapstructure:"output_buffer_lines"`
}

type AuditConfig struct {
	Path string `mapstructure:"path"`
}

type PrivilegeConfig struct {
	// Methods lists escalation strategies in preference order.
	// Supported values: pkexec, sudo, none.
	Methods []string `mapstructure:"methods"`
}

type OllamaConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Host    string        `mapstructure:"host"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type TelemetryConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	ServiceName  string  `mapstructure:"service_name"`
	ExporterType string  `mapstructure:"exporter_type"`
	Endpoint     string  `mapstructure:"endpoint"`
	SampleRate   float64 `mapstructure:"sample_rate"`
}

type ReportingConfig struct {
	OutputDirectory string `mapstructure:"output_directory"`
	Summarize       bool   `mapstructure:"summarize"`
}

type SessionConfig struct {
	Directory string `mapstructure:"directory"`
}

// DefaultConfig returns the built-in defaults. cmd/root.go layers flag
// and environment overrides on top via viper.
func DefaultConfig() *Config {
	return &Config{
		Logger: LoggerConfig{
			Level:       "info",
			Format:      "console",
			OutputPaths: []string{"stdout"},
		},
		Database: DatabaseConfig{
			Driver:          "sqlite",
			DSN:             "btsentry.db",
			MaxConnections:  5,
			MaxIdleConns:    2,
			ConnMaxLifetime: 1 * time.Hour,
		},
		Bluetooth: BluetoothConfig{
			Adapter:      "hci0",
			ScanDuration: 10 * time.Second,
			Classic:      true,
			LowEnergy:    true,
		},
		Attacks: AttackPolicy{
			EthicalMode:         true,
			RequireConfirmation: true,
			MaxDuration:         5 * time.Minute,
			WorkerCount:         3,
			CancelGrace:         5 * time.Second,
			OutputBufferLines:   1000,
		},
		Audit: AuditConfig{
			Path: "logs/audit.jsonl",
		},
		Privilege: PrivilegeConfig{
			Methods: []string{"pkexec", "sudo"},
		},
		Ollama: OllamaConfig{
			Enabled: false,
			Host:    "http://localhost:11434",
			Model:   "qwen2.5-coder:7b",
			Timeout: 60 * time.Second,
		},
		Telemetry: TelemetryConfig{
			Enabled:      false,
			ServiceName:  "btsentry",
			ExporterType: "otlp",
			Endpoint:     "localhost:4317",
			SampleRate:   1.0,
		},
		Reporting: ReportingConfig{
			OutputDirectory: "reports",
		},
		Session: SessionConfig{
			Directory: "sessions",
		},
	}
}
