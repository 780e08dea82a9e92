package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rudransh-shrivastava/peer-drop/internal/protocol"
	"github.com/spf13/viper"
)

var (
	ErrInvalidDeviceName   = errors.New("device name must be set")
	ErrInvalidDeviceNameCh = errors.New("device name must not contain '|'")
	ErrInvalidServerPort   = errors.New("server port must be between 1 and 65535")
	ErrInvalidDiscovery    = errors.New("discovery port must be between 1 and 65535")
	ErrInvalidInterval     = errors.New("discovery interval must be positive")
	ErrInvalidTLSFiles     = errors.New("tls cert, key and ca files must be set")
	ErrInvalidDownloadDir  = errors.New("download directory must be set")
	ErrInvalidStallTimeout = errors.New("stall timeout must not be negative")
	ErrInvalidMaxFileSize  = fmt.Errorf("max file size must be between 1 and %d bytes", protocol.MaxFileSize)
)

const (
	DefaultServerPort    = 9999
	DefaultDiscoveryPort = 57143
	// DefaultMaxFileSize bounds what is held in memory for one transfer.
	DefaultMaxFileSize = 4 << 30
)

type Config struct {
	Device    DeviceConfig    `mapstructure:"device"`
	Server    ServerConfig    `mapstructure:"server"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	TLS       TLSConfig       `mapstructure:"tls"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Transfer  TransferConfig  `mapstructure:"transfer"`
}

type DeviceConfig struct {
	Name string `mapstructure:"name"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type DiscoveryConfig struct {
	Port     int           `mapstructure:"port"`
	Interval time.Duration `mapstructure:"interval"`
}

type TLSConfig struct {
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
	CAFile   string `mapstructure:"ca_file"`
}

type StorageConfig struct {
	DownloadDir string `mapstructure:"download_dir"`
	DBPath      string `mapstructure:"db_path"`
}

type TransferConfig struct {
	// StallTimeout bounds the wait for the next frame while a transfer is active. Zero disables it.
	StallTimeout time.Duration `mapstructure:"stall_timeout"`
	MaxFileSize  uint64        `mapstructure:"max_file_size"`
}

func NewDefaultConfig() *Config {
	name, err := os.Hostname()
	if err != nil || name == "" {
		name = "peerdrop"
	}

	downloadDir := "downloads"
	if home, err := os.UserHomeDir(); err == nil {
		downloadDir = filepath.Join(home, "Downloads", "peerdrop")
	}

	return &Config{
		Device: DeviceConfig{Name: name},
		Server: ServerConfig{Port: DefaultServerPort},
		Discovery: DiscoveryConfig{
			Port:     DefaultDiscoveryPort,
			Interval: 2 * time.Second,
		},
		TLS: TLSConfig{
			CertFile: filepath.Join("certs", "server-cert.pem"),
			KeyFile:  filepath.Join("certs", "server-key.pem"),
			CAFile:   filepath.Join("certs", "server-cert.pem"),
		},
		Storage: StorageConfig{
			DownloadDir: downloadDir,
			DBPath:      "peerdrop.sqlite3",
		},
		Transfer: TransferConfig{
			StallTimeout: 30 * time.Second,
			MaxFileSize:  DefaultMaxFileSize,
		},
	}
}

// SetDefaults registers every default with v so that env vars and config files
// only need to override what they change.
func SetDefaults(v *viper.Viper) {
	d := NewDefaultConfig()
	v.SetDefault("device.name", d.Device.Name)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("discovery.port", d.Discovery.Port)
	v.SetDefault("discovery.interval", d.Discovery.Interval)
	v.SetDefault("tls.cert_file", d.TLS.CertFile)
	v.SetDefault("tls.key_file", d.TLS.KeyFile)
	v.SetDefault("tls.ca_file", d.TLS.CAFile)
	v.SetDefault("storage.download_dir", d.Storage.DownloadDir)
	v.SetDefault("storage.db_path", d.Storage.DBPath)
	v.SetDefault("transfer.stall_timeout", d.Transfer.StallTimeout)
	v.SetDefault("transfer.max_file_size", d.Transfer.MaxFileSize)
}

func Load(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Device.Name == "" {
		return ErrInvalidDeviceName
	}
	for _, r := range c.Device.Name {
		if r == '|' {
			return ErrInvalidDeviceNameCh
		}
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return ErrInvalidServerPort
	}
	if c.Discovery.Port <= 0 || c.Discovery.Port > 65535 {
		return ErrInvalidDiscovery
	}
	if c.Discovery.Interval <= 0 {
		return ErrInvalidInterval
	}
	if c.TLS.CertFile == "" || c.TLS.KeyFile == "" || c.TLS.CAFile == "" {
		return ErrInvalidTLSFiles
	}
	if c.Storage.DownloadDir == "" {
		return ErrInvalidDownloadDir
	}
	if c.Transfer.StallTimeout < 0 {
		return ErrInvalidStallTimeout
	}
	if c.Transfer.MaxFileSize == 0 || c.Transfer.MaxFileSize > protocol.MaxFileSize {
		return ErrInvalidMaxFileSize
	}
	return nil
}
