package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/spf13/viper"
)

var (
	ErrInvalidChunkSize           = errors.New("transfer chunk size must be greater than 0")
	ErrInvalidMaxChunkSize        = errors.New("receiver max chunk size must not be below the sender chunk size")
	ErrInvalidTempSuffix          = errors.New("temp suffix must be set")
	ErrInvalidTimeout             = errors.New("network timeouts must be greater than 0")
	ErrInvalidMaxClients          = errors.New("max clients must not be negative")
	ErrInvalidLogFormat           = errors.New("log format must be text or json")
	ErrInvalidBufferConfig        = errors.New("buffered amount low threshold must be less than max buffered amount")
	ErrInvalidPacketSize          = errors.New("packet size must be greater than 0")
	ErrInvalidFirebaseConfig      = errors.New("Firebase credentials path must be set")
	ErrInvalidFirebaseProjectID   = errors.New("Firebase project ID must be set")
	ErrInvalidFirebaseDatabaseURL = errors.New("Firebase database URL must be set")
)

// EnvPrefix is prepended to every environment override, e.g. FTX_SERVER_ROOT.
const EnvPrefix = "FTX"

// Config holds all application configuration
type Config struct {
	Log      LogConfig      `mapstructure:"log"`
	Transfer TransferConfig `mapstructure:"transfer"`
	Network  NetworkConfig  `mapstructure:"network"`
	Server   ServerConfig   `mapstructure:"server"`
	WebRTC   WebRTCConfig   `mapstructure:"webrtc"`
	Firebase FirebaseConfig `mapstructure:"firebase"`
}

// LogConfig selects the logrus level and formatter
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TransferConfig holds chunking and receiver storage limits
type TransferConfig struct {
	ChunkSize      int    `mapstructure:"chunk_size"`
	TempSuffix     string `mapstructure:"temp_suffix"`
	MaxFileSize    uint64 `mapstructure:"max_file_size"`
	MaxChunkSize   int    `mapstructure:"max_chunk_size"`
	SeedBufferSize int    `mapstructure:"seed_buffer_size"`
}

// NetworkConfig holds byte-stream timeouts and TCP socket options
type NetworkConfig struct {
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	SendTimeout     time.Duration `mapstructure:"send_timeout"`
	ReceiveTimeout  time.Duration `mapstructure:"receive_timeout"`
	NoDelay         bool          `mapstructure:"no_delay"`
	ReadBufferSize  int           `mapstructure:"read_buffer_size"`
	WriteBufferSize int           `mapstructure:"write_buffer_size"`
	SegmentSize     int           `mapstructure:"segment_size"`
}

// ServerConfig holds receiver listener settings
type ServerConfig struct {
	ListenAddr   string        `mapstructure:"listen_addr"`
	Root         string        `mapstructure:"root"`
	MaxClients   int           `mapstructure:"max_clients"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	QueueDepth   int           `mapstructure:"queue_depth"`
}

// WebRTCConfig holds WebRTC-specific configuration
type WebRTCConfig struct {
	ICEServers                 []string      `mapstructure:"ice_servers"`
	BufferedAmountLowThreshold uint64        `mapstructure:"buffered_amount_low_threshold"`
	MaxBufferedAmount          uint64        `mapstructure:"max_buffered_amount"`
	PacketSize                 int           `mapstructure:"packet_size"`
	ConnectTimeout             time.Duration `mapstructure:"connect_timeout"`
}

// FirebaseConfig holds Firebase client configuration
type FirebaseConfig struct {
	ProjectID       string `mapstructure:"project_id"`
	DatabaseURL     string `mapstructure:"database_url"`
	CredentialsPath string `mapstructure:"credentials_path"`
}

// NewDefaultConfig returns a configuration with sensible defaults
func NewDefaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Transfer: TransferConfig{
			ChunkSize:      1 << 20, // 1 MB
			TempSuffix:     ".part",
			MaxFileSize:    64 << 30, // 64 GB
			MaxChunkSize:   16 << 20, // 16 MB
			SeedBufferSize: 1 << 20,
		},
		Network: NetworkConfig{
			ConnectTimeout:  10 * time.Second,
			SendTimeout:     30 * time.Second,
			ReceiveTimeout:  30 * time.Second,
			NoDelay:         true,
			ReadBufferSize:  4 << 20,
			WriteBufferSize: 4 << 20,
			SegmentSize:     256 * 1024,
		},
		Server: ServerConfig{
			ListenAddr:   ":9400",
			Root:         ".",
			MaxClients:   64,
			ReadTimeout:  2 * time.Minute,
			WriteTimeout: 30 * time.Second,
			QueueDepth:   32,
		},
		WebRTC: WebRTCConfig{
			ICEServers:                 []string{"stun:stun.l.google.com:19302"},
			BufferedAmountLowThreshold: 512 * 1024,  // 512 KB
			MaxBufferedAmount:          1024 * 1024, // 1 MB
			PacketSize:                 16 * 1024,   // 16 KB messages
			ConnectTimeout:             30 * time.Second,
		},
	}
}

// SetDefaults registers every default with v so environment overrides are
// picked up by Unmarshal even when no config file sets the key.
func SetDefaults(v *viper.Viper) {
	d := NewDefaultConfig()

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)

	v.SetDefault("transfer.chunk_size", d.Transfer.ChunkSize)
	v.SetDefault("transfer.temp_suffix", d.Transfer.TempSuffix)
	v.SetDefault("transfer.max_file_size", d.Transfer.MaxFileSize)
	v.SetDefault("transfer.max_chunk_size", d.Transfer.MaxChunkSize)
	v.SetDefault("transfer.seed_buffer_size", d.Transfer.SeedBufferSize)

	v.SetDefault("network.connect_timeout", d.Network.ConnectTimeout)
	v.SetDefault("network.send_timeout", d.Network.SendTimeout)
	v.SetDefault("network.receive_timeout", d.Network.ReceiveTimeout)
	v.SetDefault("network.no_delay", d.Network.NoDelay)
	v.SetDefault("network.read_buffer_size", d.Network.ReadBufferSize)
	v.SetDefault("network.write_buffer_size", d.Network.WriteBufferSize)
	v.SetDefault("network.segment_size", d.Network.SegmentSize)

	v.SetDefault("server.listen_addr", d.Server.ListenAddr)
	v.SetDefault("server.root", d.Server.Root)
	v.SetDefault("server.max_clients", d.Server.MaxClients)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.queue_depth", d.Server.QueueDepth)

	v.SetDefault("webrtc.ice_servers", d.WebRTC.ICEServers)
	v.SetDefault("webrtc.buffered_amount_low_threshold", d.WebRTC.BufferedAmountLowThreshold)
	v.SetDefault("webrtc.max_buffered_amount", d.WebRTC.MaxBufferedAmount)
	v.SetDefault("webrtc.packet_size", d.WebRTC.PacketSize)
	v.SetDefault("webrtc.connect_timeout", d.WebRTC.ConnectTimeout)

	v.SetDefault("firebase.project_id", d.Firebase.ProjectID)
	v.SetDefault("firebase.database_url", d.Firebase.DatabaseURL)
	v.SetDefault("firebase.credentials_path", d.Firebase.CredentialsPath)
}

// BindEnv enables FTX_-prefixed environment overrides on v.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load decodes v into a Config and validates it.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate ensures the configuration is valid
func (c *Config) Validate() error {
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return ErrInvalidLogFormat
	}
	if c.Transfer.ChunkSize <= 0 {
		return ErrInvalidChunkSize
	}
	if c.Transfer.MaxChunkSize < c.Transfer.ChunkSize {
		return ErrInvalidMaxChunkSize
	}
	if c.Transfer.TempSuffix == "" {
		return ErrInvalidTempSuffix
	}
	if c.Network.ConnectTimeout <= 0 || c.Network.SendTimeout <= 0 || c.Network.ReceiveTimeout <= 0 {
		return ErrInvalidTimeout
	}
	if c.Server.ReadTimeout <= 0 || c.Server.WriteTimeout <= 0 {
		return ErrInvalidTimeout
	}
	if c.Server.MaxClients < 0 {
		return ErrInvalidMaxClients
	}
	if c.WebRTC.BufferedAmountLowThreshold >= c.WebRTC.MaxBufferedAmount {
		return ErrInvalidBufferConfig
	}
	if c.WebRTC.PacketSize <= 0 {
		return ErrInvalidPacketSize
	}
	return nil
}

// ValidateSignalling checks the Firebase settings needed for WebRTC mode.
func (c *Config) ValidateSignalling() error {
	if c.Firebase.CredentialsPath == "" {
		return ErrInvalidFirebaseConfig
	}
	if c.Firebase.ProjectID == "" {
		return ErrInvalidFirebaseProjectID
	}
	if c.Firebase.DatabaseURL == "" {
		return ErrInvalidFirebaseDatabaseURL
	}
	return nil
}

// ICEServerList converts the configured URLs for pion.
func (c WebRTCConfig) ICEServerList() []webrtc.ICEServer {
	servers := make([]webrtc.ICEServer, 0, len(c.ICEServers))
	for _, url := range c.ICEServers {
		if url = strings.TrimSpace(url); url != "" {
			servers = append(servers, webrtc.ICEServer{URLs: []string{url}})
		}
	}
	return servers
}
