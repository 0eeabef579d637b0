package config

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"

	"github.com/Jimmyu2foru18/Blockchain-Gossip-Network/src/common"
)

// Default filenames.
const (
	// DefaultWalletFile is the default name of the file containing the node's
	// wallet.
	DefaultWalletFile = "wallet.json"

	// DefaultBadgerFile is the default name of the folder containing the
	// Badger database.
	DefaultBadgerFile = "badger_db"

	// DefaultChainFile is the default name of the JSON chain snapshot.
	DefaultChainFile = "chain.json"
)

// Default configuration values.
const (
	DefaultLogLevel            = "debug"
	DefaultHost                = "127.0.0.1"
	DefaultPort                = 8000
	DefaultServiceAddr         = "127.0.0.1:8080"
	DefaultMaxPeers            = 10
	DefaultHeartbeatInterval   = 30 * time.Second
	DefaultDiscoveryInterval   = 60 * time.Second
	DefaultConnTimeout         = 5 * time.Second
	DefaultFanout              = 3
	DefaultMessageTTL          = 10
	DefaultGossipInterval      = 1 * time.Second
	DefaultAntiEntropyInterval = 300 * time.Second
	DefaultCacheExpiry         = 300 * time.Second
	DefaultTargetBlockTime     = 60 * time.Second
	DefaultDifficulty          = 4
	DefaultAdjustmentInterval  = 10
	DefaultStore               = false
)

// Config contains all the configuration properties of a node.
type Config struct {
	// DataDir is the top-level directory containing configuration and data.
	DataDir string `mapstructure:"datadir"`

	// LogLevel determines the chattiness of the log output.
	LogLevel string `mapstructure:"log"`

	// LogFile, when set, duplicates all log output to a file through a hook.
	LogFile string `mapstructure:"log-file"`

	// Host is the local address where this node listens for both TCP streams
	// and UDP datagrams.
	Host string `mapstructure:"host"`

	// Port is the local port shared by the TCP listener and the UDP socket.
	Port int `mapstructure:"port"`

	// Moniker defines the friendly name of this node.
	Moniker string `mapstructure:"moniker"`

	// Join lists host:port addresses of peers to contact at startup.
	Join []string `mapstructure:"join"`

	// NoService disables the HTTP API service.
	NoService bool `mapstructure:"no-service"`

	// ServiceAddr is the address:port of the optional HTTP service.
	ServiceAddr string `mapstructure:"service-listen"`

	// MaxPeers caps how many peers the registry tracks as active.
	MaxPeers int `mapstructure:"max-peers"`

	// HeartbeatInterval is the period of the PING loop. A peer silent for
	// three of these is considered dead.
	HeartbeatInterval time.Duration `mapstructure:"heartbeat"`

	// DiscoveryInterval is the period of the peer-list sharing loop.
	DiscoveryInterval time.Duration `mapstructure:"discovery"`

	// ConnTimeout is the dial timeout for outbound TCP connections.
	ConnTimeout time.Duration `mapstructure:"timeout"`

	// Fanout is the number of peers each gossip step forwards to.
	Fanout int `mapstructure:"fanout"`

	// MessageTTL is the hop budget of a freshly broadcast message.
	MessageTTL int `mapstructure:"ttl"`

	// GossipInterval is the period of the rumor-mongering rounds.
	GossipInterval time.Duration `mapstructure:"gossip-interval"`

	// AntiEntropyInterval is the period of the digest reconciliation rounds.
	AntiEntropyInterval time.Duration `mapstructure:"anti-entropy"`

	// CacheExpiry bounds how long gossiped message bodies are kept for relay.
	CacheExpiry time.Duration `mapstructure:"cache-expiry"`

	// TargetBlockTime is the block interval the difficulty adjustment aims
	// for.
	TargetBlockTime time.Duration `mapstructure:"block-time"`

	// Difficulty is the initial number of leading zero hex digits a block
	// hash must carry.
	Difficulty int `mapstructure:"difficulty"`

	// AdjustmentInterval is the number of blocks between difficulty
	// adjustments.
	AdjustmentInterval int `mapstructure:"adjustment-interval"`

	// Mine enables the background mining loop.
	Mine bool `mapstructure:"mine"`

	// Store activates persistent storage of the chain in Badger.
	Store bool `mapstructure:"store"`

	// DatabaseDir is the directory containing database files.
	DatabaseDir string `mapstructure:"db"`

	logger *logrus.Logger
}

// NewDefaultConfig returns a config object with default values.
func NewDefaultConfig() *Config {
	config := &Config{
		DataDir:             DefaultDataDir(),
		LogLevel:            DefaultLogLevel,
		Host:                DefaultHost,
		Port:                DefaultPort,
		ServiceAddr:         DefaultServiceAddr,
		MaxPeers:            DefaultMaxPeers,
		HeartbeatInterval:   DefaultHeartbeatInterval,
		DiscoveryInterval:   DefaultDiscoveryInterval,
		ConnTimeout:         DefaultConnTimeout,
		Fanout:              DefaultFanout,
		MessageTTL:          DefaultMessageTTL,
		GossipInterval:      DefaultGossipInterval,
		AntiEntropyInterval: DefaultAntiEntropyInterval,
		CacheExpiry:         DefaultCacheExpiry,
		TargetBlockTime:     DefaultTargetBlockTime,
		Difficulty:          DefaultDifficulty,
		AdjustmentInterval:  DefaultAdjustmentInterval,
		Store:               DefaultStore,
		DatabaseDir:         DefaultDatabaseDir(),
	}

	return config
}

// NewTestConfig returns a config object with default values and a special
// logger for debugging tests.
func NewTestConfig(t testing.TB, level logrus.Level) *Config {
	config := NewDefaultConfig()
	config.logger = common.NewTestLogger(t, level)
	config.SetDataDir(t.TempDir())
	return config
}

// SetDataDir sets the top-level data directory, and updates the database
// directory if it is currently set to the default value. If the database
// directory is not currently the default, the user has explicitly set it to
// something else, so avoid changing it again here.
func (c *Config) SetDataDir(dataDir string) {
	c.DataDir = dataDir
	if c.DatabaseDir == DefaultDatabaseDir() {
		c.DatabaseDir = filepath.Join(dataDir, DefaultBadgerFile)
	}
}

// WalletFile returns the full path of the file containing the node's wallet.
func (c *Config) WalletFile() string {
	return filepath.Join(c.DataDir, DefaultWalletFile)
}

// ChainFile returns the full path of the JSON chain snapshot.
func (c *Config) ChainFile() string {
	return filepath.Join(c.DataDir, DefaultChainFile)
}

// BindAddr returns the host:port the node listens on.
func (c *Config) BindAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Logger returns a formatted logrus Entry, with prefix set to "bgn".
func (c *Config) Logger() *logrus.Entry {
	if c.logger == nil {
		c.logger = logrus.New()
		c.logger.Level = LogLevel(c.LogLevel)
		c.logger.Formatter = new(prefixed.TextFormatter)

		if c.LogFile != "" {
			c.logger.Hooks.Add(lfshook.NewHook(
				lfshook.PathMap{
					logrus.InfoLevel:  c.LogFile,
					logrus.WarnLevel:  c.LogFile,
					logrus.ErrorLevel: c.LogFile,
					logrus.DebugLevel: c.LogFile,
				},
				&logrus.TextFormatter{},
			))
		}
	}
	return c.logger.WithField("prefix", "bgn")
}

// DefaultDatabaseDir returns the default path for the badger database files.
func DefaultDatabaseDir() string {
	return filepath.Join(DefaultDataDir(), DefaultBadgerFile)
}

// DefaultDataDir returns the default directory name for top-level node config
// based on the underlying OS, attempting to respect conventions.
func DefaultDataDir() string {
	home := HomeDir()
	if home != "" {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, ".BGN")
		} else if runtime.GOOS == "windows" {
			return filepath.Join(home, "AppData", "Roaming", "BGN")
		} else {
			return filepath.Join(home, ".bgn")
		}
	}
	// As we cannot guess a stable location, return empty and handle later
	return ""
}

// HomeDir returns the user's home directory.
func HomeDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	if usr, err := user.Current(); err == nil {
		return usr.HomeDir
	}
	return ""
}

// LogLevel parses a string into a Logrus log level.
func LogLevel(l string) logrus.Level {
	switch l {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	case "panic":
		return logrus.PanicLevel
	default:
		return logrus.DebugLevel
	}
}
