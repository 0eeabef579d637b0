package commands

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Jimmyu2foru18/Blockchain-Gossip-Network/src/crypto"
	"github.com/Jimmyu2foru18/Blockchain-Gossip-Network/src/node"
	"github.com/Jimmyu2foru18/Blockchain-Gossip-Network/src/service"
)

//NewRunCmd returns the command that starts a node
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "run",
		Short:   "Run node",
		PreRunE: loadConfig,
		RunE:    runNode,
	}
	AddRunFlags(cmd)
	return cmd
}

/*******************************************************************************
* RUN
*******************************************************************************/

func runNode(cmd *cobra.Command, args []string) error {
	logger := _config.Logger()

	wallet, err := loadOrCreateWallet()
	if err != nil {
		return err
	}

	n, err := node.NewNode(_config, wallet)
	if err != nil {
		return err
	}

	if err := n.Start(); err != nil {
		return err
	}

	if !_config.NoService {
		serviceServer := service.NewService(_config.ServiceAddr, n, logger)
		go serviceServer.Serve()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	n.Shutdown()

	return nil
}

// loadOrCreateWallet reads the wallet from the datadir, generating and saving
// a fresh one on first run.
func loadOrCreateWallet() (*crypto.Wallet, error) {
	walletFile := _config.WalletFile()

	if wallet, err := crypto.ReadWalletFile(walletFile); err == nil {
		return wallet, nil
	}

	wallet, err := crypto.GenerateWallet()
	if err != nil {
		return nil, err
	}

	if err := wallet.WriteFile(walletFile); err != nil {
		return nil, err
	}

	_config.Logger().WithField("address", wallet.Address).Info("Generated new wallet")

	return wallet, nil
}

/*******************************************************************************
* CONFIG
*******************************************************************************/

//AddRunFlags adds flags to the Run command
func AddRunFlags(cmd *cobra.Command) {

	cmd.Flags().String("datadir", _config.DataDir, "Top-level directory for configuration and data")
	cmd.Flags().String("log", _config.LogLevel, "debug, info, warn, error, fatal, panic")
	cmd.Flags().String("log-file", _config.LogFile, "Duplicate log output to this file")
	cmd.Flags().String("moniker", _config.Moniker, "Optional name")

	// Network
	cmd.Flags().String("host", _config.Host, "Listen IP for TCP and UDP")
	cmd.Flags().IntP("port", "p", _config.Port, "Listen port for TCP and UDP")
	cmd.Flags().StringSliceP("join", "j", _config.Join, "host:port addresses of peers to contact at startup")
	cmd.Flags().DurationP("timeout", "t", _config.ConnTimeout, "TCP dial timeout")
	cmd.Flags().Int("max-peers", _config.MaxPeers, "Max number of active peers")
	cmd.Flags().Duration("heartbeat", _config.HeartbeatInterval, "Time between heartbeats")
	cmd.Flags().Duration("discovery", _config.DiscoveryInterval, "Time between peer-list exchanges")

	// Gossip
	cmd.Flags().Int("fanout", _config.Fanout, "Number of peers each gossip step forwards to")
	cmd.Flags().Int("ttl", _config.MessageTTL, "Hop budget of gossiped messages")
	cmd.Flags().Duration("gossip-interval", _config.GossipInterval, "Time between gossip rounds")
	cmd.Flags().Duration("anti-entropy", _config.AntiEntropyInterval, "Time between digest reconciliations")
	cmd.Flags().Duration("cache-expiry", _config.CacheExpiry, "How long message bodies are kept for relay")

	// Chain
	cmd.Flags().Duration("block-time", _config.TargetBlockTime, "Target block interval")
	cmd.Flags().Int("difficulty", _config.Difficulty, "Initial mining difficulty")
	cmd.Flags().Int("adjustment-interval", _config.AdjustmentInterval, "Blocks between difficulty adjustments")
	cmd.Flags().Bool("mine", _config.Mine, "Mine pending transactions in the background")

	// Service
	cmd.Flags().StringP("service-listen", "s", _config.ServiceAddr, "Listen IP:Port for HTTP service")
	cmd.Flags().Bool("no-service", _config.NoService, "Disable the HTTP service")

	// Store
	cmd.Flags().Bool("store", _config.Store, "Persist the chain in badgerDB")
	cmd.Flags().String("db", _config.DatabaseDir, "Database directory")
}

func loadConfig(cmd *cobra.Command, args []string) error {

	err := bindFlagsLoadViper(cmd)
	if err != nil {
		return err
	}

	// If --datadir was explicitely set, but not --db, this will update the
	// default database dir to be inside the new datadir
	_config.SetDataDir(_config.DataDir)

	logFields := logrus.Fields{
		"DataDir":             _config.DataDir,
		"BindAddr":            _config.BindAddr(),
		"ServiceAddr":         _config.ServiceAddr,
		"MaxPeers":            _config.MaxPeers,
		"HeartbeatInterval":   _config.HeartbeatInterval,
		"DiscoveryInterval":   _config.DiscoveryInterval,
		"Fanout":              _config.Fanout,
		"MessageTTL":          _config.MessageTTL,
		"GossipInterval":      _config.GossipInterval,
		"AntiEntropyInterval": _config.AntiEntropyInterval,
		"TargetBlockTime":     _config.TargetBlockTime,
		"Difficulty":          _config.Difficulty,
		"Mine":                _config.Mine,
		"Store":               _config.Store,
		"LogLevel":            _config.LogLevel,
		"Moniker":             _config.Moniker,
	}

	if _config.Store {
		logFields["DatabaseDir"] = _config.DatabaseDir
	}

	_config.Logger().WithFields(logFields).Debug("RUN")

	return nil
}

// Bind all flags and read the config into viper
func bindFlagsLoadViper(cmd *cobra.Command) error {
	// Register flags with viper. Include flags from this command and all other
	// persistent flags from the parent
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// first unmarshal to read from CLI flags
	if err := viper.Unmarshal(_config); err != nil {
		return err
	}

	// look for config file in [datadir]/bgn.toml (.json, .yaml also work)
	viper.SetConfigName("bgn")
	viper.AddConfigPath(_config.DataDir)

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		_config.Logger().Debugf("Using config file: %s", viper.ConfigFileUsed())
	} else if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		_config.Logger().Debugf("No config file found in: %s", _config.DataDir)
	} else {
		return err
	}

	// second unmarshal to read from config file
	return viper.Unmarshal(_config)
}
