package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"ftx/internal/config"
	"ftx/internal/signalling"
	"ftx/internal/webrtc"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfg     *config.Config
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "ftx",
	Short: "ftx - resumable file transfer",
	Long: `ftx uploads a file to a receiver and resumes interrupted uploads from
the bytes the receiver already holds. Every upload is verified end to end
with CRC-32 before the receiver promotes it to its final name.

Usage:
  Run a receiver:     ftx receive --root /srv/incoming --listen :9400
  Send over TCP:      ftx send --file ./disk.img --addr host:9400
  Send over WebRTC:   ftx send --file ./disk.img --webrtc
  Receive over WebRTC: ftx receive --root ./incoming --webrtc --code ABCD1234`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		initConfig()

		loaded, err := config.Load(viper.GetViper())
		if err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		if err := config.SetupLogging(loaded.Log, os.Stderr); err != nil {
			return err
		}
		cfg = loaded
		return nil
	},
}

func init() {
	// Add global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.ftx.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text or json)")

	viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))

	config.SetDefaults(viper.GetViper())
	config.BindEnv(viper.GetViper())
}

// initConfig reads in config file and ENV variables
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			logrus.WithError(err).Warn("Could not find home directory")
			return
		}

		// Search config in home directory with name ".ftx" (without extension)
		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".ftx")
	}

	if err := viper.ReadInConfig(); err == nil {
		logrus.WithField("file", viper.ConfigFileUsed()).Info("Using config file")
	} else if cfgFile != "" {
		logrus.WithError(err).Warn("Could not read config file")
	}
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

// createWebRTCServices wires the peer and signalling services for WebRTC mode.
func createWebRTCServices(ctx context.Context) (*webrtc.PeerService, *signalling.SignalingService, error) {
	signalingService, err := signalling.NewDefaultSignalingService(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return webrtc.NewPeerService(cfg.WebRTC), signalingService, nil
}
