package cmd

import (
	"fmt"
	"os"

	"ftx/internal/app"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type SendFlags struct {
	FilePath  string
	Target    string
	Addr      string
	WebRTC    bool
	ChunkSize int
}

var sendFlags SendFlags

// sendCmd represents the send command
var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Upload a file to a receiver",
	Long: `Upload a file to a receiver. This will:

1. Connect to the receiver over TCP (--addr) or a WebRTC data channel (--webrtc)
2. Announce the file and learn how many bytes the receiver already holds
3. Send the remaining bytes and the CRC-32 of the whole file
4. Report whether the receiver verified and stored the file

Use --file to specify the path to the file you want to send.`,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return validateSendFlags(&sendFlags)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSenderApp(cmd, &sendFlags)
	},
}

func init() {
	rootCmd.AddCommand(sendCmd)

	sendCmd.Flags().StringVarP(&sendFlags.FilePath, "file", "f", "", "Path to file to send (required)")
	sendCmd.Flags().StringVarP(&sendFlags.Target, "target", "t", "", "Path on the receiver, relative to its root (default is the file name)")
	sendCmd.Flags().StringVarP(&sendFlags.Addr, "addr", "a", "", "Receiver address (host:port)")
	sendCmd.Flags().BoolVar(&sendFlags.WebRTC, "webrtc", false, "Send over a WebRTC data channel using Firebase signalling")
	sendCmd.Flags().IntVar(&sendFlags.ChunkSize, "chunk-size", 0, "Data frame payload size in bytes (default from config)")

	sendCmd.MarkFlagRequired("file")
	sendCmd.MarkFlagsMutuallyExclusive("addr", "webrtc")

	viper.BindPFlag("transfer.chunk_size", sendCmd.Flags().Lookup("chunk-size"))
}

// validateSendFlags validates the send command flags
func validateSendFlags(flags *SendFlags) error {
	if flags.FilePath == "" {
		return fmt.Errorf("file path is required")
	}
	if flags.Addr == "" && !flags.WebRTC {
		return fmt.Errorf("one of --addr or --webrtc is required")
	}
	info, err := os.Stat(flags.FilePath)
	if err != nil {
		return fmt.Errorf("cannot read %s: %w", flags.FilePath, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", flags.FilePath)
	}
	return nil
}

// runSenderApp creates and runs the sender application
func runSenderApp(cmd *cobra.Command, flags *SendFlags) error {
	ctx := cmd.Context()

	senderApp := app.NewSenderApp(cfg, nil, nil)
	if flags.WebRTC {
		peerService, signalingService, err := createWebRTCServices(ctx)
		if err != nil {
			return err
		}
		senderApp = app.NewSenderApp(cfg, peerService, signalingService)
	}

	_, err := senderApp.Run(ctx, app.SenderOptions{
		FilePath:  flags.FilePath,
		Target:    flags.Target,
		Addr:      flags.Addr,
		WebRTC:    flags.WebRTC,
		ChunkSize: cfg.Transfer.ChunkSize,
	})
	return err
}
