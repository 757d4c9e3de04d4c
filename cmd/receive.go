package cmd

import (
	"fmt"

	"ftx/internal/app"
	"ftx/pkg/utils"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type ReceiveFlags struct {
	Root       string
	Listen     string
	WebRTC     bool
	Code       string
	MaxClients int
}

var receiveFlags ReceiveFlags

// receiveCmd represents the receive command
var receiveCmd = &cobra.Command{
	Use:   "receive",
	Short: "Accept uploads into a directory",
	Long: `Accept uploads into a directory. In TCP mode the receiver listens on
--listen and serves every sender until interrupted. In WebRTC mode it joins
the single session named by --code (prompted for when omitted).

Partial uploads are kept next to their target with a .part suffix, so a
sender that reconnects continues where it stopped.`,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return validateReceiveFlags(&receiveFlags)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runReceiverApp(cmd, &receiveFlags)
	},
}

// validateReceiveFlags validates the receive command flags
func validateReceiveFlags(flags *ReceiveFlags) error {
	if flags.Code != "" && !flags.WebRTC {
		return fmt.Errorf("--code requires --webrtc")
	}
	if flags.Code != "" && !utils.IsValidCode(flags.Code) {
		return fmt.Errorf("invalid session code %q", flags.Code)
	}
	if flags.MaxClients < 0 {
		return fmt.Errorf("max clients must not be negative")
	}
	return nil
}

func init() {
	rootCmd.AddCommand(receiveCmd)

	receiveCmd.Flags().StringVarP(&receiveFlags.Root, "root", "r", "", "Directory uploads are stored under (default from config)")
	receiveCmd.Flags().StringVarP(&receiveFlags.Listen, "listen", "l", "", "TCP listen address (default from config)")
	receiveCmd.Flags().BoolVar(&receiveFlags.WebRTC, "webrtc", false, "Receive one upload over a WebRTC data channel")
	receiveCmd.Flags().StringVarP(&receiveFlags.Code, "code", "c", "", "Session code from the sender (WebRTC mode)")
	receiveCmd.Flags().IntVar(&receiveFlags.MaxClients, "max-clients", 0, "Maximum concurrent senders (default from config)")

	receiveCmd.MarkFlagsMutuallyExclusive("listen", "webrtc")

	viper.BindPFlag("server.root", receiveCmd.Flags().Lookup("root"))
	viper.BindPFlag("server.listen_addr", receiveCmd.Flags().Lookup("listen"))
	viper.BindPFlag("server.max_clients", receiveCmd.Flags().Lookup("max-clients"))
}

// runReceiverApp creates and runs the receiver application
func runReceiverApp(cmd *cobra.Command, flags *ReceiveFlags) error {
	ctx := cmd.Context()

	receiverApp := app.NewReceiverApp(cfg, nil, nil)
	if flags.WebRTC {
		peerService, signalingService, err := createWebRTCServices(ctx)
		if err != nil {
			return err
		}
		receiverApp = app.NewReceiverApp(cfg, peerService, signalingService)
	}

	return receiverApp.Run(ctx, app.ReceiverOptions{
		Root:       cfg.Server.Root,
		Listen:     cfg.Server.ListenAddr,
		WebRTC:     flags.WebRTC,
		Code:       flags.Code,
		MaxClients: cfg.Server.MaxClients,
	})
}
