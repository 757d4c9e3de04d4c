package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"ftx/internal/config"
	"ftx/internal/registry"
	"ftx/internal/server"
	"ftx/internal/webrtc"
	"ftx/pkg/utils"

	"github.com/sirupsen/logrus"
)

// shutdownGrace bounds how long Run waits for open uploads after cancel.
const shutdownGrace = 5 * time.Second

// ReceiverOptions configures the receiver application behavior
type ReceiverOptions struct {
	Root       string // Required: directory uploads are stored under
	Listen     string // TCP listen address; defaults to server.listen_addr
	WebRTC     bool   // Serve one upload over WebRTC instead of listening
	Code       string // Session code for WebRTC mode; prompted for when empty
	MaxClients int    // Overrides server.max_clients when set
}

// ReceiverApp implements receiver application logic
type ReceiverApp struct {
	config      *config.Config
	peerService *webrtc.PeerService
	signaller   Signaller

	in  io.Reader // code prompt input
	out io.Writer

	// ready, when set, is called with the server once it is about to serve.
	ready func(*server.Server)
}

// NewReceiverApp creates a new receiver application. peerService and
// signaller are only needed for WebRTC mode.
func NewReceiverApp(cfg *config.Config, peerService *webrtc.PeerService, signaller Signaller) *ReceiverApp {
	return &ReceiverApp{
		config:      cfg,
		peerService: peerService,
		signaller:   signaller,
		in:          os.Stdin,
		out:         os.Stdout,
	}
}

// Run serves uploads until ctx is cancelled (TCP) or the single WebRTC
// session ends.
func (r *ReceiverApp) Run(ctx context.Context, opts ReceiverOptions) error {
	if opts.Root == "" {
		opts.Root = r.config.Server.Root
	}
	root, err := utils.EnsureDirectory(opts.Root)
	if err != nil {
		return fmt.Errorf("invalid root: %w", err)
	}
	if opts.Listen == "" {
		opts.Listen = r.config.Server.ListenAddr
	}
	if opts.MaxClients <= 0 {
		opts.MaxClients = r.config.Server.MaxClients
	}

	reg := registry.New(registry.WithOptions(receiverOptions(r.config, root)))
	srv := server.New(reg, serverOptions(r.config, opts.Listen, opts.MaxClients))

	logrus.WithFields(logrus.Fields{
		"function": "ReceiverApp.Run",
		"root":     root,
		"webrtc":   opts.WebRTC,
	}).Info("Preparing to receive files")

	if opts.WebRTC {
		return r.runWebRTC(ctx, srv, opts.Code)
	}
	return r.runTCP(ctx, srv)
}

func (r *ReceiverApp) runTCP(ctx context.Context, srv *server.Server) error {
	if r.ready != nil {
		r.ready(srv)
	}

	served := make(chan error, 1)
	go func() { served <- srv.ListenAndServe(ctx) }()

	var err error
	select {
	case err = <-served:
	case <-ctx.Done():
		err = <-served
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		logrus.WithError(serr).Warn("Receiver did not stop cleanly")
	}

	if errors.Is(err, server.ErrServerClosed) {
		return nil
	}
	return err
}

func (r *ReceiverApp) runWebRTC(ctx context.Context, srv *server.Server, code string) error {
	if r.peerService == nil || r.signaller == nil {
		return fmt.Errorf("WebRTC mode is not configured")
	}

	if code == "" {
		var err error
		code, err = utils.AskForCode(ctx, r.in, r.out)
		if err != nil {
			return fmt.Errorf("failed to get code from user: %w", err)
		}
	} else if !utils.IsValidCode(code) {
		return fmt.Errorf("invalid session code %q", code)
	}

	pc, err := r.peerService.CreatePeerConnection(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := r.peerService.Close(pc); err != nil {
			logrus.WithError(err).Warn("Error closing peer connection")
		}
		if err := r.signaller.ClearSession(context.Background(), code); err != nil {
			logrus.WithError(err).Warn("Failed to clear signalling session")
		}
	}()
	failed := r.peerService.SetupConnectionStateHandler(pc, "receiver")
	pending := webrtc.AcceptStream(pc, channelOptions(r.config))

	if err := r.signaller.StartReceiverSignallingProcess(ctx, pc, code); err != nil {
		return fmt.Errorf("failed during signalling process: %w", err)
	}

	stream, err := waitForStream(ctx, pending, failed, r.config.WebRTC.ConnectTimeout)
	if err != nil {
		return err
	}

	// ServeConn closes the stream on return or cancel; a peer failure closes
	// it too.
	go func() {
		if _, ok := <-failed; ok {
			_ = stream.Close()
		}
	}()

	if err := srv.ServeConn(ctx, stream, "webrtc:"+code); err != nil {
		return fmt.Errorf("upload over data channel failed: %w", err)
	}
	fmt.Fprintln(r.out, "Data channel closed, receiver done.")
	return nil
}
