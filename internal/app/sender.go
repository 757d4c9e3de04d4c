package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"ftx/internal/config"
	"ftx/internal/reporter"
	"ftx/internal/sender"
	"ftx/internal/transport"
	"ftx/internal/ui"
	"ftx/internal/webrtc"

	"github.com/sirupsen/logrus"
)

// ErrNoTransport means neither an address nor WebRTC mode was chosen.
var ErrNoTransport = errors.New("either an address or WebRTC mode is required")

// SenderOptions configures the sender application behavior
type SenderOptions struct {
	FilePath  string // Required: path to file to send
	Target    string // Path on the receiver; defaults to the file's base name
	Addr      string // Receiver address for TCP mode
	WebRTC    bool   // Use a WebRTC data channel instead of TCP
	ChunkSize int    // Overrides transfer.chunk_size when set
}

// SenderApp implements sender application logic
type SenderApp struct {
	config      *config.Config
	peerService *webrtc.PeerService
	signaller   Signaller

	out         io.Writer // summary and session code
	progressOut io.Writer // progress bar; nil disables it
}

// NewSenderApp creates a new sender application. peerService and signaller
// are only needed for WebRTC mode.
func NewSenderApp(cfg *config.Config, peerService *webrtc.PeerService, signaller Signaller) *SenderApp {
	return &SenderApp{
		config:      cfg,
		peerService: peerService,
		signaller:   signaller,
		out:         os.Stdout,
		progressOut: os.Stderr,
	}
}

// Run uploads opts.FilePath and prints a summary.
func (s *SenderApp) Run(ctx context.Context, opts SenderOptions) (sender.Result, error) {
	if opts.FilePath == "" {
		return sender.Result{}, fmt.Errorf("file path is required")
	}
	if opts.Target == "" {
		opts.Target = filepath.Base(opts.FilePath)
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = s.config.Transfer.ChunkSize
	}

	log := logrus.WithFields(logrus.Fields{
		"function": "SenderApp.Run",
		"file":     opts.FilePath,
		"target":   opts.Target,
	})
	log.Info("Preparing to send file")

	tr, cleanup, err := s.connect(ctx, opts)
	if err != nil {
		return sender.Result{}, err
	}
	defer cleanup()

	var (
		bar  *ui.ProgressUI
		rep  *reporter.ProgressReporter
		wg   sync.WaitGroup
		prog sender.ProgressFunc
	)
	if s.progressOut != nil {
		bar = ui.NewProgressUIWriter(s.progressOut)
		bar.SetFilename(filepath.Base(opts.FilePath))
		rep = reporter.NewProgressReporter(bar, 16)
		prog = rep.Report
		wg.Add(1)
		go func() {
			defer wg.Done()
			rep.StartUpdatingProgress(ctx)
		}()
	}

	engine := sender.New(sender.Options{ChunkSize: opts.ChunkSize, Progress: prog})
	res, err := engine.Upload(ctx, opts.FilePath, opts.Target, tr)

	if rep != nil {
		rep.Close()
		wg.Wait()
		if res.OK {
			bar.CompleteProgress()
		}
	}

	var rejected *sender.RejectedError
	if err == nil || errors.As(err, &rejected) {
		ui.ShowTransferSummary(s.out, ui.Summary{
			OK:           res.OK,
			Status:       res.Code.String(),
			FileSize:     res.FileSize,
			ResumeOffset: res.ResumeOffset,
			ServerCRC:    res.ServerCRC,
			Elapsed:      res.Elapsed,
		})
	}
	if err != nil {
		return res, fmt.Errorf("upload failed: %w", err)
	}

	log.WithFields(logrus.Fields{
		"bytes":  res.BytesTransferred,
		"resume": res.ResumeOffset,
		"crc":    fmt.Sprintf("0x%08x", res.ServerCRC),
	}).Info("File sent")
	return res, nil
}

func (s *SenderApp) connect(ctx context.Context, opts SenderOptions) (transport.Transport, func(), error) {
	switch {
	case opts.WebRTC:
		return s.connectWebRTC(ctx)
	case opts.Addr != "":
		tr, err := transport.DialTCP(ctx, opts.Addr, transport.DialOptions{
			ConnectTimeout: s.config.Network.ConnectTimeout,
			TCP:            tcpOptions(s.config),
			Stream:         streamOptions(s.config),
		})
		if err != nil {
			return nil, nil, err
		}
		return tr, func() { _ = tr.Close() }, nil
	default:
		return nil, nil, ErrNoTransport
	}
}

func (s *SenderApp) connectWebRTC(ctx context.Context) (transport.Transport, func(), error) {
	if s.peerService == nil || s.signaller == nil {
		return nil, nil, fmt.Errorf("WebRTC mode is not configured")
	}

	pc, err := s.peerService.CreatePeerConnection(ctx)
	if err != nil {
		return nil, nil, err
	}
	failed := s.peerService.SetupConnectionStateHandler(pc, "sender")

	var code string
	cleanup := func() {
		if err := s.peerService.Close(pc); err != nil {
			logrus.WithError(err).Warn("Error closing peer connection")
		}
		if code != "" {
			if err := s.signaller.ClearSession(context.Background(), code); err != nil {
				logrus.WithError(err).Warn("Failed to clear signalling session")
			}
		}
	}

	pending, err := webrtc.OpenStream(pc, webrtc.DefaultLabel, channelOptions(s.config))
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	code, err = s.signaller.StartSenderSignallingProcess(ctx, pc, func(c string) {
		fmt.Fprintf(s.out, "Share this code with the receiver: %s\n", c)
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("failed during signalling process: %w", err)
	}

	stream, err := waitForStream(ctx, pending, failed, s.config.WebRTC.ConnectTimeout)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	tr := transport.NewStream(stream, streamOptions(s.config))
	return tr, func() {
		_ = tr.Close()
		cleanup()
	}, nil
}
