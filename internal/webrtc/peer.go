// Package webrtc carries the upload byte stream over a WebRTC data channel
// when no direct TCP path exists between the peers.
package webrtc

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"ftx/internal/config"

	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"
)

// ErrPeerFailed is sent on the state channel when the connection fails or closes.
var ErrPeerFailed = errors.New("peer connection failed")

// PeerService manages WebRTC peer connection lifecycle
type PeerService struct {
	config config.WebRTCConfig
}

// NewPeerService creates a new peer service with the given configuration
func NewPeerService(cfg config.WebRTCConfig) *PeerService {
	return &PeerService{config: cfg}
}

// CreatePeerConnection creates a peer connection whose data channels are
// detached, so they can be used as plain byte streams.
func (p *PeerService) CreatePeerConnection(ctx context.Context) (*webrtc.PeerConnection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	settings := webrtc.SettingEngine{}
	settings.DetachDataChannels()
	api := webrtc.NewAPI(webrtc.WithSettingEngine(settings))

	pc, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers: p.config.ICEServerList(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}
	return pc, nil
}

// SetupConnectionStateHandler logs state changes for pc and returns a
// channel that receives one error if the connection fails or closes.
func (p *PeerService) SetupConnectionStateHandler(pc *webrtc.PeerConnection, role string) <-chan error {
	failed := make(chan error, 1)
	var once sync.Once

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		logrus.WithFields(logrus.Fields{
			"function": "OnConnectionStateChange",
			"role":     role,
			"state":    state.String(),
		}).Info("Peer connection state changed")

		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			once.Do(func() {
				failed <- fmt.Errorf("%w: %s", ErrPeerFailed, state)
			})
		}
	})
	return failed
}

// Close gracefully closes the peer connection
func (p *PeerService) Close(pc *webrtc.PeerConnection) error {
	if pc == nil {
		return nil
	}
	return pc.Close()
}
