package app

import (
	"context"

	"github.com/pion/webrtc/v4"
)

// Signaller is the part of signalling.SignalingService the apps drive.
type Signaller interface {
	// StartSenderSignallingProcess publishes an offer for pc and waits for the
	// answer; announce receives the session code once it exists.
	StartSenderSignallingProcess(ctx context.Context, pc *webrtc.PeerConnection, announce func(code string)) (string, error)
	// StartReceiverSignallingProcess answers the offer stored under code.
	StartReceiverSignallingProcess(ctx context.Context, pc *webrtc.PeerConnection, code string) error
	// ClearSession removes the stored session.
	ClearSession(ctx context.Context, code string) error
}
