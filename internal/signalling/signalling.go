// Package signalling exchanges WebRTC offers and answers through a shared
// store, keyed by a short code the sender hands to the receiver.
package signalling

import (
	"context"
	"errors"
	"fmt"

	"ftx/internal/config"
	"ftx/pkg/utils"

	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"
)

var (
	// ErrSessionNotFound means no session exists for the code.
	ErrSessionNotFound = errors.New("signalling session not found")
	// ErrAnswerTimeout means the receiver never posted an answer.
	ErrAnswerTimeout = errors.New("timeout waiting for answer")
)

// SignalingServer defines the interface for signaling storage operations
type SignalingServer interface {
	CreateSession(ctx context.Context, offer string) (sessionID string, err error)
	GetOffer(ctx context.Context, sessionID string) (offer string, err error)
	UpdateAnswer(ctx context.Context, sessionID, answer string) error
	WaitForAnswer(ctx context.Context, sessionID string) (answer string, err error)
	DeleteSession(ctx context.Context, sessionID string) error
}

// SDPHandler defines the interface for WebRTC SDP operations
type SDPHandler interface {
	CreateOffer(peerConn *webrtc.PeerConnection) (*webrtc.SessionDescription, error)
	CreateAnswer(peerConn *webrtc.PeerConnection) (*webrtc.SessionDescription, error)
	WaitForICEGathering(ctx context.Context, peerConn *webrtc.PeerConnection) error
}

// SignalingService orchestrates the complete signaling flow using composition
type SignalingService struct {
	server SignalingServer
	sdp    SDPHandler
}

func NewSignalingService(server SignalingServer, sdp SDPHandler) *SignalingService {
	return &SignalingService{
		server: server,
		sdp:    sdp,
	}
}

// NewDefaultSignalingService connects to Firebase using cfg.
func NewDefaultSignalingService(ctx context.Context, cfg *config.Config) (*SignalingService, error) {
	if err := cfg.ValidateSignalling(); err != nil {
		return nil, err
	}
	server, err := NewFirebaseClient(ctx, &cfg.Firebase)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Firebase client: %w", err)
	}
	return NewSignalingService(server, &WebRTCHandler{}), nil
}

// PublishOffer creates the offer, stores it, and returns the session code
// the receiver needs. The answer is applied by AwaitAnswer.
func (s *SignalingService) PublishOffer(ctx context.Context, peerConn *webrtc.PeerConnection) (string, error) {
	if _, err := s.sdp.CreateOffer(peerConn); err != nil {
		return "", fmt.Errorf("failed to create offer: %w", err)
	}
	if err := s.sdp.WaitForICEGathering(ctx, peerConn); err != nil {
		return "", fmt.Errorf("failed to wait for ICE gathering: %w", err)
	}

	finalOffer := peerConn.LocalDescription()
	if finalOffer == nil {
		return "", fmt.Errorf("local description is nil after ICE gathering")
	}

	encodedOffer, err := utils.Encode(*finalOffer)
	if err != nil {
		return "", fmt.Errorf("failed to encode offer SDP: %w", err)
	}

	sessionID, err := s.server.CreateSession(ctx, encodedOffer)
	if err != nil {
		return "", fmt.Errorf("failed to create session with offer: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "PublishOffer",
		"code":     sessionID,
	}).Info("Offer published")
	return sessionID, nil
}

// AwaitAnswer blocks until the receiver answers sessionID and applies it.
func (s *SignalingService) AwaitAnswer(ctx context.Context, peerConn *webrtc.PeerConnection, sessionID string) error {
	answer, err := s.server.WaitForAnswer(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to wait for answer: %w", err)
	}

	answerSD, err := utils.Decode[webrtc.SessionDescription](answer)
	if err != nil {
		return fmt.Errorf("failed to decode answer SDP: %w", err)
	}

	if err := peerConn.SetRemoteDescription(answerSD); err != nil {
		return fmt.Errorf("failed to set remote description: %w", err)
	}
	return nil
}

// StartSenderSignallingProcess publishes an offer and waits for the answer.
// announce, when set, is called with the code as soon as it exists.
func (s *SignalingService) StartSenderSignallingProcess(ctx context.Context, peerConn *webrtc.PeerConnection, announce func(code string)) (string, error) {
	sessionID, err := s.PublishOffer(ctx, peerConn)
	if err != nil {
		return "", err
	}
	if announce != nil {
		announce(sessionID)
	}
	return sessionID, s.AwaitAnswer(ctx, peerConn, sessionID)
}

// StartReceiverSignallingProcess orchestrates the complete receiver signaling flow
func (s *SignalingService) StartReceiverSignallingProcess(ctx context.Context, peerConn *webrtc.PeerConnection, sessionID string) error {
	encodedOffer, err := s.server.GetOffer(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to get offer from session: %w", err)
	}

	offerSD, err := utils.Decode[webrtc.SessionDescription](encodedOffer)
	if err != nil {
		return fmt.Errorf("failed to decode offer SDP: %w", err)
	}

	if err := peerConn.SetRemoteDescription(offerSD); err != nil {
		return fmt.Errorf("failed to set remote description: %w", err)
	}

	if _, err := s.sdp.CreateAnswer(peerConn); err != nil {
		return fmt.Errorf("failed to create answer: %w", err)
	}
	if err := s.sdp.WaitForICEGathering(ctx, peerConn); err != nil {
		return fmt.Errorf("failed to wait for ICE gathering: %w", err)
	}

	finalAnswer := peerConn.LocalDescription()
	if finalAnswer == nil {
		return fmt.Errorf("local description is nil after ICE gathering")
	}

	encodedAnswer, err := utils.Encode(*finalAnswer)
	if err != nil {
		return fmt.Errorf("failed to encode answer SDP: %w", err)
	}

	if err := s.server.UpdateAnswer(ctx, sessionID, encodedAnswer); err != nil {
		return fmt.Errorf("failed to upload answer: %w", err)
	}
	return nil
}

// ClearSession deletes a session by its ID
func (s *SignalingService) ClearSession(ctx context.Context, sessionID string) error {
	return s.server.DeleteSession(ctx, sessionID)
}
