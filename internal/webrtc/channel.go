package webrtc

import (
	"context"
	"fmt"

	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"
)

// DefaultLabel names the upload data channel.
const DefaultLabel = "ftx-upload"

type opened struct {
	stream *DataStream
	err    error
}

// PendingStream is a data channel that is negotiated but not yet open.
type PendingStream struct {
	ready chan opened
}

// Wait blocks until the channel opens and returns it as a byte stream.
func (p *PendingStream) Wait(ctx context.Context) (*DataStream, error) {
	select {
	case o := <-p.ready:
		return o.stream, o.err
	case <-ctx.Done():
		return nil, fmt.Errorf("cancelled while waiting for channel ready: %w", ctx.Err())
	}
}

// OpenStream creates an ordered, reliable data channel on pc. It must be
// called before the offer is created so the channel is part of it. The peer
// connection must come from PeerService so that channels can be detached.
func OpenStream(pc *webrtc.PeerConnection, label string, opts StreamOptions) (*PendingStream, error) {
	ordered := true
	dc, err := pc.CreateDataChannel(label, &webrtc.DataChannelInit{
		Ordered: &ordered,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create data channel: %w", err)
	}

	p := &PendingStream{ready: make(chan opened, 1)}
	dc.OnOpen(func() {
		p.ready <- detach(dc, opts)
	})
	return p, nil
}

// AcceptStream registers for the first data channel the remote peer opens.
// Call it before the remote description is applied.
func AcceptStream(pc *webrtc.PeerConnection, opts StreamOptions) *PendingStream {
	p := &PendingStream{ready: make(chan opened, 1)}
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		logrus.WithFields(logrus.Fields{
			"function": "AcceptStream",
			"label":    dc.Label(),
		}).Debug("Received data channel")

		dc.OnOpen(func() {
			select {
			case p.ready <- detach(dc, opts):
			default:
				// Only the first channel is used.
				dc.Close()
			}
		})
	})
	return p
}

func detach(dc *webrtc.DataChannel, opts StreamOptions) opened {
	raw, err := dc.Detach()
	if err != nil {
		return opened{err: fmt.Errorf("failed to detach data channel: %w", err)}
	}

	id := uint16(0)
	if dc.ID() != nil {
		id = *dc.ID()
	}
	logrus.WithFields(logrus.Fields{
		"function": "detach",
		"label":    dc.Label(),
		"id":       id,
	}).Info("Data channel opened")

	return opened{stream: NewDataStream(raw, dc, opts)}
}
