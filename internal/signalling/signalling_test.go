package signalling

import (
	"context"
	"testing"
	"time"

	"ftx/pkg/utils"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryServerRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryServer()

	code, err := m.CreateSession(ctx, "offer-blob")
	require.NoError(t, err)
	assert.True(t, utils.IsValidCode(code))

	offer, err := m.GetOffer(ctx, code)
	require.NoError(t, err)
	assert.Equal(t, "offer-blob", offer)

	answered := make(chan string, 1)
	go func() {
		a, err := m.WaitForAnswer(ctx, code)
		if err == nil {
			answered <- a
		}
	}()

	require.NoError(t, m.UpdateAnswer(ctx, code, "answer-blob"))
	// A second answer overwrites without closing the signal twice.
	require.NoError(t, m.UpdateAnswer(ctx, code, "answer-blob"))

	select {
	case a := <-answered:
		assert.Equal(t, "answer-blob", a)
	case <-time.After(2 * time.Second):
		t.Fatal("answer was not delivered")
	}

	require.NoError(t, m.DeleteSession(ctx, code))
	_, err = m.GetOffer(ctx, code)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestMemoryServerUnknownSession(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryServer()

	_, err := m.GetOffer(ctx, "ABCDEFGH")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, m.UpdateAnswer(ctx, "ABCDEFGH", "x"), ErrSessionNotFound)
	_, err = m.WaitForAnswer(ctx, "ABCDEFGH")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.NoError(t, m.DeleteSession(ctx, "ABCDEFGH"))
}

func TestMemoryServerWaitCancelled(t *testing.T) {
	m := NewMemoryServer()
	code, err := m.CreateSession(context.Background(), "offer")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = m.WaitForAnswer(ctx, code)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func newPeer(t *testing.T) *webrtc.PeerConnection {
	t.Helper()
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pc.Close() })
	return pc
}

func TestSignallingExchangesDescriptions(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	svc := NewSignalingService(NewMemoryServer(), &WebRTCHandler{})
	offerer := newPeer(t)
	answerer := newPeer(t)

	_, err := offerer.CreateDataChannel("probe", nil)
	require.NoError(t, err)

	codes := make(chan string, 1)
	senderDone := make(chan error, 1)
	go func() {
		_, err := svc.StartSenderSignallingProcess(ctx, offerer, func(code string) { codes <- code })
		senderDone <- err
	}()

	var code string
	select {
	case code = <-codes:
	case <-ctx.Done():
		t.Fatal("no code announced")
	}
	require.NoError(t, svc.StartReceiverSignallingProcess(ctx, answerer, code))
	require.NoError(t, <-senderDone)

	require.NotNil(t, offerer.RemoteDescription())
	require.NotNil(t, answerer.RemoteDescription())
	assert.Equal(t, webrtc.SDPTypeAnswer, offerer.RemoteDescription().Type)
	assert.Equal(t, webrtc.SDPTypeOffer, answerer.RemoteDescription().Type)

	require.NoError(t, svc.ClearSession(ctx, code))
}

func TestReceiverUnknownCode(t *testing.T) {
	svc := NewSignalingService(NewMemoryServer(), &WebRTCHandler{})
	err := svc.StartReceiverSignallingProcess(context.Background(), newPeer(t), "ZZZZZZZZ")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}
