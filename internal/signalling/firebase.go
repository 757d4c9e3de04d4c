package signalling

import (
	"context"
	"fmt"
	"time"

	"ftx/internal/config"
	"ftx/pkg/utils"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/db"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"
)

// Answer polling used by WaitForAnswer.
const (
	answerPollInterval = 3 * time.Second
	answerPollAttempts = 40
)

// FirebaseClient stores sessions under /sessions/<code> in a Realtime Database.
type FirebaseClient struct {
	db  *db.Client
	ref *db.Ref

	pollInterval time.Duration
	pollAttempts int
}

var _ SignalingServer = (*FirebaseClient)(nil)

func NewFirebaseClient(ctx context.Context, cfg *config.FirebaseConfig) (*FirebaseClient, error) {
	opt := option.WithCredentialsFile(cfg.CredentialsPath)

	firebaseConfig := &firebase.Config{
		DatabaseURL: cfg.DatabaseURL,
		ProjectID:   cfg.ProjectID,
	}

	app, err := firebase.NewApp(ctx, firebaseConfig, opt)
	if err != nil {
		return nil, fmt.Errorf("error initializing Firebase app: %w", err)
	}

	client, err := app.Database(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting database client: %w", err)
	}

	return &FirebaseClient{
		db:           client,
		ref:          client.NewRef("sessions"),
		pollInterval: answerPollInterval,
		pollAttempts: answerPollAttempts,
	}, nil
}

// Session represents a signaling session data
// Support vanilla ICE for now,
// TODO: support trickle ICE so peers can start connecting before gathering completes
type Session struct {
	ID        string `json:"sessionId"`
	Offer     string `json:"offer"`
	Answer    string `json:"answer"`
	CreatedAt int64  `json:"createdAt"`
}

func (f *FirebaseClient) CreateSession(ctx context.Context, offer string) (string, error) {
	code, err := utils.GenerateCode(utils.CodeLength)
	if err != nil {
		return "", fmt.Errorf("error generating session code: %w", err)
	}

	sessionData := Session{
		ID:        code,
		Offer:     offer,
		CreatedAt: time.Now().Unix(),
	}
	if err := f.ref.Child(code).Set(ctx, sessionData); err != nil {
		return "", fmt.Errorf("error creating session: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "CreateSession",
		"code":     code,
	}).Debug("Session created")
	return code, nil
}

func (f *FirebaseClient) get(ctx context.Context, sessionID string) (*db.Ref, Session, error) {
	var sessionData Session
	sessionRef := f.ref.Child(sessionID)
	if err := sessionRef.Get(ctx, &sessionData); err != nil {
		return nil, sessionData, fmt.Errorf("error fetching session %s: %w", sessionID, err)
	}
	return sessionRef, sessionData, nil
}

func (f *FirebaseClient) UpdateAnswer(ctx context.Context, sessionID, answer string) error {
	sessionRef, sessionData, err := f.get(ctx, sessionID)
	if err != nil {
		return err
	}
	if sessionData.ID == "" {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	if err := sessionRef.Update(ctx, map[string]any{"answer": answer}); err != nil {
		return fmt.Errorf("error updating answer for session %s: %w", sessionID, err)
	}
	return nil
}

func (f *FirebaseClient) WaitForAnswer(ctx context.Context, sessionID string) (string, error) {
	sessionRef, initial, err := f.get(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if initial.ID == "" {
		return "", fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	log := logrus.WithFields(logrus.Fields{
		"function": "WaitForAnswer",
		"code":     sessionID,
	})
	log.Info("Waiting for receiver to answer")

	for i := 0; i < f.pollAttempts; i++ {
		var sessionData struct {
			Answer string `json:"answer"`
		}
		if err := sessionRef.Get(ctx, &sessionData); err != nil {
			log.WithError(err).Warn("Failed to poll session")
		} else if sessionData.Answer != "" {
			return sessionData.Answer, nil
		}

		select {
		case <-time.After(f.pollInterval):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	if err := f.DeleteSession(ctx, sessionID); err != nil {
		return "", fmt.Errorf("error deleting session: %w", err)
	}
	return "", ErrAnswerTimeout
}

func (f *FirebaseClient) DeleteSession(ctx context.Context, sessionID string) error {
	sessionRef, sessionData, err := f.get(ctx, sessionID)
	if err != nil {
		return err
	}
	if sessionData.ID == "" {
		// Session doesn't exist, but this is not an error for cleanup operations
		logrus.WithFields(logrus.Fields{
			"function": "DeleteSession",
			"code":     sessionID,
		}).Debug("Session not found, skipping deletion")
		return nil
	}

	if err := sessionRef.Delete(ctx); err != nil {
		return fmt.Errorf("error deleting session %s: %w", sessionID, err)
	}
	return nil
}

func (f *FirebaseClient) GetOffer(ctx context.Context, sessionID string) (string, error) {
	_, sessionData, err := f.get(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if sessionData.ID == "" || sessionData.Offer == "" {
		return "", fmt.Errorf("%w: %s has no offer", ErrSessionNotFound, sessionID)
	}
	return sessionData.Offer, nil
}
