package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/srg/puttlab/internal/controller"
	"github.com/srg/puttlab/internal/relay"
	"github.com/srg/puttlab/internal/state"
)

var (
	ErrAlreadyRecording = errors.New("a recording is already in progress")
	ErrNotRecording     = errors.New("no recording in progress")
)

// Recorder runs one recording at a time: it starts the session, attaches the
// consumer and connects through the controller with a session-scoped context.
type Recorder struct {
	ctrl    *controller.Controller
	relay   *relay.Relay
	store   *state.SessionStore
	service *Service
	logger  *logrus.Logger

	mu       sync.Mutex
	active   bool
	deviceID string
	cancel   context.CancelFunc
	detach   func()
}

func NewRecorder(ctrl *controller.Controller, r *relay.Relay, store *state.SessionStore, logger *logrus.Logger) *Recorder {
	if logger == nil {
		logger = logrus.New()
	}
	return &Recorder{
		ctrl:    ctrl,
		relay:   r,
		store:   store,
		service: NewService(store, logger),
		logger:  logger,
	}
}

// Start begins recording from deviceID. The recording ends with Stop or when
// ctx is cancelled; in the latter case Stop must still be called to release
// the link.
func (r *Recorder) Start(ctx context.Context, deviceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active {
		return ErrAlreadyRecording
	}

	r.store.Start()
	detach := r.service.Attach(r.relay, controller.NotificationTopic)
	sctx, cancel := context.WithCancel(ctx)

	if err := r.ctrl.ConnectToDevice(sctx, deviceID); err != nil {
		detach()
		cancel()
		r.store.Clear()
		return fmt.Errorf("start recording: %w", err)
	}

	r.active, r.deviceID, r.cancel, r.detach = true, deviceID, cancel, detach
	r.logger.WithField("device_id", deviceID).Info("Recording started")
	return nil
}

// Active reports whether a recording is running.
func (r *Recorder) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Stop detaches the consumer, cancels pending reconnects, disconnects and
// returns the final snapshot. The snapshot is returned even when the
// disconnect fails.
func (r *Recorder) Stop(ctx context.Context) (state.SessionSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active {
		return state.SessionSnapshot{}, ErrNotRecording
	}

	r.detach()
	r.cancel()
	err := r.ctrl.DisconnectDevice(ctx, r.deviceID)
	snap := r.store.Snapshot()

	r.logger.WithFields(logrus.Fields{
		"device_id": r.deviceID,
		"entries":   len(snap.Entries),
	}).Info("Recording stopped")

	r.active, r.deviceID, r.cancel, r.detach = false, "", nil, nil
	return snap, err
}
