// Package session connects the notification relay to the session store and
// drives recordings through the controller.
package session

import (
	"github.com/sirupsen/logrus"

	"github.com/srg/puttlab/internal/relay"
	"github.com/srg/puttlab/internal/state"
)

// Service is the relay consumer that feeds the session store.
type Service struct {
	store  *state.SessionStore
	logger *logrus.Logger
}

func NewService(store *state.SessionStore, logger *logrus.Logger) *Service {
	if logger == nil {
		logger = logrus.New()
	}
	return &Service{store: store, logger: logger}
}

// HandleIncomingData appends payload to the session as is.
func (s *Service) HandleIncomingData(payload any) {
	s.store.AddData(payload)
	s.logger.WithField("entries", s.store.Len()).Trace("Session data appended")
}

// Attach subscribes the service to topic. Call the returned function to
// detach; it is safe to call more than once.
func (s *Service) Attach(r *relay.Relay, topic string) (detach func()) {
	return r.On(topic, s.HandleIncomingData)
}
