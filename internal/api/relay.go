package api

import (
	"encoding/json"
	"strings"

	"github.com/draycott/session-core/internal/infrastructure/mqtt"
)

// relayEnvelope is the wire form of a session event on the MQTT relay topics.
// Origin identifies the publishing process so it can skip its own events when
// they come back round.
type relayEnvelope struct {
	Type    string          `json:"type"`
	Origin  string          `json:"origin,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// relayedEventTypes are the session events accepted off the relay. Anything
// else on the topic is dropped.
var relayedEventTypes = map[string]struct{}{
	EventSessionExpired:     {},
	EventPermissionsUpdated: {},
	EventForceLogout:        {},
}

// subscribeSessionEvents subscribes to the per-user session event topics and
// fans incoming events out to the owning user's push channel connections.
//
// This is what lets a multi-process deployment force-log-out a user whose
// socket is held by a different process.
func (s *Server) subscribeSessionEvents() error {
	if s.mqtt == nil {
		return nil // relay not configured; events stay process-local
	}

	topic := mqtt.Topics{}.AllSessionEvents()
	s.logger.Info("subscribing to session event relay", "topic", topic)
	return s.mqtt.Subscribe(topic, 1, func(t string, payload []byte) error {
		userID := t[strings.LastIndexByte(t, '/')+1:]
		if userID == "" {
			return nil
		}

		var env relayEnvelope
		if err := json.Unmarshal(payload, &env); err != nil {
			s.logger.Warn("failed to parse relayed session event", "topic", t, "error", err)
			return nil
		}
		if env.Origin == s.relayOrigin() {
			return nil // our own publication coming back round
		}
		if _, ok := relayedEventTypes[env.Type]; !ok {
			s.logger.Warn("dropping unknown relayed event", "topic", t, "type", env.Type)
			return nil
		}

		var body any
		if len(env.Payload) > 0 {
			body = env.Payload
		}
		s.hub.SendToUser(userID, env.Type, body)
		return nil
	})
}

// publishSessionEvent publishes a session event to the relay so other
// processes can deliver it to their connections. No-op without MQTT.
func (s *Server) publishSessionEvent(userID, eventType string, payload any) {
	if s.mqtt == nil {
		return
	}

	env := relayEnvelope{Type: eventType, Origin: s.relayOrigin()}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			s.logger.Error("failed to marshal session event for relay", "type", eventType, "error", err)
			return
		}
		env.Payload = raw
	}

	data, err := json.Marshal(env)
	if err != nil {
		s.logger.Error("failed to marshal relay envelope", "type", eventType, "error", err)
		return
	}

	topic := mqtt.Topics{}.SessionEvent(userID)
	if err := s.mqtt.Publish(topic, data, 1, false); err != nil {
		s.logger.Warn("failed to publish session event", "topic", topic, "error", err)
	}
}

// relayOrigin identifies this process on the relay. The request ID generator
// gives us a stable-enough random token.
func (s *Server) relayOrigin() string {
	s.originOnce.Do(func() {
		s.origin = generateRequestID()
	})
	return s.origin
}
