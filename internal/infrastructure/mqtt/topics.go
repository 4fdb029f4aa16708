package mqtt

import "fmt"

// Topic prefixes for the Session Core relay hierarchy.
//
// All topics use the flat scheme: sessioncore/{category}/{id}
const (
	// TopicPrefix is the base for all Session Core topics.
	TopicPrefix = "sessioncore"

	// TopicPrefixEvents is the base for per-user session event topics.
	TopicPrefixEvents = "sessioncore/events"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "sessioncore/system"
)

// Topics provides builders for Session Core MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	eventTopic := topics.SessionEvent("usr-1a2b3c4d")
//	// Returns: "sessioncore/events/usr-1a2b3c4d"
type Topics struct{}

// SessionEvent returns the event topic for a specific user. Session events
// (force logout, permission changes) published here reach every process
// holding a push channel connection for that user.
//
// Example: sessioncore/events/usr-1a2b3c4d
func (Topics) SessionEvent(userID string) string {
	return fmt.Sprintf("%s/%s", TopicPrefixEvents, userID)
}

// AllSessionEvents returns a pattern matching session events for all users.
//
// Pattern: sessioncore/events/+
func (Topics) AllSessionEvents() string {
	return TopicPrefixEvents + "/+"
}

// SystemStatus returns the system status topic. Each process publishes its
// online/offline presence here, retained, with an LWT for crash detection.
//
// Example: sessioncore/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// SystemShutdown returns the coordinated shutdown signal topic.
//
// Example: sessioncore/system/shutdown
func (Topics) SystemShutdown() string {
	return fmt.Sprintf("%s/shutdown", TopicPrefixSystem)
}

// AllTopics returns a pattern matching all Session Core topics.
// Use with caution - this receives ALL traffic.
//
// Pattern: sessioncore/#
func (Topics) AllTopics() string {
	return TopicPrefix + "/#"
}
