package events

// Topic constants for domain events emitted by the platform.
const (
	TopicSessionOpened  = "session.opened"
	TopicSessionClosed  = "session.closed"
	TopicOrderCreated   = "order.created"
	TopicCastClockedIn  = "cast.clocked_in"
	TopicCastClockedOut = "cast.clocked_out"
)

// DefaultTopics returns the canonical list of topics that support notifications.
func DefaultTopics() []string {
	return []string{
		TopicSessionOpened,
		TopicSessionClosed,
		TopicOrderCreated,
		TopicCastClockedIn,
		TopicCastClockedOut,
	}
}
