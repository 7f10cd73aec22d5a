package callback

// Kind identifies the family of an inbound call.
type Kind int

const (
	// KindMethod is a service invocation addressed to a method name.
	KindMethod Kind = iota
	// KindTopic is a pub/sub delivery, single or bulk.
	KindTopic
	// KindBinding is an input binding trigger.
	KindBinding
	// KindJob is a scheduled job trigger.
	KindJob
	// KindHealth is a health check call.
	KindHealth
)

func (k Kind) String() string {
	switch k {
	case KindMethod:
		return "method"
	case KindTopic:
		return "topic"
	case KindBinding:
		return "binding"
	case KindJob:
		return "job"
	case KindHealth:
		return "health"
	default:
		return "unknown"
	}
}

// TopicStatus tells the sidecar what to do with a delivered topic event.
// The zero value is StatusSuccess, so a handler that says nothing acks.
type TopicStatus int

const (
	// StatusSuccess acks the event.
	StatusSuccess TopicStatus = iota
	// StatusRetry asks the sidecar to redeliver per its own policy.
	StatusRetry
	// StatusDrop discards the event, or moves it to the dead letter topic
	// when one is configured.
	StatusDrop
)

func (s TopicStatus) String() string {
	switch s {
	case StatusSuccess:
		return "SUCCESS"
	case StatusRetry:
		return "RETRY"
	case StatusDrop:
		return "DROP"
	default:
		return "UNKNOWN"
	}
}

// HealthStatus is the outcome of a health check.
type HealthStatus int

const (
	// HealthUnknown is returned when no check ran.
	HealthUnknown HealthStatus = iota
	// Healthy means the registered check passed.
	Healthy
	// Unhealthy means the registered check failed; the cause is returned
	// alongside.
	Unhealthy
)

func (s HealthStatus) String() string {
	switch s {
	case Healthy:
		return "healthy"
	case Unhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}
