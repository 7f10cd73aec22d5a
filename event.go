package callback

import (
	"encoding/json"
	"errors"
	"fmt"
)

// DefaultContentType is used for Text and Bytes method results.
const DefaultContentType = "application/json"

// InvocationEvent is a service invocation delivered by the sidecar.
type InvocationEvent struct {
	// Method is the name the handler was registered under.
	Method string

	Data        []byte
	ContentType string

	// Verb and QueryString are set when the call was made over HTTP.
	Verb        string
	QueryString string

	// Metadata holds the inbound headers or gRPC metadata.
	Metadata map[string][]string
}

// InvokeResponse is the response to a service invocation.
type InvokeResponse struct {
	Data        []byte
	ContentType string
	Headers     map[string][]string

	// StatusCode is honoured by the HTTP transport. Zero means 200.
	StatusCode int
}

// BindingEvent is an input binding trigger.
type BindingEvent struct {
	Name     string
	Data     []byte
	Metadata map[string]string
}

// JobEvent is a scheduled job trigger.
type JobEvent struct {
	Name        string
	Data        []byte
	ContentType string
}

// TopicEvent is a single pub/sub delivery. Build one with ParseTopicEvent or
// fill the fields directly when the transport already split the envelope.
type TopicEvent struct {
	ID              string
	Source          string
	Type            string
	SpecVersion     string
	DataContentType string
	Subject         string
	Time            string

	// Data is the decoded payload: a JSON value for JSON content, a string for
	// text content and []byte otherwise.
	Data any

	// RawData holds the payload bytes before decoding.
	RawData []byte

	Topic      string
	PubsubName string

	// Route is the path the sidecar delivered the event to, if any.
	Route string

	Extensions map[string]any
	Metadata   map[string]string

	raw []byte
}

// RawBody returns the payload exactly as it was delivered, whether or not it
// was a structured envelope.
func (e *TopicEvent) RawBody() []byte {
	if e.raw != nil {
		return e.raw
	}
	return e.RawData
}

// Struct decodes the event data into target.
func (e *TopicEvent) Struct(target any) error {
	if len(e.RawData) == 0 {
		return errors.New("event has no data")
	}
	if err := json.Unmarshal(e.RawData, target); err != nil {
		return fmt.Errorf("decode event data: %w", err)
	}
	return nil
}

// BulkRequest is a batch of topic events delivered in one call.
type BulkRequest struct {
	ID         string
	PubsubName string
	Topic      string
	Route      string
	Metadata   map[string]string
	Entries    []BulkEntry
}

// BulkEntry is one event in a BulkRequest. Event is used when the transport
// already decoded the envelope; otherwise Raw is parsed.
type BulkEntry struct {
	EntryID     string
	Raw         []byte
	ContentType string
	Metadata    map[string]string
	Event       *TopicEvent
}

// BulkStatus is the outcome of one BulkEntry.
type BulkStatus struct {
	EntryID string
	Status  TopicStatus
}

// BulkResponse holds one BulkStatus per input entry, in input order.
type BulkResponse struct {
	Statuses []BulkStatus
}
