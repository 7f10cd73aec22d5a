package callback

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"mime"
	"strings"

	"github.com/google/uuid"
)

// TopicEnvelope carries what the transport knows about a topic delivery
// before the payload is inspected.
type TopicEnvelope struct {
	PubsubName  string
	Topic       string
	Route       string
	ContentType string
	Metadata    map[string]string
}

func (env TopicEnvelope) key() string {
	return TopicKey{PubsubName: env.PubsubName, Topic: env.Topic}.String()
}

// envelopeFields are the CloudEvents attributes that are not extensions.
var envelopeFields = map[string]struct{}{
	"specversion":     {},
	"id":              {},
	"type":            {},
	"source":          {},
	"datacontenttype": {},
	"subject":         {},
	"time":            {},
	"data":            {},
	"data_base64":     {},
	"topic":           {},
	"pubsubname":      {},
}

var (
	inspector      = JSONInspector()
	cloudEventDisc = CloudEventShape()
	bulkDisc       = BulkShape()
)

// ParseTopicEvent builds a TopicEvent from a delivered payload. A payload
// shaped like a CloudEvents envelope is unpacked; anything else is treated as
// raw data and decoded according to env.ContentType. Either way the original
// bytes stay available through RawBody.
func ParseTopicEvent(env TopicEnvelope, raw []byte) (*TopicEvent, error) {
	e := &TopicEvent{
		PubsubName: env.PubsubName,
		Topic:      env.Topic,
		Route:      env.Route,
		Metadata:   env.Metadata,
		raw:        raw,
	}

	if view, err := inspector.Inspect(raw); err == nil && cloudEventDisc.Match(view) {
		if err := unpackCloudEvent(e, view); err != nil {
			return nil, &ParseError{Kind: KindTopic, Key: env.key(), Err: err}
		}
		return e, nil
	}

	e.ID = uuid.NewString()
	e.DataContentType = env.ContentType
	e.RawData = raw
	data, err := DecodeData(env.ContentType, raw)
	if err != nil {
		return nil, &ParseError{Kind: KindTopic, Key: env.key(), Err: err}
	}
	e.Data = data
	return e, nil
}

func unpackCloudEvent(e *TopicEvent, v View) error {
	str := func(path string) string {
		s, _ := v.GetString(path)
		return s
	}
	e.ID = str("id")
	e.Source = str("source")
	e.Type = str("type")
	e.SpecVersion = str("specversion")
	e.DataContentType = str("datacontenttype")
	e.Subject = str("subject")
	e.Time = str("time")
	if e.Topic == "" {
		e.Topic = str("topic")
	}
	if e.PubsubName == "" {
		e.PubsubName = str("pubsubname")
	}

	v.Each("", func(key string, member View) bool {
		if _, ok := envelopeFields[key]; ok {
			return true
		}
		if e.Extensions == nil {
			e.Extensions = make(map[string]any)
		}
		e.Extensions[key], _ = member.Value("")
		return true
	})

	switch {
	case v.HasField("data_base64"):
		s, ok := v.GetString("data_base64")
		if !ok {
			return errors.New("data_base64 is not a string")
		}
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return err
		}
		e.RawData = b
		data, err := DecodeData(e.DataContentType, b)
		if err != nil {
			return err
		}
		e.Data = data
	case v.HasField("data"):
		if s, ok := v.GetString("data"); ok && !isJSON(e.DataContentType) {
			e.RawData = []byte(s)
			e.Data = s
			return nil
		}
		b, _ := v.GetBytes("data")
		e.RawData = b
		var data any
		if err := json.Unmarshal(b, &data); err != nil {
			return err
		}
		e.Data = data
	}
	return nil
}

// DecodeData turns payload bytes into the value exposed as TopicEvent.Data:
// a JSON value for JSON content, a string for text content and the bytes
// themselves otherwise. An empty content type is sniffed: valid JSON decodes,
// anything else stays as bytes.
func DecodeData(contentType string, b []byte) (any, error) {
	if len(b) == 0 {
		return nil, nil
	}
	switch {
	case contentType == "":
		var v any
		if err := json.Unmarshal(b, &v); err == nil {
			return v, nil
		}
		return b, nil
	case isJSON(contentType):
		var v any
		if err := json.Unmarshal(b, &v); err != nil {
			return nil, ErrInvalidJSON
		}
		return v, nil
	case strings.HasPrefix(mediaType(contentType), "text/"):
		return string(b), nil
	default:
		return b, nil
	}
}

func mediaType(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(contentType))
	}
	return mt
}

func isJSON(contentType string) bool {
	mt := mediaType(contentType)
	return mt == "application/json" || mt == "text/json" || strings.HasSuffix(mt, "+json")
}

// IsBulkPayload reports whether raw looks like a bulk delivery body. A
// single event can carry an entries field of its own, so transports should
// only ask for topics subscribed with bulk delivery.
func IsBulkPayload(raw []byte) bool {
	view, err := inspector.Inspect(raw)
	return err == nil && bulkDisc.Match(view)
}

// ParseBulkRequest decodes a JSON bulk delivery body. Entries are kept raw
// and parsed one by one during dispatch so that a single malformed entry does
// not reject the batch. An error is returned only when the body itself cannot
// be read.
func ParseBulkRequest(env TopicEnvelope, raw []byte) (*BulkRequest, error) {
	view, err := inspector.Inspect(raw)
	if err != nil {
		return nil, &ParseError{Kind: KindTopic, Key: env.key(), Err: err}
	}
	if !view.HasField("entries") {
		return nil, &ParseError{Kind: KindTopic, Key: env.key(), Err: errors.New("missing entries")}
	}
	if !isArray(view, "entries") {
		return nil, &ParseError{Kind: KindTopic, Key: env.key(), Err: errors.New("entries is not an array")}
	}

	req := &BulkRequest{
		ID:         text(view, "id"),
		PubsubName: env.PubsubName,
		Topic:      env.Topic,
		Route:      env.Route,
		Metadata:   stringMap(view, "metadata"),
	}
	if req.PubsubName == "" {
		req.PubsubName = text(view, "pubsubname")
	}
	if req.Topic == "" {
		req.Topic = text(view, "topic")
	}

	view.Each("entries", func(_ string, entry View) bool {
		var body []byte
		if s, ok := entry.GetString("event"); ok {
			body = []byte(s)
		} else if b, ok := entry.GetBytes("event"); ok {
			body = b
		}
		req.Entries = append(req.Entries, BulkEntry{
			EntryID:     text(entry, "entryId"),
			Raw:         body,
			ContentType: text(entry, "contentType"),
			Metadata:    stringMap(entry, "metadata"),
		})
		return true
	})
	return req, nil
}

func isArray(v View, path string) bool {
	b, ok := v.GetBytes(path)
	return ok && len(b) > 0 && b[0] == '['
}

// text returns the string at path, or the raw encoding of any other scalar.
func text(v View, path string) string {
	if s, ok := v.GetString(path); ok {
		return s
	}
	b, _ := v.GetBytes(path)
	return string(b)
}

func stringMap(v View, path string) map[string]string {
	var m map[string]string
	v.Each(path, func(key string, member View) bool {
		if key == "" {
			return false
		}
		if m == nil {
			m = make(map[string]string)
		}
		m[key] = text(member, "")
		return true
	})
	return m
}
