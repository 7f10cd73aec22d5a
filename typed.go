package callback

import (
	"context"
	"encoding/json"
	"fmt"
)

// validatable is the interface for payload validation.
// Compatible with github.com/go-ozzo/ozzo-validation/v4.
type validatable interface {
	Validate() error
}

// decode unmarshals JSON into T and validates it when T (or *T) implements
// Validate() error. Failures are reported as *ParseError.
func decode[T any](kind Kind, key string, raw []byte) (T, error) {
	var data T
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &data); err != nil {
			return data, &ParseError{Kind: kind, Key: key, Err: fmt.Errorf("unmarshal payload: %w", err)}
		}
	}

	if v, ok := any(data).(validatable); ok {
		if err := v.Validate(); err != nil {
			return data, &ParseError{Kind: kind, Key: key, Err: fmt.Errorf("validate payload: %w", err)}
		}
	} else if v, ok := any(&data).(validatable); ok {
		if err := v.Validate(); err != nil {
			return data, &ParseError{Kind: kind, Key: key, Err: fmt.Errorf("validate payload: %w", err)}
		}
	}
	return data, nil
}

// RegisterMethod registers a method handler with typed JSON input and
// output. The request body is decoded into T and the result is encoded as
// application/json.
//
// This is a package-level function (not a method) due to Go generics limitations:
// methods cannot have type parameters independent of the receiver.
//
// Example:
//
//	callback.RegisterMethod(r, "lookup-user", func(ctx context.Context, in LookupInput) (*LookupResult, error) {
//	    return &LookupResult{Email: "a@example.com"}, nil
//	})
func RegisterMethod[T, R any](r *Router, name string, fn func(ctx context.Context, in T) (R, error)) error {
	return r.AddMethodHandler(name, MethodHandlerFunc(func(ctx context.Context, in *InvocationEvent) (Result, error) {
		data, err := decode[T](KindMethod, name, in.Data)
		if err != nil {
			return nil, err
		}
		out, err := fn(ctx, data)
		if err != nil {
			return nil, err
		}
		b, err := json.Marshal(out)
		if err != nil {
			return nil, fmt.Errorf("marshal result: %w", err)
		}
		return &InvokeResponse{Data: b, ContentType: DefaultContentType}, nil
	}))
}

// RegisterTopic registers a topic handler whose event data is decoded into
// T. Events that fail to decode or validate are dropped rather than retried,
// since redelivery would not fix them. A returned error asks for redelivery.
//
// Example:
//
//	callback.RegisterTopic(r, "pubsub", "orders", func(ctx context.Context, o Order) error {
//	    return store.Save(ctx, o)
//	})
func RegisterTopic[T any](r *Router, pubsub, topic string, fn func(ctx context.Context, payload T) error, opts ...TopicOption) error {
	key := TopicKey{PubsubName: pubsub, Topic: topic}.String()
	return r.AddTopicHandler(pubsub, topic, TopicHandlerFunc(func(ctx context.Context, e *TopicEvent) (TopicStatus, error) {
		data, err := decode[T](KindTopic, key, e.RawData)
		if err != nil {
			return StatusDrop, err
		}
		if err := fn(ctx, data); err != nil {
			return StatusRetry, err
		}
		return StatusSuccess, nil
	}), opts...)
}
