package callback

import (
	"maps"
	"slices"
)

// Subscription describes a topic subscription as the sidecar reads it at
// startup.
type Subscription struct {
	PubsubName string
	Topic      string

	// Route receives events no rule matched. Empty when every handler on the
	// topic is guarded by a rule.
	Route string

	// Rules are listed in evaluation order.
	Rules []RouteRule

	Metadata        map[string]string
	DeadLetterTopic string
	Bulk            *BulkSubscribe
}

// RouteRule sends events matching a CEL expression to a path.
type RouteRule struct {
	Match string
	Path  string
}

// BulkSubscribe configures batched delivery.
type BulkSubscribe struct {
	Enabled            bool
	MaxMessagesCount   int32
	MaxAwaitDurationMs int32
}

// Subscriptions lists every topic subscription in registration order.
func (r *Router) Subscriptions() []Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	subs := make([]Subscription, 0, len(r.reg.order))
	for _, key := range r.reg.order {
		tr := r.reg.topics[key]
		sub := Subscription{
			PubsubName:      key.PubsubName,
			Topic:           key.Topic,
			Metadata:        maps.Clone(tr.metadata),
			DeadLetterTopic: tr.deadLetterTopic,
		}
		if tr.bulk != nil {
			b := *tr.bulk
			sub.Bulk = &b
		}
		for _, e := range tr.ruled {
			sub.Rules = append(sub.Rules, RouteRule{Match: e.rule.Match, Path: e.route})
		}
		if tr.fallback != nil {
			sub.Route = tr.fallback.route
		}
		subs = append(subs, sub)
	}
	return subs
}

// TopicRoutes maps every delivery path to the subscription it belongs to.
func (r *Router) TopicRoutes() map[string]TopicKey {
	r.mu.RLock()
	defer r.mu.RUnlock()

	routes := make(map[string]TopicKey)
	for key, tr := range r.reg.topics {
		for _, e := range tr.candidates() {
			routes[e.route] = key
		}
	}
	return routes
}

// Methods lists registered method names, sorted.
func (r *Router) Methods() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.reg.methods))
}

// Bindings lists registered input binding names, sorted.
func (r *Router) Bindings() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.reg.bindings))
}

// Jobs lists registered job names, sorted.
func (r *Router) Jobs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.reg.jobs))
}
