package callback

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"
)

// TopicKey identifies a subscription: a topic on a pub/sub component.
type TopicKey struct {
	PubsubName string
	Topic      string
}

func (k TopicKey) String() string { return k.PubsubName + ":" + k.Topic }

// registry holds every registered handler. It is guarded by Router.mu.
type registry struct {
	methods  map[string]MethodHandler
	topics   map[TopicKey]*topicRoute
	order    []TopicKey
	bindings map[string]BindingHandler
	jobs     map[string]JobHandler
	health   HealthChecker
	seq      int
}

func newRegistry() registry {
	return registry{
		methods:  make(map[string]MethodHandler),
		topics:   make(map[TopicKey]*topicRoute),
		bindings: make(map[string]BindingHandler),
		jobs:     make(map[string]JobHandler),
	}
}

// topicEntry is one handler on a topic, optionally guarded by a rule.
type topicEntry struct {
	key     TopicKey
	route   string
	rule    *Rule
	handler TopicHandler
	seq     int
}

// id is the pubsub:topic:route triple the entry is known by.
func (e *topicEntry) id() string { return e.key.String() + ":" + e.route }

// topicRoute groups the entries of one subscription. Ruled entries are kept
// sorted by (priority, registration order); the unruled entry is the
// fallback and lives apart.
type topicRoute struct {
	ruled           []*topicEntry
	fallback        *topicEntry
	metadata        map[string]string
	deadLetterTopic string
	bulk            *BulkSubscribe
}

// candidates returns entries in evaluation order.
func (t *topicRoute) candidates() []*topicEntry {
	out := slices.Clone(t.ruled)
	if t.fallback != nil {
		out = append(out, t.fallback)
	}
	return out
}

// TopicOption configures a topic registration.
type TopicOption func(*topicOptions)

type topicOptions struct {
	rule            string
	priority        int
	route           string
	deadLetterTopic string
	metadata        map[string]string
	bulk            *BulkSubscribe
}

// WithRule guards the handler with a CEL expression. Lower priority values
// are evaluated first.
func WithRule(expr string, priority int) TopicOption {
	return func(o *topicOptions) {
		o.rule = expr
		o.priority = priority
	}
}

// WithRoute sets the path the sidecar delivers matching events to.
func WithRoute(path string) TopicOption {
	return func(o *topicOptions) { o.route = path }
}

// WithDeadLetterTopic names the topic undeliverable events are moved to.
func WithDeadLetterTopic(topic string) TopicOption {
	return func(o *topicOptions) { o.deadLetterTopic = topic }
}

// WithMetadata attaches subscription metadata read by the sidecar.
func WithMetadata(md map[string]string) TopicOption {
	return func(o *topicOptions) { o.metadata = md }
}

// WithBulkSubscribe asks the sidecar to deliver events in batches.
func WithBulkSubscribe(maxMessages, maxAwaitMs int32) TopicOption {
	return func(o *topicOptions) {
		o.bulk = &BulkSubscribe{Enabled: true, MaxMessagesCount: maxMessages, MaxAwaitDurationMs: maxAwaitMs}
	}
}

// AddMethodHandler registers a service invocation handler.
func (r *Router) AddMethodHandler(name string, h MethodHandler) error {
	if name == "" || h == nil {
		return errors.New("method name and handler required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.reg.methods[name]; dup {
		return fmt.Errorf("%w: method %q", ErrDuplicateRegistration, name)
	}
	r.reg.methods[name] = h
	return nil
}

// AddBindingHandler registers an input binding handler.
func (r *Router) AddBindingHandler(name string, h BindingHandler) error {
	if name == "" || h == nil {
		return errors.New("binding name and handler required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.reg.bindings[name]; dup {
		return fmt.Errorf("%w: binding %q", ErrDuplicateRegistration, name)
	}
	r.reg.bindings[name] = h
	return nil
}

// AddJobHandler registers a scheduled job handler.
func (r *Router) AddJobHandler(name string, h JobHandler) error {
	if name == "" || h == nil {
		return errors.New("job name and handler required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.reg.jobs[name]; dup {
		return fmt.Errorf("%w: job %q", ErrDuplicateRegistration, name)
	}
	r.reg.jobs[name] = h
	return nil
}

// SetHealthCheck registers the health callback. Only one may be set.
func (r *Router) SetHealthCheck(h HealthChecker) error {
	if h == nil {
		return errors.New("health checker required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.reg.health != nil {
		return fmt.Errorf("%w: health check", ErrDuplicateRegistration)
	}
	r.reg.health = h
	return nil
}

// AddTopicHandler subscribes a handler to a topic. Several handlers may share
// a topic as long as each carries a distinct rule; at most one may have no
// rule, and it is used when no rule matches.
//
// Rules are evaluated in ascending priority, equal priorities in
// registration order, and the first match wins. The handler without a rule
// always comes last whatever the priorities of the rules, since it accepts
// every event.
//
// Example:
//
//	r.AddTopicHandler("pubsub", "orders", large, callback.WithRule(`event.data.total > 100`, 1))
//	r.AddTopicHandler("pubsub", "orders", regular)
func (r *Router) AddTopicHandler(pubsub, topic string, h TopicHandler, opts ...TopicOption) error {
	if pubsub == "" || topic == "" || h == nil {
		return errors.New("pubsub name, topic and handler required")
	}
	var o topicOptions
	for _, opt := range opts {
		opt(&o)
	}

	key := TopicKey{PubsubName: pubsub, Topic: topic}
	entry := &topicEntry{key: key, handler: h, route: o.route}
	if entry.route != "" && !strings.HasPrefix(entry.route, "/") {
		entry.route = "/" + entry.route
	}
	if o.rule != "" {
		rule, err := compileRule(o.rule, o.priority)
		if err != nil {
			return err
		}
		entry.rule = rule
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.reg.seq++
	entry.seq = r.reg.seq
	if entry.route == "" {
		entry.route = defaultRoute(key)
		if entry.rule != nil {
			entry.route = fmt.Sprintf("%s/rule-%d", entry.route, entry.seq)
		}
	}

	tr, exists := r.reg.topics[key]
	if !exists {
		tr = &topicRoute{}
	}
	if err := tr.check(entry, o); err != nil {
		return err
	}
	if err := r.reg.routeTaken(entry); err != nil {
		return err
	}

	if entry.rule == nil {
		tr.fallback = entry
	} else {
		tr.ruled = append(tr.ruled, entry)
		sort.SliceStable(tr.ruled, func(i, j int) bool {
			return tr.ruled[i].rule.Priority < tr.ruled[j].rule.Priority
		})
	}
	if o.deadLetterTopic != "" {
		tr.deadLetterTopic = o.deadLetterTopic
	}
	if len(o.metadata) > 0 {
		if tr.metadata == nil {
			tr.metadata = make(map[string]string, len(o.metadata))
		}
		maps.Copy(tr.metadata, o.metadata)
	}
	if o.bulk != nil {
		tr.bulk = o.bulk
	}

	if !exists {
		r.reg.topics[key] = tr
		r.reg.order = append(r.reg.order, key)
	}
	return nil
}

// check rejects an entry that cannot be told apart from one already on the
// route, or that contradicts the subscription settings.
func (t *topicRoute) check(e *topicEntry, o topicOptions) error {
	if e.rule == nil && t.fallback != nil {
		return fmt.Errorf("%w: topic %s already has a handler without a rule", ErrDuplicateRegistration, e.key)
	}
	for _, other := range t.candidates() {
		if e.rule != nil && other.rule != nil && other.rule.Match == e.rule.Match {
			return fmt.Errorf("%w: topic %s already has rule %q", ErrDuplicateRegistration, e.key, e.rule.Match)
		}
		if other.route == e.route {
			return fmt.Errorf("%w: topic %s already routes %q", ErrDuplicateRegistration, e.key, e.route)
		}
	}
	if o.deadLetterTopic != "" && t.deadLetterTopic != "" && o.deadLetterTopic != t.deadLetterTopic {
		return fmt.Errorf("%w: topic %s has dead letter topic %q, got %q",
			ErrDuplicateRegistration, e.key, t.deadLetterTopic, o.deadLetterTopic)
	}
	return nil
}

// routeTaken rejects a route already served by another subscription. The
// sidecar delivers by path, so a shared path would be ambiguous.
func (reg *registry) routeTaken(e *topicEntry) error {
	for key, tr := range reg.topics {
		if key == e.key {
			continue
		}
		for _, other := range tr.candidates() {
			if other.route == e.route {
				return fmt.Errorf("%w: route %q already belongs to topic %s", ErrDuplicateRegistration, e.route, key)
			}
		}
	}
	return nil
}

func defaultRoute(k TopicKey) string {
	return "/events/" + k.PubsubName + "/" + k.Topic
}

func (r *Router) lookupMethod(name string) (MethodHandler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.reg.methods[name]
	if !ok {
		return nil, fmt.Errorf("%w: method %q", ErrNotFound, name)
	}
	return h, nil
}

func (r *Router) lookupBinding(name string) (BindingHandler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.reg.bindings[name]
	if !ok {
		return nil, fmt.Errorf("%w: binding %q", ErrNotFound, name)
	}
	return h, nil
}

func (r *Router) lookupJob(name string) (JobHandler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.reg.jobs[name]
	if !ok {
		return nil, fmt.Errorf("%w: job %q", ErrNotFound, name)
	}
	return h, nil
}

// lookupTopic returns the entries of a subscription in evaluation order.
func (r *Router) lookupTopic(key TopicKey) ([]*topicEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tr, ok := r.reg.topics[key]
	if !ok {
		return nil, fmt.Errorf("%w: topic %s", ErrNotFound, key)
	}
	return tr.candidates(), nil
}
