// Package callback routes calls from an application sidecar to registered
// handlers.
//
// A sidecar proxies infrastructure (pub/sub brokers, input bindings, a job
// scheduler) and calls back into the application whenever something arrives:
// a service invocation, a topic event, a batch of topic events, a binding
// trigger, a job trigger or a health check. The Router receives those calls
// from a transport, looks up the handler, runs it and maps the outcome back
// to what the sidecar expects.
//
// # Quick Start
//
//	r := callback.New(callback.WithLogger(logger))
//
//	r.AddMethodHandler("echo", callback.MethodHandlerFunc(
//	    func(ctx context.Context, in *callback.InvocationEvent) (callback.Result, error) {
//	        return callback.Bytes(in.Data), nil
//	    }))
//
//	callback.RegisterTopic(r, "pubsub", "orders", func(ctx context.Context, o Order) error {
//	    return store.Save(ctx, o)
//	})
//
//	srv := grpcsrv.New(r)
//	srv.Serve(ctx, lis)
//
// # Registration
//
// Handlers are registered once at startup. Each kind has its own namespace:
//
//   - methods by name
//   - topics by pub/sub component and topic, optionally several per topic
//     distinguished by rules
//   - input bindings by name
//   - jobs by name
//   - a single optional health check
//
// Registering the same key twice fails with ErrDuplicateRegistration. The
// process should refuse to serve with an ambiguous registry.
//
// # Rules
//
// Several handlers may subscribe to one topic when each is guarded by a CEL
// expression over the event:
//
//	r.AddTopicHandler("pubsub", "orders", priority,
//	    callback.WithRule(`event.type == "order.created" && event.data.total > 1000`, 1))
//	r.AddTopicHandler("pubsub", "orders", created,
//	    callback.WithRule(`event.type == "order.created"`, 2))
//	r.AddTopicHandler("pubsub", "orders", everythingElse)
//
// Rules run in ascending priority, ties in registration order, and the first
// match wins. The handler without a rule catches the rest. An event nothing
// accepts is dropped. Rules are also published through Subscriptions so the
// sidecar can route events to each rule's path itself; an event that arrives
// on a known path skips evaluation.
//
// # Outcomes
//
// Topic handlers return a TopicStatus. The zero value is StatusSuccess; an
// error always means StatusRetry so the sidecar redelivers per its own
// policy. Nothing in this package retries.
//
// Method handlers return a Result: Text, Bytes or an *InvokeResponse. A
// failure becomes a 500 response and a *HandlerError. Binding and job
// failures are returned as *HandlerError. A call for a key nobody registered
// returns ErrNotFound, which transports report as unimplemented.
//
// # Envelopes
//
// ParseTopicEvent inspects a delivered payload with gjson. A payload carrying
// the CloudEvents attributes is unpacked; anything else is raw data decoded
// by content type. The delivered bytes are always available from RawBody.
//
// # Concurrency
//
// The Router bounds the number of calls in flight (WithMaxConcurrency,
// default 10). Each call blocks its worker for the whole handler run. A
// caller that goes away while waiting for a worker is abandoned; a handler
// that already started is left to finish. Bulk deliveries dispatch each
// entry independently (WithBulkConcurrency) and always report statuses in
// input order.
//
// # Hooks
//
// Hooks observe dispatch without touching handler code:
//
//	r := callback.New(
//	    callback.WithOnSuccess(func(ctx context.Context, kind callback.Kind, key string, d time.Duration) {
//	        durations.WithLabelValues(kind.String()).Observe(d.Seconds())
//	    }),
//	    callback.WithOnTopicStatus(func(ctx context.Context, key string, s callback.TopicStatus) {
//	        statuses.WithLabelValues(key, s.String()).Inc()
//	    }),
//	)
//
// The metrics package provides a ready-made Prometheus collector.
package callback
