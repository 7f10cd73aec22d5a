package callback

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// OnBulkTopicEvent dispatches every entry of a bulk delivery on its own and
// reports one status per entry, in input order.
//
// Entries never affect each other: a malformed entry or one for an unknown
// subscription is dropped, a failing handler asks for that entry alone to be
// redelivered. Entries run up to the configured bulk concurrency at a time
// but the whole batch holds a single worker slot.
func (r *Router) OnBulkTopicEvent(ctx context.Context, req *BulkRequest) (*BulkResponse, error) {
	release, err := r.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	statuses := make([]BulkStatus, len(req.Entries))
	var g errgroup.Group
	g.SetLimit(r.bulkConcurrency)
	for i := range req.Entries {
		entry := &req.Entries[i]
		g.Go(func() error {
			statuses[i] = BulkStatus{
				EntryID: entry.EntryID,
				Status:  r.dispatchBulkEntry(ctx, req, entry),
			}
			return nil
		})
	}
	_ = g.Wait()

	return &BulkResponse{Statuses: statuses}, nil
}

func (r *Router) dispatchBulkEntry(ctx context.Context, req *BulkRequest, entry *BulkEntry) TopicStatus {
	e := entry.Event
	if e == nil {
		env := TopicEnvelope{
			PubsubName:  req.PubsubName,
			Topic:       req.Topic,
			Route:       req.Route,
			ContentType: entry.ContentType,
			Metadata:    entry.Metadata,
		}
		parsed, err := ParseTopicEvent(env, entry.Raw)
		if err != nil {
			key := TopicKey{PubsubName: req.PubsubName, Topic: req.Topic}.String()
			r.callOnParseError(ctx, KindTopic, key, err)
			r.callOnTopicStatus(ctx, key, StatusDrop)
			return StatusDrop
		}
		e = parsed
	}
	if e.PubsubName == "" {
		e.PubsubName = req.PubsubName
	}
	if e.Topic == "" {
		e.Topic = req.Topic
	}
	if e.Route == "" {
		e.Route = req.Route
	}

	// An unknown subscription already reports StatusDrop.
	status, _ := r.dispatchTopic(ctx, e)
	return status
}
