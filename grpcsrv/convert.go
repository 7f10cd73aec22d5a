package grpcsrv

import (
	runtimev1pb "github.com/dapr/dapr/pkg/proto/runtime/v1"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/bjaus/callback"
)

func toTopicStatus(s callback.TopicStatus) runtimev1pb.TopicEventResponse_TopicEventResponseStatus {
	switch s {
	case callback.StatusRetry:
		return runtimev1pb.TopicEventResponse_RETRY
	case callback.StatusDrop:
		return runtimev1pb.TopicEventResponse_DROP
	default:
		return runtimev1pb.TopicEventResponse_SUCCESS
	}
}

func toTopicSubscription(sub callback.Subscription) *runtimev1pb.TopicSubscription {
	out := &runtimev1pb.TopicSubscription{
		PubsubName:      sub.PubsubName,
		Topic:           sub.Topic,
		Metadata:        sub.Metadata,
		DeadLetterTopic: sub.DeadLetterTopic,
	}
	if len(sub.Rules) > 0 {
		routes := &runtimev1pb.TopicRoutes{Default: sub.Route}
		for _, r := range sub.Rules {
			routes.Rules = append(routes.Rules, &runtimev1pb.TopicRule{Match: r.Match, Path: r.Path})
		}
		out.Routes = routes
	}
	if sub.Bulk != nil {
		out.BulkSubscribe = &runtimev1pb.BulkSubscribeConfig{
			Enabled:            sub.Bulk.Enabled,
			MaxMessagesCount:   sub.Bulk.MaxMessagesCount,
			MaxAwaitDurationMs: sub.Bulk.MaxAwaitDurationMs,
		}
	}
	return out
}

// cloudEvent is the common shape of single and bulk CloudEvent requests.
type cloudEvent interface {
	GetId() string
	GetSource() string
	GetType() string
	GetSpecVersion() string
	GetDataContentType() string
	GetData() []byte
	GetExtensions() *structpb.Struct
}

func fromCloudEvent(ce cloudEvent) (*callback.TopicEvent, error) {
	data, err := callback.DecodeData(ce.GetDataContentType(), ce.GetData())
	if err != nil {
		return nil, err
	}
	ev := &callback.TopicEvent{
		ID:              ce.GetId(),
		Source:          ce.GetSource(),
		Type:            ce.GetType(),
		SpecVersion:     ce.GetSpecVersion(),
		DataContentType: ce.GetDataContentType(),
		Data:            data,
		RawData:         ce.GetData(),
	}
	if ext := ce.GetExtensions(); ext != nil {
		ev.Extensions = ext.AsMap()
		if s, ok := ev.Extensions["subject"].(string); ok {
			ev.Subject = s
		}
		if t, ok := ev.Extensions["time"].(string); ok {
			ev.Time = t
		}
	}
	return ev, nil
}

func topicEvent(in *runtimev1pb.TopicEventRequest) (*callback.TopicEvent, error) {
	ev, err := fromCloudEvent(in)
	if err != nil {
		return nil, err
	}
	ev.Topic = in.GetTopic()
	ev.PubsubName = in.GetPubsubName()
	ev.Route = in.GetPath()
	return ev, nil
}

// bulkRequest converts a bulk delivery. CloudEvent entries arrive already
// split; raw entries are parsed during dispatch so that a bad one only
// affects itself.
func bulkRequest(in *runtimev1pb.TopicEventBulkRequest) *callback.BulkRequest {
	req := &callback.BulkRequest{
		ID:         in.GetId(),
		PubsubName: in.GetPubsubName(),
		Topic:      in.GetTopic(),
		Route:      in.GetPath(),
		Metadata:   in.GetMetadata(),
		Entries:    make([]callback.BulkEntry, 0, len(in.GetEntries())),
	}
	for _, e := range in.GetEntries() {
		entry := callback.BulkEntry{
			EntryID:     e.GetEntryId(),
			ContentType: e.GetContentType(),
			Metadata:    e.GetMetadata(),
		}
		if ce := e.GetCloudEvent(); ce != nil {
			ev, err := fromCloudEvent(ce)
			if err != nil {
				// Left unparsed; dispatch drops the entry.
				entry.Raw = ce.GetData()
				entry.ContentType = ce.GetDataContentType()
			} else {
				ev.Metadata = e.GetMetadata()
				entry.Event = ev
			}
		} else {
			entry.Raw = e.GetBytes()
		}
		req.Entries = append(req.Entries, entry)
	}
	return req
}
