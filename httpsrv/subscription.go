package httpsrv

import "github.com/bjaus/callback"

// subscription is one entry of the /dapr/subscribe response.
type subscription struct {
	PubsubName      string            `json:"pubsubname"`
	Topic           string            `json:"topic"`
	Route           string            `json:"route,omitempty"`
	Routes          *routes           `json:"routes,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	DeadLetterTopic string            `json:"deadLetterTopic,omitempty"`
	BulkSubscribe   *bulkSubscribe    `json:"bulkSubscribe,omitempty"`
}

type routes struct {
	Rules   []rule `json:"rules,omitempty"`
	Default string `json:"default,omitempty"`
}

type rule struct {
	Match string `json:"match"`
	Path  string `json:"path"`
}

type bulkSubscribe struct {
	Enabled            bool  `json:"enabled"`
	MaxMessagesCount   int32 `json:"maxMessagesCount,omitempty"`
	MaxAwaitDurationMs int32 `json:"maxAwaitDurationMs,omitempty"`
}

func toSubscription(sub callback.Subscription) subscription {
	out := subscription{
		PubsubName:      sub.PubsubName,
		Topic:           sub.Topic,
		Metadata:        sub.Metadata,
		DeadLetterTopic: sub.DeadLetterTopic,
	}
	if len(sub.Rules) == 0 {
		out.Route = sub.Route
	} else {
		out.Routes = &routes{Default: sub.Route}
		for _, r := range sub.Rules {
			out.Routes.Rules = append(out.Routes.Rules, rule{Match: r.Match, Path: r.Path})
		}
	}
	if sub.Bulk != nil {
		out.BulkSubscribe = &bulkSubscribe{
			Enabled:            sub.Bulk.Enabled,
			MaxMessagesCount:   sub.Bulk.MaxMessagesCount,
			MaxAwaitDurationMs: sub.Bulk.MaxAwaitDurationMs,
		}
	}
	return out
}
