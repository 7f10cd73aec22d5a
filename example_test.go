package callback_test

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"time"

	"github.com/bjaus/callback"
)

// OrderCreated is the data of an order.created event.
type OrderCreated struct {
	OrderID string  `json:"order_id"`
	Total   float64 `json:"total"`
}

func Example() {
	r := callback.New(
		callback.WithLogger(slog.New(slog.DiscardHandler)),
		callback.WithOnFailure(func(ctx context.Context, kind callback.Kind, key string, err error, d time.Duration) {
			log.Printf("%s %s failed: %v (%v)", kind, key, err, d)
		}),
	)

	err := callback.RegisterTopic(r, "pubsub", "orders", func(ctx context.Context, o OrderCreated) error {
		fmt.Printf("Order %s: %.2f\n", o.OrderID, o.Total)
		return nil
	})
	if err != nil {
		log.Fatal(err)
	}

	raw := []byte(`{
		"specversion": "1.0",
		"id": "evt-1",
		"source": "shop",
		"type": "order.created",
		"data": {"order_id": "123", "total": 42.5}
	}`)
	e, err := callback.ParseTopicEvent(callback.TopicEnvelope{PubsubName: "pubsub", Topic: "orders"}, raw)
	if err != nil {
		log.Fatal(err)
	}

	status, _ := r.OnTopicEvent(context.Background(), e)
	fmt.Println(status)

	// Output:
	// Order 123: 42.50
	// SUCCESS
}

func Example_rules() {
	r := callback.New(callback.WithLogger(slog.New(slog.DiscardHandler)))

	handler := func(name string) callback.TopicHandler {
		return callback.TopicHandlerFunc(func(ctx context.Context, e *callback.TopicEvent) (callback.TopicStatus, error) {
			fmt.Println(name, e.ID)
			return callback.StatusSuccess, nil
		})
	}

	_ = r.AddTopicHandler("pubsub", "orders", handler("large"),
		callback.WithRule(`event.type == "order.created" && event.data.total > 1000.0`, 1))
	_ = r.AddTopicHandler("pubsub", "orders", handler("created"),
		callback.WithRule(`event.type == "order.created"`, 2))
	_ = r.AddTopicHandler("pubsub", "orders", handler("other"))

	ctx := context.Background()
	for _, raw := range []string{
		`{"specversion":"1.0","id":"a","source":"shop","type":"order.created","data":{"total":5000}}`,
		`{"specversion":"1.0","id":"b","source":"shop","type":"order.created","data":{"total":10}}`,
		`{"specversion":"1.0","id":"c","source":"shop","type":"order.cancelled","data":{}}`,
	} {
		e, _ := callback.ParseTopicEvent(callback.TopicEnvelope{PubsubName: "pubsub", Topic: "orders"}, []byte(raw))
		_, _ = r.OnTopicEvent(ctx, e)
	}

	// Output:
	// large a
	// created b
	// other c
}

func Example_methodHandlerFunc() {
	r := callback.New()

	_ = r.AddMethodHandler("echo", callback.MethodHandlerFunc(
		func(ctx context.Context, in *callback.InvocationEvent) (callback.Result, error) {
			return callback.Bytes(in.Data), nil
		}))

	resp, err := r.Invoke(context.Background(), &callback.InvocationEvent{
		Method: "echo",
		Data:   []byte(`{"hello":"world"}`),
	})
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(resp.ContentType, string(resp.Data))

	// Output:
	// application/json {"hello":"world"}
}

func Example_bulk() {
	r := callback.New(callback.WithLogger(slog.New(slog.DiscardHandler)))

	_ = r.AddTopicHandler("pubsub", "orders", callback.TopicHandlerFunc(
		func(ctx context.Context, e *callback.TopicEvent) (callback.TopicStatus, error) {
			if e.Data == nil {
				return callback.StatusDrop, nil
			}
			return callback.StatusSuccess, nil
		}), callback.WithBulkSubscribe(100, 1000))

	req, err := callback.ParseBulkRequest(
		callback.TopicEnvelope{PubsubName: "pubsub", Topic: "orders"},
		[]byte(`{"entries":[
			{"entryId":"1","event":{"n":1},"contentType":"application/json"},
			{"entryId":"2","event":"","contentType":"text/plain"},
			{"entryId":"3","event":{"n":3},"contentType":"application/json"}
		]}`))
	if err != nil {
		log.Fatal(err)
	}

	resp, _ := r.OnBulkTopicEvent(context.Background(), req)
	for _, s := range resp.Statuses {
		fmt.Println(s.EntryID, s.Status)
	}

	// Output:
	// 1 SUCCESS
	// 2 DROP
	// 3 SUCCESS
}

func Example_subscriptions() {
	r := callback.New()

	noop := callback.TopicHandlerFunc(func(context.Context, *callback.TopicEvent) (callback.TopicStatus, error) {
		return callback.StatusSuccess, nil
	})
	_ = r.AddTopicHandler("pubsub", "orders", noop,
		callback.WithRule(`event.type == "order.created"`, 1),
		callback.WithRoute("/orders/created"))
	_ = r.AddTopicHandler("pubsub", "orders", noop, callback.WithDeadLetterTopic("orders-dead"))

	for _, sub := range r.Subscriptions() {
		fmt.Println(sub.PubsubName, sub.Topic, sub.Route, sub.DeadLetterTopic)
		for _, rule := range sub.Rules {
			fmt.Println(" ", rule.Match, "->", rule.Path)
		}
	}

	// Output:
	// pubsub orders /events/pubsub/orders orders-dead
	//   event.type == "order.created" -> /orders/created
}
