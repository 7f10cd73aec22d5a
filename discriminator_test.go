package callback

import (
	"testing"
)

func TestHasFields(t *testing.T) {
	view, err := JSONInspector().Inspect([]byte(`{
		"specversion": "1.0",
		"type": "order.created",
		"data": {"orderId": "123"}
	}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	t.Run("matches when all fields present", func(t *testing.T) {
		if !HasFields("specversion", "type").Match(view) {
			t.Error("expected match")
		}
	})

	t.Run("matches nested fields", func(t *testing.T) {
		if !HasFields("data.orderId").Match(view) {
			t.Error("expected match")
		}
	})

	t.Run("fails when any field missing", func(t *testing.T) {
		if HasFields("type", "missing").Match(view) {
			t.Error("expected no match")
		}
	})

	t.Run("matches with no fields", func(t *testing.T) {
		if !HasFields().Match(view) {
			t.Error("expected match for empty field list")
		}
	})
}

func TestCombinators(t *testing.T) {
	view, err := JSONInspector().Inspect([]byte(`{"a": "1", "b": "2"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := []struct {
		name string
		d    Discriminator
		want bool
	}{
		{"and all match", And(HasFields("a"), HasFields("b")), true},
		{"and one fails", And(HasFields("a"), HasFields("c")), false},
		{"or one matches", Or(HasFields("c"), HasFields("b")), true},
		{"or none match", Or(HasFields("c"), HasFields("d")), false},
		{"not inverts", Not(HasFields("c")), true},
		{"empty and", And(), true},
		{"empty or", Or(), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.d.Match(view); got != tt.want {
				t.Errorf("Match() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestShapes(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		cloudEvent bool
		bulk       bool
	}{
		{
			name:       "cloud event",
			raw:        `{"specversion":"1.0","id":"1","type":"t","source":"s","data":{}}`,
			cloudEvent: true,
		},
		{
			name: "cloud event missing source",
			raw:  `{"specversion":"1.0","id":"1","type":"t"}`,
		},
		{
			name: "bulk body",
			raw:  `{"id":"b","pubsubname":"pubsub","topic":"orders","entries":[{"entryId":"1","event":{}}]}`,
			bulk: true,
		},
		{
			name: "event with an entries field",
			raw:  `{"cart":"c1","entries":[{"sku":"a"},{"sku":"b"}]}`,
		},
		{
			name: "entries without a topic",
			raw:  `{"entries":[{"entryId":"1"}]}`,
		},
		{
			name: "empty entries",
			raw:  `{"entries":[],"topic":"orders"}`,
		},
		{
			name: "plain object",
			raw:  `{"id":1}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			view, err := JSONInspector().Inspect([]byte(tt.raw))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := CloudEventShape().Match(view); got != tt.cloudEvent {
				t.Errorf("CloudEventShape() = %v, want %v", got, tt.cloudEvent)
			}
			if got := BulkShape().Match(view); got != tt.bulk {
				t.Errorf("BulkShape() = %v, want %v", got, tt.bulk)
			}
		})
	}
}
