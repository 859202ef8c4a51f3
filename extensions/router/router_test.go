package router

import (
	"regexp"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iotforge/mqtt311"
)

func TestRouterHandle(t *testing.T) {
	r := New()

	var called bool
	r.Handle(func(_ *mqtt311.Message) {
		called = true
	}, WithTopic("test/topic"))

	assert.Equal(t, 1, r.Len())

	r.Route(&mqtt311.Message{Topic: "test/topic"})
	assert.True(t, called)
}

func TestRouterExactMatch(t *testing.T) {
	r := New()

	var received string
	r.Handle(func(msg *mqtt311.Message) {
		received = msg.Topic
	}, WithTopic("sensors/temperature"))

	r.Route(&mqtt311.Message{Topic: "sensors/temperature"})
	assert.Equal(t, "sensors/temperature", received)

	received = ""
	r.Route(&mqtt311.Message{Topic: "sensors/humidity"})
	assert.Empty(t, received)
}

func TestRouterWildcards(t *testing.T) {
	r := New()

	var topics []string
	r.Handle(func(msg *mqtt311.Message) {
		topics = append(topics, msg.Topic)
	}, WithTopic("sensors/+/value"))
	r.Handle(func(msg *mqtt311.Message) {
		topics = append(topics, msg.Topic)
	}, WithTopic("alerts/#"))

	r.Route(&mqtt311.Message{Topic: "sensors/temp/value"})
	r.Route(&mqtt311.Message{Topic: "sensors/humidity/value"})
	r.Route(&mqtt311.Message{Topic: "sensors/temp/other"}) // Should not match
	r.Route(&mqtt311.Message{Topic: "alerts/fire/kitchen"})
	r.Route(&mqtt311.Message{Topic: "other/topic"}) // Should not match

	require.Len(t, topics, 3)
	assert.Contains(t, topics, "sensors/temp/value")
	assert.Contains(t, topics, "sensors/humidity/value")
	assert.Contains(t, topics, "alerts/fire/kitchen")
}

func TestRouterMultipleHandlers(t *testing.T) {
	r := New()

	var count int32
	r.Handle(func(_ *mqtt311.Message) {
		atomic.AddInt32(&count, 1)
	}, WithTopic("topic/+"))
	r.Handle(func(_ *mqtt311.Message) {
		atomic.AddInt32(&count, 1)
	}, WithTopic("topic/test"))
	r.Handle(func(_ *mqtt311.Message) {
		atomic.AddInt32(&count, 1)
	}, WithTopic("#"))

	r.Route(&mqtt311.Message{Topic: "topic/test"})
	assert.Equal(t, int32(3), atomic.LoadInt32(&count))
}

func TestRouterConditions(t *testing.T) {
	tests := []struct {
		name  string
		opts  []ConditionOption
		msg   mqtt311.Message
		match bool
	}{
		{
			name:  "qos match",
			opts:  []ConditionOption{WithTopic("a/#"), WithQoS(1)},
			msg:   mqtt311.Message{Topic: "a/b", QoS: 1},
			match: true,
		},
		{
			name:  "qos mismatch",
			opts:  []ConditionOption{WithTopic("a/#"), WithQoS(1)},
			msg:   mqtt311.Message{Topic: "a/b", QoS: 2},
			match: false,
		},
		{
			name:  "retained only",
			opts:  []ConditionOption{WithRetain(true)},
			msg:   mqtt311.Message{Topic: "a/b", Retain: true},
			match: true,
		},
		{
			name:  "live traffic only rejects retained",
			opts:  []ConditionOption{WithRetain(false)},
			msg:   mqtt311.Message{Topic: "a/b", Retain: true},
			match: false,
		},
		{
			name:  "duplicate flag",
			opts:  []ConditionOption{WithDuplicate(true)},
			msg:   mqtt311.Message{Topic: "a/b", Duplicate: true},
			match: true,
		},
		{
			name:  "payload pattern match",
			opts:  []ConditionOption{WithPayload(regexp.MustCompile(`^\{`))},
			msg:   mqtt311.Message{Topic: "a/b", Payload: []byte(`{"k":1}`)},
			match: true,
		},
		{
			name:  "payload pattern mismatch",
			opts:  []ConditionOption{WithPayload(regexp.MustCompile(`^\{`))},
			msg:   mqtt311.Message{Topic: "a/b", Payload: []byte("plain")},
			match: false,
		},
		{
			name: "all conditions together",
			opts: []ConditionOption{
				WithTopic("sensors/+"),
				WithQoS(1),
				WithRetain(false),
				WithPayload(regexp.MustCompile(`^\d+$`)),
			},
			msg:   mqtt311.Message{Topic: "sensors/temp", QoS: 1, Payload: []byte("42")},
			match: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New()

			var called bool
			r.Handle(func(_ *mqtt311.Message) {
				called = true
			}, tt.opts...)

			r.Route(&tt.msg)
			assert.Equal(t, tt.match, called)
		})
	}
}

func TestRouterFilters(t *testing.T) {
	r := New()

	r.Handle(func(_ *mqtt311.Message) {}, WithTopic("topic/a"))
	r.Handle(func(_ *mqtt311.Message) {}, WithTopic("topic/b"))
	r.Handle(func(_ *mqtt311.Message) {}, WithTopic("topic/a")) // Duplicate
	r.Handle(func(_ *mqtt311.Message) {})                       // No topic condition

	filters := r.Filters()
	assert.Len(t, filters, 2)
	assert.Contains(t, filters, "topic/a")
	assert.Contains(t, filters, "topic/b")
}

func TestRouterClear(t *testing.T) {
	r := New()

	r.Handle(func(_ *mqtt311.Message) {}, WithTopic("a"))
	r.Handle(func(_ *mqtt311.Message) {}, WithTopic("b"))
	require.Equal(t, 2, r.Len())

	r.Clear()
	assert.Zero(t, r.Len())
}

func TestRouterNilMessage(t *testing.T) {
	r := New()

	r.Handle(func(_ *mqtt311.Message) {
		t.Fatal("handler called for nil message")
	}, WithTopic("#"))

	r.Route(nil)
}

func TestRouterMessageHandler(t *testing.T) {
	r := New()

	var received *mqtt311.Message
	r.Handle(func(msg *mqtt311.Message) {
		received = msg
	}, WithTopic("devices/+/state"))

	var handler mqtt311.MessageHandler = r.MessageHandler()
	handler(&mqtt311.Message{Topic: "devices/d1/state", Payload: []byte("on")})

	require.NotNil(t, received)
	assert.Equal(t, "devices/d1/state", received.Topic)
}
