package mqtt311

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateTopicName(t *testing.T) {
	tests := []struct {
		name    string
		topic   string
		wantErr error
	}{
		{name: "simple", topic: "a/b/c"},
		{name: "single level", topic: "status"},
		{name: "leading slash", topic: "/a/b"},
		{name: "trailing slash", topic: "a/b/"},
		{name: "system topic", topic: "$SYS/broker/uptime"},
		{name: "unicode", topic: "sensörs/ölçüm"},
		{name: "empty", topic: "", wantErr: ErrEmptyTopic},
		{name: "plus wildcard", topic: "a/+/c", wantErr: ErrInvalidTopicName},
		{name: "hash wildcard", topic: "a/#", wantErr: ErrInvalidTopicName},
		{name: "null character", topic: "a/\x00/b", wantErr: ErrInvalidTopicName},
		{name: "invalid utf8", topic: "a/\xff\xfe", wantErr: ErrInvalidTopicName},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTopicName(tt.topic)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateTopicFilter(t *testing.T) {
	tests := []struct {
		name    string
		filter  string
		wantErr error
	}{
		{name: "plain", filter: "a/b/c"},
		{name: "single level wildcard", filter: "a/+/c"},
		{name: "multi level wildcard", filter: "a/#"},
		{name: "hash only", filter: "#"},
		{name: "plus only", filter: "+"},
		{name: "wildcards combined", filter: "+/+/#"},
		{name: "empty", filter: "", wantErr: ErrEmptyTopic},
		{name: "plus inside level", filter: "a/b+/c", wantErr: ErrInvalidTopicFilter},
		{name: "hash inside level", filter: "a/b#", wantErr: ErrInvalidTopicFilter},
		{name: "hash not last", filter: "a/#/c", wantErr: ErrInvalidTopicFilter},
		{name: "null character", filter: "a/\x00", wantErr: ErrInvalidTopicFilter},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTopicFilter(tt.filter)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestTopicMatch(t *testing.T) {
	tests := []struct {
		name   string
		filter string
		topic  string
		want   bool
	}{
		{name: "exact", filter: "a/b/c", topic: "a/b/c", want: true},
		{name: "exact mismatch", filter: "a/b/c", topic: "a/b/d", want: false},
		{name: "fewer levels", filter: "a/b/c", topic: "a/b", want: false},
		{name: "more levels", filter: "a/b", topic: "a/b/c", want: false},
		{name: "single wildcard middle", filter: "home/+/temperature", topic: "home/kitchen/temperature", want: true},
		{name: "single wildcard one level only", filter: "home/+/temperature", topic: "home/first/kitchen/temperature", want: false},
		{name: "single wildcard end", filter: "home/+", topic: "home/kitchen", want: true},
		{name: "single wildcard rejects empty middle level", filter: "home/+/temperature", topic: "home//temperature", want: false},
		{name: "single wildcard rejects empty trailing level", filter: "sport/+", topic: "sport/", want: false},
		{name: "empty level matched exactly", filter: "home//temperature", topic: "home//temperature", want: true},
		{name: "multi wildcard", filter: "home/#", topic: "home/kitchen/temperature", want: true},
		{name: "multi wildcard matches parent", filter: "home/#", topic: "home", want: true},
		{name: "hash only matches anything", filter: "#", topic: "a/b/c", want: true},
		{name: "plus only single level", filter: "+", topic: "a", want: true},
		{name: "plus only rejects multilevel", filter: "+", topic: "a/b", want: false},
		{name: "system topic not matched by hash", filter: "#", topic: "$SYS/broker/uptime", want: false},
		{name: "system topic not matched by plus", filter: "+/broker/uptime", topic: "$SYS/broker/uptime", want: false},
		{name: "system topic explicit filter", filter: "$SYS/#", topic: "$SYS/broker/uptime", want: true},
		{name: "empty filter", filter: "", topic: "a", want: false},
		{name: "empty topic", filter: "#", topic: "", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TopicMatch(tt.filter, tt.topic))
		})
	}
}

func TestIsSystemTopic(t *testing.T) {
	assert.True(t, IsSystemTopic("$SYS"))
	assert.True(t, IsSystemTopic("$SYS/broker/uptime"))
	assert.False(t, IsSystemTopic("a/b"))
	assert.False(t, IsSystemTopic("$share/group/a"))
}

func TestTopicMatcherSubscribeMatch(t *testing.T) {
	m := NewTopicMatcher()

	require.NoError(t, m.Subscribe("home/+/temperature", "single"))
	require.NoError(t, m.Subscribe("home/#", "multi"))
	require.NoError(t, m.Subscribe("home/kitchen/temperature", "exact"))

	subs := m.Match("home/kitchen/temperature")
	assert.ElementsMatch(t, []any{"single", "multi", "exact"}, subs)

	subs = m.Match("home/kitchen/humidity")
	assert.ElementsMatch(t, []any{"multi"}, subs)

	assert.Empty(t, m.Match("office/kitchen/temperature"))
}

func TestTopicMatcherEmptyLevels(t *testing.T) {
	m := NewTopicMatcher()

	require.NoError(t, m.Subscribe("sport/+", "trailing"))
	require.NoError(t, m.Subscribe("home/+/temperature", "middle"))
	require.NoError(t, m.Subscribe("home//temperature", "literal"))

	// A single-level wildcard requires one non-empty level
	assert.Empty(t, m.Match("sport/"))
	assert.ElementsMatch(t, []any{"literal"}, m.Match("home//temperature"))
	assert.ElementsMatch(t, []any{"trailing"}, m.Match("sport/tennis"))
	assert.ElementsMatch(t, []any{"middle"}, m.Match("home/kitchen/temperature"))
}

func TestTopicMatcherSystemTopics(t *testing.T) {
	m := NewTopicMatcher()

	require.NoError(t, m.Subscribe("#", "all"))
	require.NoError(t, m.Subscribe("+/broker", "plus"))
	require.NoError(t, m.Subscribe("$SYS/#", "sys"))

	assert.ElementsMatch(t, []any{"sys"}, m.Match("$SYS/broker"))
	assert.ElementsMatch(t, []any{"all", "plus"}, m.Match("test/broker"))
}

func TestTopicMatcherUnsubscribe(t *testing.T) {
	m := NewTopicMatcher()

	require.NoError(t, m.Subscribe("a/b", "first"))
	require.NoError(t, m.Subscribe("a/b", "second"))

	require.NoError(t, m.Unsubscribe("a/b", "first"))
	assert.ElementsMatch(t, []any{"second"}, m.Match("a/b"))

	// Unsubscribing an unknown filter is a no-op
	require.NoError(t, m.Unsubscribe("x/y", "first"))
}

func TestTopicMatcherInvalidInputs(t *testing.T) {
	m := NewTopicMatcher()

	assert.ErrorIs(t, m.Subscribe("a/b#", "s"), ErrInvalidTopicFilter)
	assert.ErrorIs(t, m.Unsubscribe("", "s"), ErrEmptyTopic)
	assert.Nil(t, m.Match("a/+"))
}
