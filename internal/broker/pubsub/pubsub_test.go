package pubsub

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nexo-broker/nexo/internal/protocol"
)

func TestExactTopicIsolation(t *testing.T) {
	b := New()
	b.Subscribe(1, "a/c")
	deliveries := b.Publish("a/b", protocol.StringAny("v"), false)
	require.Empty(t, deliveries)
}

func TestPlusWildcardMatchesSingleSegment(t *testing.T) {
	b := New()
	b.Subscribe(1, "home/+/temp")

	matches := b.Publish("home/kitchen/temp", protocol.StringAny("21"), false)
	require.Len(t, matches, 1)

	noMatch := b.Publish("home/kitchen/light", protocol.StringAny("on"), false)
	require.Empty(t, noMatch)

	noMatch2 := b.Publish("home/kitchen/cupboard/temp", protocol.StringAny("5"), false)
	require.Empty(t, noMatch2)
}

func TestHashWildcardMatchesTrailingSegments(t *testing.T) {
	b := New()
	b.Subscribe(1, "sensors/#")

	require.Len(t, b.Publish("sensors/x", protocol.StringAny("1"), false), 1)
	require.Len(t, b.Publish("sensors/a/b/c", protocol.StringAny("2"), false), 1)
	require.Empty(t, b.Publish("other/sensors/x", protocol.StringAny("3"), false))
}

func TestRetainedValueDeliveredOnSubscribe(t *testing.T) {
	b := New()
	b.Publish("config/app/db/host", protocol.StringAny("localhost"), true)

	deliveries := b.Subscribe(1, "config/app/db/host")
	require.Len(t, deliveries, 1)
	require.Equal(t, "localhost", deliveries[0].Payload.AsString())
}

func TestRetainedWildcardSubscribeDeliversAllMatches(t *testing.T) {
	b := New()
	b.Publish("config/app/db/host", protocol.StringAny("localhost"), true)
	b.Publish("config/app/db/port", protocol.StringAny("5432"), true)
	b.Publish("config/app/cache/ttl", protocol.StringAny("60"), true)
	b.Publish("config/system/os", protocol.StringAny("linux"), true)

	deliveries := b.Subscribe(1, "config/app/#")
	require.Len(t, deliveries, 3)

	var topics []string
	for _, d := range deliveries {
		topics = append(topics, d.Topic)
	}
	require.ElementsMatch(t, []string{
		"config/app/db/host", "config/app/db/port", "config/app/cache/ttl",
	}, topics)
}

func TestEmptyRetainedPayloadDeletesRetainedValue(t *testing.T) {
	b := New()
	b.Publish("t", protocol.StringAny("v"), true)
	b.Publish("t", protocol.StringAny(""), true)

	deliveries := b.Subscribe(1, "t")
	require.Empty(t, deliveries)
}

func TestDuplicateSubscriptionsProduceDuplicateDeliveries(t *testing.T) {
	b := New()
	b.Subscribe(1, "t")
	b.Subscribe(1, "t")

	deliveries := b.Publish("t", protocol.StringAny("v"), false)
	require.Len(t, deliveries, 2)
}

func TestUnsubscribeRemovesOneRegistration(t *testing.T) {
	b := New()
	b.Subscribe(1, "t")
	b.Subscribe(1, "t")
	b.Unsubscribe(1, "t")

	deliveries := b.Publish("t", protocol.StringAny("v"), false)
	require.Len(t, deliveries, 1)
}

func TestRemoveConnectionDropsAllItsSubscriptions(t *testing.T) {
	b := New()
	b.Subscribe(1, "t")
	b.Subscribe(1, "wild/+")
	b.Subscribe(2, "t")

	b.RemoveConnection(1)

	deliveries := b.Publish("t", protocol.StringAny("v"), false)
	require.Len(t, deliveries, 1)
	require.Equal(t, ConnID(2), deliveries[0].Conn)

	require.Empty(t, b.Publish("wild/x", protocol.StringAny("v"), false))
}
