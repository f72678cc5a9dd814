package bus_test

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/chiobot/chio/bus"
)

type pinged struct{ n int }

func (pinged) Kind() string { return "test.pinged" }

type ponged struct{ n int }

func (ponged) Kind() string { return "test.ponged" }

func TestPublishOrder(t *testing.T) {
	t.Parallel()
	b := bus.New()
	var got []string
	b.Subscribe(func(ctx context.Context, ev bus.Event) {
		got = append(got, "first:"+ev.Kind())
	})
	b.Subscribe(func(ctx context.Context, ev bus.Event) {
		got = append(got, "second:"+ev.Kind())
	})
	b.Publish(context.Background(), pinged{1})
	b.Publish(context.Background(), ponged{1})
	want := []string{
		"first:test.pinged",
		"second:test.pinged",
		"first:test.ponged",
		"second:test.ponged",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("wrong delivery order (-want +got):\n%s", diff)
	}
}

func TestSubscribeFiltered(t *testing.T) {
	t.Parallel()
	b := bus.New()
	var got []bus.Event
	b.SubscribeFiltered(
		func(ev bus.Event) bool { return ev.Kind() == "test.pinged" },
		func(ctx context.Context, ev bus.Event) { got = append(got, ev) },
	)
	b.Publish(context.Background(), ponged{1})
	b.Publish(context.Background(), pinged{2})
	if len(got) != 1 {
		t.Fatalf("wrong number of events: want 1, got %d", len(got))
	}
	if got[0].(pinged).n != 2 {
		t.Errorf("wrong event: want pinged{2}, got %+v", got[0])
	}
}

func TestOn(t *testing.T) {
	t.Parallel()
	b := bus.New()
	var got []int
	bus.On(b, func(ctx context.Context, ev pinged) {
		got = append(got, ev.n)
	})
	b.Publish(context.Background(), pinged{1})
	b.Publish(context.Background(), ponged{2})
	b.Publish(context.Background(), pinged{3})
	if diff := cmp.Diff([]int{1, 3}, got); diff != "" {
		t.Errorf("wrong events (-want +got):\n%s", diff)
	}
}

func TestUnsubscribe(t *testing.T) {
	t.Parallel()
	b := bus.New()
	var n int
	remove := b.Subscribe(func(ctx context.Context, ev bus.Event) { n++ })
	b.Publish(context.Background(), pinged{1})
	remove()
	b.Publish(context.Background(), pinged{2})
	if n != 1 {
		t.Errorf("wrong count after unsubscribe: want 1, got %d", n)
	}
	// Removing twice is harmless.
	remove()
}

func TestSubscribeDuringPublish(t *testing.T) {
	t.Parallel()
	b := bus.New()
	var n int
	b.Subscribe(func(ctx context.Context, ev bus.Event) {
		b.Subscribe(func(ctx context.Context, ev bus.Event) { n++ })
	})
	b.Publish(context.Background(), pinged{1})
	if n != 0 {
		t.Errorf("new subscriber ran during its own publish: n=%d", n)
	}
	b.Publish(context.Background(), pinged{2})
	if n != 1 {
		t.Errorf("new subscriber didn't run on next publish: n=%d", n)
	}
}

func TestPublishNested(t *testing.T) {
	t.Parallel()
	b := bus.New()
	var got []string
	bus.On(b, func(ctx context.Context, ev pinged) {
		got = append(got, "pinged")
		b.Publish(ctx, ponged{ev.n})
	})
	bus.On(b, func(ctx context.Context, ev ponged) {
		got = append(got, "ponged")
	})
	b.Publish(context.Background(), pinged{1})
	if diff := cmp.Diff([]string{"pinged", "ponged"}, got); diff != "" {
		t.Errorf("wrong nested delivery (-want +got):\n%s", diff)
	}
}
