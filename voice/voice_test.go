package voice

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/chiobot/chio/bus"
)

// testTracker returns a tracker with a controllable clock and a record
// of every event it publishes.
func testTracker(self int64) (*Tracker, *time.Time, *[]bus.Event) {
	b := bus.New()
	var events []bus.Event
	b.Subscribe(func(ctx context.Context, ev bus.Event) {
		events = append(events, ev)
	})
	t := NewTracker(b, self)
	now := time.Unix(1000, 0)
	t.now = func() time.Time { return now }
	return t, &now, &events
}

func kinds(events []bus.Event) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.Kind()
	}
	return out
}

func TestJoin(t *testing.T) {
	t.Parallel()
	tr, _, events := testTracker(99)
	ctx := context.Background()
	tr.Update(ctx, nil, State{UserID: 1, GuildID: 10, ChannelID: 100})
	want := []string{"voice.user.start", "voice.guild.start"}
	if diff := cmp.Diff(want, kinds(*events)); diff != "" {
		t.Fatalf("wrong events for first join (-want +got):\n%s", diff)
	}
	*events = nil
	tr.Update(ctx, nil, State{UserID: 2, GuildID: 10, ChannelID: 100})
	want = []string{"voice.user.start", "voice.guild.update"}
	if diff := cmp.Diff(want, kinds(*events)); diff != "" {
		t.Fatalf("wrong events for second join (-want +got):\n%s", diff)
	}
	gu := (*events)[1].(GuildUpdate)
	if gu.Users != 2 {
		t.Errorf("wrong population: want 2, got %d", gu.Users)
	}
	if tr.Joined() != 2 {
		t.Errorf("wrong joined count: want 2, got %d", tr.Joined())
	}
}

func TestDuplicateJoin(t *testing.T) {
	t.Parallel()
	tr, _, events := testTracker(99)
	ctx := context.Background()
	st := State{UserID: 1, GuildID: 10, ChannelID: 100}
	tr.Update(ctx, nil, st)
	*events = nil
	// The gateway resends the same join with no prior state.
	tr.Update(ctx, nil, st)
	if len(*events) != 0 {
		t.Errorf("duplicate join published events: %v", kinds(*events))
	}
	if tr.Joined() != 1 {
		t.Errorf("wrong joined count: want 1, got %d", tr.Joined())
	}
}

func TestUpdateFlags(t *testing.T) {
	t.Parallel()
	tr, _, events := testTracker(99)
	ctx := context.Background()
	old := State{UserID: 1, GuildID: 10, ChannelID: 100}
	tr.Update(ctx, nil, old)
	*events = nil
	new := old
	new.SelfMute = true
	tr.Update(ctx, &old, new)
	if diff := cmp.Diff([]string{"voice.user.update"}, kinds(*events)); diff != "" {
		t.Fatalf("wrong events for flag change (-want +got):\n%s", diff)
	}
	uu := (*events)[0].(UserUpdate)
	if uu.Old.SelfMute || !uu.New.SelfMute {
		t.Errorf("wrong states: old %+v new %+v", uu.Old, uu.New)
	}
}

func TestLeave(t *testing.T) {
	t.Parallel()
	tr, now, events := testTracker(99)
	ctx := context.Background()
	start := *now
	tr.Update(ctx, nil, State{UserID: 1, GuildID: 10, ChannelID: 100})
	*now = now.Add(time.Minute)
	tr.Update(ctx, nil, State{UserID: 2, GuildID: 10, ChannelID: 100})
	*events = nil

	*now = now.Add(time.Minute)
	old := State{UserID: 1, GuildID: 10, ChannelID: 100}
	tr.Update(ctx, &old, State{UserID: 1, GuildID: 10})
	want := []string{"voice.user.end", "voice.guild.update"}
	if diff := cmp.Diff(want, kinds(*events)); diff != "" {
		t.Fatalf("wrong events for partial leave (-want +got):\n%s", diff)
	}
	ue := (*events)[0].(UserEnd)
	if !ue.Joined.Equal(start) {
		t.Errorf("wrong join time: want %v, got %v", start, ue.Joined)
	}
	if got := ue.Left.Sub(ue.Joined); got != 2*time.Minute {
		t.Errorf("wrong session span: want 2m, got %v", got)
	}

	*events = nil
	old = State{UserID: 2, GuildID: 10, ChannelID: 100}
	tr.Update(ctx, &old, State{UserID: 2, GuildID: 10})
	want = []string{"voice.user.end", "voice.guild.end"}
	if diff := cmp.Diff(want, kinds(*events)); diff != "" {
		t.Fatalf("wrong events for final leave (-want +got):\n%s", diff)
	}
	ge := (*events)[1].(GuildEnd)
	if !ge.Start.Equal(start) {
		t.Errorf("wrong channel start: want %v, got %v", start, ge.Start)
	}
	if tr.Joined() != 0 {
		t.Errorf("users still tracked after channel closed: %d", tr.Joined())
	}
}

func TestMove(t *testing.T) {
	t.Parallel()
	tr, _, events := testTracker(99)
	ctx := context.Background()
	old := State{UserID: 1, GuildID: 10, ChannelID: 100}
	tr.Update(ctx, nil, old)
	*events = nil
	tr.Update(ctx, &old, State{UserID: 1, GuildID: 10, ChannelID: 200})
	want := []string{
		"voice.user.end",
		"voice.guild.end",
		"voice.user.start",
		"voice.guild.start",
	}
	if diff := cmp.Diff(want, kinds(*events)); diff != "" {
		t.Fatalf("wrong events for move (-want +got):\n%s", diff)
	}
	ue := (*events)[0].(UserEnd)
	if ue.State.ChannelID != 100 {
		t.Errorf("wrong ended channel: want 100, got %d", ue.State.ChannelID)
	}
	us := (*events)[2].(UserStart)
	if us.State.ChannelID != 200 {
		t.Errorf("wrong started channel: want 200, got %d", us.State.ChannelID)
	}
}

func TestSelfIgnored(t *testing.T) {
	t.Parallel()
	tr, _, events := testTracker(99)
	tr.Update(context.Background(), nil, State{UserID: 99, GuildID: 10, ChannelID: 100})
	if len(*events) != 0 {
		t.Errorf("own updates published events: %v", kinds(*events))
	}
}

func TestSetSelf(t *testing.T) {
	t.Parallel()
	tr, _, events := testTracker(0)
	ctx := context.Background()
	tr.SetSelf(99)
	tr.Update(ctx, nil, State{UserID: 99, GuildID: 10, ChannelID: 100})
	if len(*events) != 0 {
		t.Errorf("own updates published events after SetSelf: %v", kinds(*events))
	}
	tr.Update(ctx, nil, State{UserID: 1, GuildID: 10, ChannelID: 100})
	if tr.Joined() != 1 {
		t.Errorf("wrong joined count: want 1, got %d", tr.Joined())
	}
}

func TestUpdateUntracked(t *testing.T) {
	t.Parallel()
	tr, _, events := testTracker(99)
	ctx := context.Background()
	// A flags change for a user whose join we never saw. The reported
	// prior channel is not adopted as an open session.
	old := State{UserID: 1, GuildID: 10, ChannelID: 100}
	new := old
	new.SelfMute = true
	tr.Update(ctx, &old, new)
	if len(*events) != 0 {
		t.Errorf("untracked update published events: %v", kinds(*events))
	}
	// A real join afterward still opens the session.
	tr.Update(ctx, nil, State{UserID: 1, GuildID: 10, ChannelID: 100})
	want := []string{"voice.user.start", "voice.guild.start"}
	if diff := cmp.Diff(want, kinds(*events)); diff != "" {
		t.Fatalf("wrong events for later join (-want +got):\n%s", diff)
	}
}

func TestMismatchTrustsTracked(t *testing.T) {
	t.Parallel()
	tr, _, events := testTracker(99)
	ctx := context.Background()
	tr.Update(ctx, nil, State{UserID: 1, GuildID: 10, ChannelID: 100})
	*events = nil
	// The gateway claims the user was in channel 300, but we recorded the
	// join to 100. The session we opened is the one that closes.
	old := State{UserID: 1, GuildID: 10, ChannelID: 300}
	tr.Update(ctx, &old, State{UserID: 1, GuildID: 10})
	want := []string{"voice.user.end", "voice.guild.end"}
	if diff := cmp.Diff(want, kinds(*events)); diff != "" {
		t.Fatalf("wrong events (-want +got):\n%s", diff)
	}
	ue := (*events)[0].(UserEnd)
	if ue.State.ChannelID != 100 {
		t.Errorf("closed the reported channel instead of the tracked one: %d", ue.State.ChannelID)
	}
}

func TestLeaveUntracked(t *testing.T) {
	t.Parallel()
	tr, _, events := testTracker(99)
	old := State{UserID: 1, GuildID: 10, ChannelID: 100}
	tr.Update(context.Background(), &old, State{UserID: 1, GuildID: 10})
	if len(*events) != 0 {
		t.Errorf("leave for unknown session published events: %v", kinds(*events))
	}
}

func TestFlush(t *testing.T) {
	t.Parallel()
	tr, now, events := testTracker(99)
	ctx := context.Background()
	joined := *now
	tr.Update(ctx, nil, State{UserID: 1, GuildID: 10, ChannelID: 100})
	tr.Update(ctx, nil, State{UserID: 2, GuildID: 10, ChannelID: 100})
	tr.Update(ctx, nil, State{UserID: 3, GuildID: 11, ChannelID: 200})
	*events = nil
	*now = now.Add(time.Hour)
	tr.Flush(ctx)
	var ends, guilds int
	for _, ev := range *events {
		switch ev := ev.(type) {
		case UserEnd:
			ends++
			if !ev.Joined.Equal(joined) || ev.Left.Sub(ev.Joined) != time.Hour {
				t.Errorf("wrong flushed span: %+v", ev)
			}
		case GuildEnd:
			guilds++
		default:
			t.Errorf("unexpected event: %v", ev.Kind())
		}
	}
	if ends != 3 || guilds != 2 {
		t.Errorf("wrong flush events: %d user ends, %d guild ends", ends, guilds)
	}
	if tr.Joined() != 0 {
		t.Errorf("users still tracked after flush: %d", tr.Joined())
	}
	// A second flush has nothing to do.
	*events = nil
	tr.Flush(ctx)
	if len(*events) != 0 {
		t.Errorf("second flush published events: %v", kinds(*events))
	}
}
