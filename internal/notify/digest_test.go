package notify

import (
	"context"
	"strings"
	"testing"

	"github.com/ARES11430/marzban-user-info-bot/internal/panel"
	"github.com/ARES11430/marzban-user-info-bot/pkg/logx"
)

func TestDigestSkipsQuietDays(t *testing.T) {
	t.Parallel()
	p := &fakePanel{}
	sink := &fakeSink{}
	d := NewDigest(p, &fakeSettings{}, sink, func() int64 { return mainAdminChat }, logx.Nop())

	if err := d.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sink.count() != 0 {
		t.Fatal("quiet day produced a digest")
	}
}

func TestDigestSendsWhenUsersExpire(t *testing.T) {
	t.Parallel()
	p := &fakePanel{expiring: panel.ExpiringUsers{Today: []string{"alice"}, Tomorrow: []string{"bob", "carol"}}}
	sink := &fakeSink{}
	d := NewDigest(p, &fakeSettings{}, sink, func() int64 { return mainAdminChat }, logx.Nop())

	if err := d.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	msg, ok := sink.last()
	if !ok || msg.ChatID != mainAdminChat {
		t.Fatalf("digest not sent to main admin: %+v", msg)
	}
	for _, want := range []string{"Expiring Users", "alice", "bob", "carol"} {
		if !strings.Contains(msg.Text, want) {
			t.Fatalf("digest missing %q: %q", want, msg.Text)
		}
	}
}

func TestDigestNoTarget(t *testing.T) {
	t.Parallel()
	p := &fakePanel{expiring: panel.ExpiringUsers{Today: []string{"alice"}}}
	sink := &fakeSink{}
	d := NewDigest(p, &fakeSettings{}, sink, func() int64 { return 0 }, logx.Nop())

	if err := d.Run(context.Background()); err == nil {
		t.Fatal("want error with no configured target")
	}
	if sink.count() != 0 {
		t.Fatal("sent without a target")
	}
}
