package access

import (
	"testing"
	"time"

	"github.com/trunkwatch/trunkwatch/internal/schema"
)

func restrictedIdentity(slugs ...string) schema.Identity {
	return schema.Identity{
		UserID:     "user-1",
		Talkgroups: schema.NewTalkgroupSet(slugs...),
	}
}

func publicTx(slug string) schema.Transmission {
	return schema.Transmission{TalkgroupSlug: slug, TalkgroupPublic: true}
}

func restrictedTx(slug string) schema.Transmission {
	return schema.Transmission{TalkgroupSlug: slug, TalkgroupPublic: false}
}

func TestPermitsRestrictionDisabled(t *testing.T) {
	policy := Policy{Restrict: false}
	id := restrictedIdentity("tg-a")

	if !policy.Permits(id, restrictedTx("tg-b")) {
		t.Fatal("restriction disabled should permit any talkgroup")
	}
}

func TestPermitsUnrestrictedSubscriber(t *testing.T) {
	policy := Policy{Restrict: true}
	id := schema.Identity{UserID: "staff", Unrestricted: true}

	if !policy.Permits(id, restrictedTx("tg-secret")) {
		t.Fatal("unrestricted subscriber should bypass talkgroup sets")
	}
}

func TestPermitsTalkgroupSetMembership(t *testing.T) {
	policy := Policy{Restrict: true}
	id := restrictedIdentity("tg-a")

	cases := []struct {
		name string
		tx   schema.Transmission
		want bool
	}{
		{"member", restrictedTx("tg-a"), true},
		{"non-member", restrictedTx("tg-b"), false},
		{"public but non-member", publicTx("tg-b"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := policy.Permits(id, tc.tx); got != tc.want {
				t.Fatalf("Permits(%s) = %v, want %v", tc.tx.TalkgroupSlug, got, tc.want)
			}
		})
	}
}

func TestPermitsAnonymousOnlyPublic(t *testing.T) {
	for _, restrict := range []bool{true, false} {
		policy := Policy{Restrict: restrict}
		anon := schema.AnonymousIdentity()

		if !policy.Permits(anon, publicTx("tg-open")) {
			t.Fatalf("restrict=%v: anonymous should see public talkgroups", restrict)
		}
		if policy.Permits(anon, restrictedTx("tg-closed")) {
			t.Fatalf("restrict=%v: anonymous must not see restricted talkgroups", restrict)
		}
	}
}

func TestMaxHistoryAgePlan(t *testing.T) {
	policy := Policy{AnonymousHistory: 5 * time.Minute}
	id := restrictedIdentity("tg-a")
	id.Plan = &schema.Plan{Name: "premium", HistoryLimit: 30 * time.Minute}

	maxAge, bounded := policy.MaxHistoryAge(id)
	if !bounded || maxAge != 30*time.Minute {
		t.Fatalf("expected bounded 30m, got %v bounded=%v", maxAge, bounded)
	}
}

func TestMaxHistoryAgeUnboundedPlan(t *testing.T) {
	policy := Policy{AnonymousHistory: 5 * time.Minute}
	id := restrictedIdentity("tg-a")
	id.Plan = &schema.Plan{Name: "staff", HistoryLimit: 0}

	if _, bounded := policy.MaxHistoryAge(id); bounded {
		t.Fatal("zero-limit plan should be unbounded")
	}
	if cutoff := policy.HistoryCutoff(id, time.Now()); !cutoff.IsZero() {
		t.Fatalf("unbounded cutoff should be zero time, got %v", cutoff)
	}
}

func TestMaxHistoryAgeAnonymousDefault(t *testing.T) {
	policy := Policy{AnonymousHistory: 10 * time.Minute}

	maxAge, bounded := policy.MaxHistoryAge(schema.AnonymousIdentity())
	if !bounded || maxAge != 10*time.Minute {
		t.Fatalf("expected bounded anonymous default of 10m, got %v bounded=%v", maxAge, bounded)
	}

	planless := schema.Identity{UserID: "user-2"}
	maxAge, bounded = policy.MaxHistoryAge(planless)
	if !bounded || maxAge != 10*time.Minute {
		t.Fatalf("planless subscriber should use the anonymous default, got %v bounded=%v", maxAge, bounded)
	}
}

func TestHistoryCutoff(t *testing.T) {
	policy := Policy{}
	id := restrictedIdentity("tg-a")
	id.Plan = &schema.Plan{Name: "basic", HistoryLimit: 30 * time.Minute}

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	want := now.Add(-30 * time.Minute)
	if got := policy.HistoryCutoff(id, now); !got.Equal(want) {
		t.Fatalf("cutoff = %v, want %v", got, want)
	}
}
