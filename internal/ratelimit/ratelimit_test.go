package ratelimit_test

import (
	"net"
	"testing"
	"time"

	"github.com/coreflow/backbone/internal/ratelimit"
)

func ip(s string) net.IP { return net.ParseIP(s) }

func TestLimiter_DisabledAlwaysAllows(t *testing.T) {
	l := ratelimit.New(ratelimit.Config{Enabled: false})
	for i := 0; i < 1000; i++ {
		if allowed, _ := l.Check("anything", ip("1.2.3.4")); !allowed {
			t.Fatalf("expected disabled limiter to always allow")
		}
	}
}

func TestLimiter_RejectsAfterTierExhausted(t *testing.T) {
	l := ratelimit.New(ratelimit.Config{
		Enabled: true,
		Actions: map[string]ratelimit.ActionLimit{
			"user_create": {Tiers: []ratelimit.Tier{{Window: time.Minute, MaxRequests: 2}}},
		},
	})

	client := ip("10.0.0.1")
	for i := 0; i < 2; i++ {
		if allowed, _ := l.Check("user_create", client); !allowed {
			t.Fatalf("request %d should have been allowed", i)
		}
	}

	allowed, retryAfter := l.Check("user_create", client)
	if allowed {
		t.Fatalf("third request should have been rejected")
	}
	if retryAfter <= 0 {
		t.Fatalf("expected a positive retry-after, got %v", retryAfter)
	}
}

func TestLimiter_TiersAreConjunctive(t *testing.T) {
	l := ratelimit.New(ratelimit.Config{
		Enabled: true,
		Actions: map[string]ratelimit.ActionLimit{
			"user_verify": {Tiers: []ratelimit.Tier{
				{Window: time.Second, MaxRequests: 1},
				{Window: time.Hour, MaxRequests: 100},
			}},
		},
	})

	client := ip("10.0.0.2")
	if allowed, _ := l.Check("user_verify", client); !allowed {
		t.Fatalf("first request should be allowed")
	}
	// The hour tier has plenty of budget left, but the 1-second tier is
	// already exhausted; the check must still reject.
	if allowed, _ := l.Check("user_verify", client); allowed {
		t.Fatalf("second immediate request should be rejected by the tight tier")
	}
}

func TestLimiter_PenaltyEscalatesWithRepeatedViolations(t *testing.T) {
	l := ratelimit.New(ratelimit.Config{
		Enabled:           true,
		BackoffMultiplier: 2.0,
		Actions: map[string]ratelimit.ActionLimit{
			"probe": {Tiers: []ratelimit.Tier{{Window: time.Millisecond, MaxRequests: 1}}},
		},
	})

	client := ip("10.0.0.3")
	if allowed, _ := l.Check("probe", client); !allowed {
		t.Fatalf("first request should be allowed")
	}

	_, firstPenalty := l.Check("probe", client)
	time.Sleep(firstPenalty + time.Millisecond)

	if allowed, _ := l.Check("probe", client); !allowed {
		t.Fatalf("request after first penalty expired should be allowed")
	}
	_, secondPenalty := l.Check("probe", client)

	if secondPenalty <= firstPenalty {
		t.Fatalf("expected second penalty (%v) to exceed first (%v)", secondPenalty, firstPenalty)
	}
}

func TestLimiter_PruneIdleLeavesActiveClientsAlone(t *testing.T) {
	l := ratelimit.New(ratelimit.Config{
		Enabled: true,
		Actions: map[string]ratelimit.ActionLimit{
			"probe": {Tiers: []ratelimit.Tier{{Window: time.Hour, MaxRequests: 1}}},
		},
	})

	client := ip("10.0.0.4")
	l.Check("probe", client)

	l.PruneIdle()
	if allowed, _ := l.Check("probe", client); allowed {
		t.Fatalf("expected the client's single-request budget to still be tracked after PruneIdle")
	}
}

func TestLimiter_BlockOnOneActionAlsoBlocksOtherActionsForSameClient(t *testing.T) {
	l := ratelimit.New(ratelimit.Config{
		Enabled: true,
		Actions: map[string]ratelimit.ActionLimit{
			"user_create": {Tiers: []ratelimit.Tier{{Window: time.Minute, MaxRequests: 1}}},
			"user_verify": {Tiers: []ratelimit.Tier{{Window: time.Minute, MaxRequests: 100}}},
		},
	})

	client := ip("10.0.0.9")
	if allowed, _ := l.Check("user_create", client); !allowed {
		t.Fatalf("first request should be allowed")
	}
	if allowed, _ := l.Check("user_create", client); allowed {
		t.Fatalf("second request should trip the user_create tier and block the client")
	}
	// user_verify has ample budget left of its own, but the client is
	// blocked as a whole, so even an untouched action must reject it.
	if allowed, _ := l.Check("user_verify", client); allowed {
		t.Fatalf("expected the client-wide block from user_create to also reject user_verify")
	}
}

func TestLimiter_IndependentClientsDoNotShareBudget(t *testing.T) {
	l := ratelimit.New(ratelimit.Config{
		Enabled: true,
		Actions: map[string]ratelimit.ActionLimit{
			"user_create": {Tiers: []ratelimit.Tier{{Window: time.Minute, MaxRequests: 1}}},
		},
	})

	if allowed, _ := l.Check("user_create", ip("10.0.0.5")); !allowed {
		t.Fatalf("client A's first request should be allowed")
	}
	if allowed, _ := l.Check("user_create", ip("10.0.0.6")); !allowed {
		t.Fatalf("client B's first request should be allowed independently of client A")
	}
}
