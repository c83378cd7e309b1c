package dns

import "testing"

func TestResolveViaUnreachableServerFailsWithinBudget(t *testing.T) {
	// 192.0.2.0/24 is TEST-NET-1 (RFC 5737): guaranteed unroutable, so the
	// client's own Timeout (bounded by PollBudget) is what ends the call.
	if _, err := ResolveVia("192.0.2.1:53", "example.invalid"); err == nil {
		t.Fatal("expected resolution against an unreachable server to fail")
	}
}

func TestPollBudgetMatchesOriginalTwoSecondWindow(t *testing.T) {
	if PollBudget.Seconds() != 2 {
		t.Fatalf("expected a 2s poll budget, got %v", PollBudget)
	}
}
