package calls

import "testing"

func TestOutcomeValid(t *testing.T) {
	for _, o := range []Outcome{OutcomeCompleted, OutcomeMissed, OutcomeRejected, OutcomeFailed, OutcomeCanceled} {
		if !o.Valid() {
			t.Fatalf("expected %q to be valid", o)
		}
	}
	if Outcome("no_answer").Valid() {
		t.Fatalf("expected unknown outcome to be invalid")
	}
}
