package records

import "testing"

func TestNormalizeAgentID(t *testing.T) {
	cases := []struct{ in, want string }{
		{"planner", "planner"},
		{"  Planner  ", "planner"},
		{"Agent Smith!", "agent-smith"},
		{"--edge--", "edge"},
		{"", ""},
		{"ok_id-1", "ok_id-1"},
	}
	for _, c := range cases {
		if got := NormalizeAgentID(c.in); got != c.want {
			t.Errorf("NormalizeAgentID(%q) = %q, want %q", c.in, got, c.want)
		}
	}

	long := make([]byte, 100)
	for i := range long {
		long[i] = 'a'
	}
	if got := NormalizeAgentID(string(long)); len(got) != 64 {
		t.Errorf("long id length = %d, want 64", len(got))
	}
}
