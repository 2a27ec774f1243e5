package chat

import "testing"

func hist(roles ...Role) History {
	h := make(History, 0, len(roles))
	for i, r := range roles {
		h = append(h, Message{Role: r, Text: string(r), Position: i})
	}
	return h
}

func TestHistoryTail(t *testing.T) {
	h := hist(RoleOther, RoleSelf, RoleOther, RoleOther)

	if got := h.Tail(2); len(got) != 2 || got[0].Position != 2 {
		t.Fatalf("Tail(2) = %+v", got)
	}
	if got := h.Tail(10); len(got) != 4 {
		t.Fatalf("Tail(10) len = %d, want 4", len(got))
	}
	if got := h.Tail(0); len(got) != 4 {
		t.Fatalf("Tail(0) len = %d, want 4", len(got))
	}
}

func TestHistoryLast(t *testing.T) {
	if _, ok := History(nil).Last(); ok {
		t.Fatal("expected no last message on empty history")
	}
	m, ok := hist(RoleSelf, RoleOther).Last()
	if !ok || m.Role != RoleOther {
		t.Fatalf("Last() = %+v, %v", m, ok)
	}
}

func TestTrailingIncoming(t *testing.T) {
	tests := []struct {
		name string
		h    History
		max  int
		want int
	}{
		{"empty", nil, 3, 0},
		{"ends with outgoing", hist(RoleOther, RoleSelf), 3, 0},
		{"single trailing", hist(RoleSelf, RoleOther), 3, 1},
		{"capped", hist(RoleSelf, RoleOther, RoleOther, RoleOther, RoleOther), 3, 3},
		{"uncapped", hist(RoleOther, RoleOther, RoleOther, RoleOther), 0, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.h.TrailingIncoming(tt.max)
			if len(got) != tt.want {
				t.Fatalf("len = %d, want %d", len(got), tt.want)
			}
			for _, m := range got {
				if !m.Incoming() {
					t.Errorf("unexpected outgoing message %+v", m)
				}
			}
		})
	}
}

func TestDecisionConstructors(t *testing.T) {
	if d := Reply("  hi "); d.Kind != DecisionReply || d.Text != "hi" {
		t.Errorf("Reply() = %+v", d)
	}
	if d := Reply("   "); d.Kind != DecisionFailure {
		t.Errorf("blank Reply() kind = %v, want failure", d.Kind)
	}
	if d := Silence(); d.Kind != DecisionSilence {
		t.Errorf("Silence() kind = %v", d.Kind)
	}
	if d := Failure("boom"); d.Kind != DecisionFailure || d.Reason != "boom" {
		t.Errorf("Failure() = %+v", d)
	}
}
