package chat

import "testing"

func TestOwnerKey(t *testing.T) {
	tests := []struct {
		username string
		userID   int64
		want     string
	}{
		{"alice", 1, "@alice"},
		{"@alice", 1, "@alice"},
		{" bob ", 2, "@bob"},
		{"", 42, "user_42"},
		{"   ", 7, "user_7"},
	}
	for _, tt := range tests {
		if got := OwnerKey(tt.username, tt.userID); got != tt.want {
			t.Errorf("OwnerKey(%q, %d) = %q, want %q", tt.username, tt.userID, got, tt.want)
		}
	}
}
