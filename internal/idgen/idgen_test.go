package idgen

import (
	"strings"
	"testing"
)

func TestEncodeBase36(t *testing.T) {
	tests := []struct {
		name   string
		data   []byte
		length int
		want   string
	}{
		{"zero pads", []byte{0}, 4, "0000"},
		{"single byte", []byte{35}, 2, "0z"},
		{"thirty six", []byte{36}, 2, "10"},
		{"truncates to least significant", []byte{1, 0}, 1, "4"}, // 256 = "74" base36
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EncodeBase36(tt.data, tt.length); got != tt.want {
				t.Errorf("EncodeBase36(%v, %d) = %q, want %q", tt.data, tt.length, got, tt.want)
			}
		})
	}
}

func TestNewTaskID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewTaskID()
		if !strings.HasPrefix(id, "t-") {
			t.Fatalf("task id %q missing prefix", id)
		}
		if len(id) != 14 {
			t.Fatalf("task id %q has length %d, want 14", id, len(id))
		}
		if seen[id] {
			t.Fatalf("duplicate task id %q", id)
		}
		seen[id] = true
	}
}

func TestNewAlertID(t *testing.T) {
	id := NewAlertID()
	if !strings.HasPrefix(id, "al-") {
		t.Fatalf("alert id %q missing prefix", id)
	}
	if len(id) != 11 {
		t.Fatalf("alert id %q has length %d, want 11", id, len(id))
	}
}
