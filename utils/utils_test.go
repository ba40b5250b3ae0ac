package utils

import (
	"testing"
)

func TestPlaceholderUUID(t *testing.T) {
	// Only verify that the helper corresponds to the predefined test UUID.
	got := PlaceholderTestUUID().String()
	want := "22222222-2222-2222-2222-222222222222"
	if got != want {
		t.Errorf("expected placeholder test UUID to be %v, got %v", want, got)
	}
}

func TestRandHex(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 10; i++ {
		s := RandHex(16)
		if len(s) != 32 {
			t.Fatalf("expected a 32 character string, got %d characters", len(s))
		}
		if seen[s] {
			t.Fatalf("RandHex returned a repeated value %s", s)
		}
		seen[s] = true
	}
}

func TestPrintSlice(t *testing.T) {
	var tests = []struct {
		name  string
		slice []string
		n     int
		want  string
	}{
		{"Truncated", []string{"a", "b", "c", "d"}, 2, "a, b"},
		{"Shorter than n", []string{"a", "b"}, 5, "a, b"},
		{"Empty", nil, 3, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PrintSlice(tt.slice, tt.n); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestStringSliceContains(t *testing.T) {
	slice := []string{"aws-ec2", "proxmox", "cluster"}
	if !StringSliceContains(slice, "proxmox") {
		t.Errorf("expected slice to contain %q", "proxmox")
	}
	if StringSliceContains(slice, "datacenter") {
		t.Errorf("did not expect slice to contain %q", "datacenter")
	}
}
