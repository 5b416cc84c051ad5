package engine

import (
	"testing"
	"time"

	"github.com/matchpulse/matchpulse/internal/sleeper"
)

func TestDirectory_Resolve(t *testing.T) {
	d := NewDirectory()
	d.Replace(map[string]sleeper.Player{
		"p1": {ID: "p1", FullName: "Sample Quarterback"},
		"p2": {ID: "p2", FirstName: "Sample", LastName: "Receiver"},
		"p3": {ID: "p3"},
	}, time.Now())

	tests := []struct {
		playerID string
		want     string
		wantOK   bool
	}{
		{"p1", "Sample Quarterback", true},
		{"p2", "Sample Receiver", true},
		{"p3", "", false},
		{"missing", "", false},
	}

	for _, tt := range tests {
		got, ok := d.Resolve(tt.playerID)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("Resolve(%q) = %q, %v; want %q, %v", tt.playerID, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestDirectory_ReplaceSwapsSnapshot(t *testing.T) {
	d := NewDirectory()
	first := time.Date(2025, 10, 4, 8, 0, 0, 0, time.UTC)
	second := first.Add(24 * time.Hour)

	d.Replace(map[string]sleeper.Player{
		"p1": {ID: "p1", FullName: "Sample Quarterback"},
		"p2": {ID: "p2", FullName: "Sample Receiver"},
	}, first)
	d.Replace(map[string]sleeper.Player{
		"p2": {ID: "p2", FullName: "Sample Receiver"},
	}, second)

	if got := d.Count(); got != 1 {
		t.Errorf("Expected 1 player after replace, got %d", got)
	}
	if _, ok := d.Get("p1"); ok {
		t.Error("Expected dropped player to be gone")
	}
	if !d.RefreshedAt().Equal(second) {
		t.Errorf("Expected refreshed-at %v, got %v", second, d.RefreshedAt())
	}
}
