// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import "testing"

func TestPullStatusProgressFraction(t *testing.T) {
	tests := []struct {
		name      string
		status    PullStatus
		wantFrac  float64
		wantKnown bool
	}{
		{"no total reported", PullStatus{Status: "pulling manifest"}, 0, false},
		{"zero completed", PullStatus{Status: "downloading", Total: 200, Completed: 0}, 0, true},
		{"halfway", PullStatus{Status: "downloading", Total: 200, Completed: 100}, 0.5, true},
		{"finished", PullStatus{Status: "downloading", Total: 200, Completed: 200}, 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frac, known := tt.status.ProgressFraction()
			if known != tt.wantKnown {
				t.Fatalf("known = %v, want %v", known, tt.wantKnown)
			}
			if frac != tt.wantFrac {
				t.Errorf("fraction = %v, want %v", frac, tt.wantFrac)
			}
		})
	}
}

func TestPullStatusTerminal(t *testing.T) {
	tests := []struct {
		status string
		want   bool
	}{
		{"success", true},
		{"download complete", true},
		{"Success", true},
		{"verifying sha256 digest", false},
		{"pulling manifest", false},
		{"downloading", false},
	}

	for _, tt := range tests {
		got := PullStatus{Status: tt.status}.Terminal()
		if got != tt.want {
			t.Errorf("Terminal(%q) = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestModelTagFormatSize(t *testing.T) {
	tests := []struct {
		size int64
		want string
	}{
		{512, "512 B"},
		{2048, "2.0 KB"},
		{5 * 1024 * 1024, "5.0 MB"},
		{4707000000, "4.4 GB"},
	}

	for _, tt := range tests {
		got := ModelTag{Size: tt.size}.FormatSize()
		if got != tt.want {
			t.Errorf("FormatSize(%d) = %q, want %q", tt.size, got, tt.want)
		}
	}
}
