package intensity

import "testing"

func TestEstimateCounting(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name          string
		tradeCount    int
		windowSeconds float64
		want          float64
		wantErr       bool
	}{
		{"basic", 120, 60, 2.0, false},
		{"zero trades", 0, 60, 0.0, false},
		{"zero window", 10, 0, 0, true},
		{"negative window", 10, -5, 0, true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := EstimateCounting(tt.tradeCount, tt.windowSeconds)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}
