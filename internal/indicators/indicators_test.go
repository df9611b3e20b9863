package indicators

import "testing"

func TestSMA(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		period int
		want   float64
	}{
		{"last three", []float64{1, 2, 3, 4, 5}, 3, 4},
		{"too short", []float64{1, 2}, 3, 0},
		{"zero period", []float64{1, 2}, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SMA(tt.values, tt.period); got != tt.want {
				t.Fatalf("SMA = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRSI(t *testing.T) {
	if got := RSI([]float64{1, 2, 3, 4}, 3); got != 100 {
		t.Fatalf("all gains RSI = %v, want 100", got)
	}
	if got := RSI([]float64{4, 3, 2, 1}, 3); got != 0 {
		t.Fatalf("all losses RSI = %v, want 0", got)
	}
	// gains 2, losses 1 -> rs 2 -> 66.67
	got := RSI([]float64{10, 12, 11}, 2)
	if got < 66.6 || got > 66.7 {
		t.Fatalf("mixed RSI = %v, want ~66.67", got)
	}
	if got := RSI([]float64{1}, 3); got != 0 {
		t.Fatalf("short RSI = %v, want 0", got)
	}
}
