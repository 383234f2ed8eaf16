package types

import (
	"math"
	"testing"
)

func TestPointDistanceKm(t *testing.T) {
	tests := []struct {
		name      string
		a, b      Point
		wantKm    float64
		tolerance float64
	}{
		{
			name:      "same point",
			a:         Point{Lat: 30.0444, Lng: 31.2357},
			b:         Point{Lat: 30.0444, Lng: 31.2357},
			wantKm:    0,
			tolerance: 0.001,
		},
		{
			name:      "Tahrir to Heliopolis (~10km)",
			a:         Point{Lat: 30.0444, Lng: 31.2357},
			b:         Point{Lat: 30.0911, Lng: 31.3225},
			wantKm:    10,
			tolerance: 1.0,
		},
		{
			name:      "Cairo to Alexandria (~180km)",
			a:         Point{Lat: 30.0444, Lng: 31.2357},
			b:         Point{Lat: 31.2001, Lng: 29.9187},
			wantKm:    180,
			tolerance: 10,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.a.DistanceKm(tt.b)
			if math.Abs(got-tt.wantKm) > tt.tolerance {
				t.Errorf("DistanceKm() = %f, want %f (±%f)", got, tt.wantKm, tt.tolerance)
			}
		})
	}
}

func TestPointDistanceKm_Symmetric(t *testing.T) {
	a := Point{Lat: 30.0444, Lng: 31.2357}
	b := Point{Lat: 30.0611, Lng: 31.2466}
	if d1, d2 := a.DistanceKm(b), b.DistanceKm(a); math.Abs(d1-d2) > 1e-9 {
		t.Errorf("distance not symmetric: %f vs %f", d1, d2)
	}
}

func TestMoneyString(t *testing.T) {
	cases := []struct {
		m    Money
		want string
	}{
		{EGP(1500), "15.00 EGP"},
		{EGP(1005), "10.05 EGP"},
		{EGP(0), "0.00 EGP"},
	}
	for _, tc := range cases {
		if got := tc.m.String(); got != tc.want {
			t.Errorf("String() = %q, want %q", got, tc.want)
		}
	}
}

func TestNewIDUnique(t *testing.T) {
	seen := map[ID]bool{}
	for i := 0; i < 100; i++ {
		id := NewID()
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
}
