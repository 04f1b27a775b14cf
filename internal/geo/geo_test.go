package geo

import "testing"

func TestHaversineKm(t *testing.T) {
	// Jakarta (-6.2, 106.816) to Bandung (-6.9175, 107.6191) ~ 115-120 km
	d := HaversineKm(-6.2, 106.816, -6.9175, 107.6191)
	if d < 100 || d > 140 {
		t.Fatalf("unexpected distance: %v", d)
	}
}

func TestHaversineM_EquatorDegree(t *testing.T) {
	// 0.009 degrees of longitude at the equator is very close to 1000 m.
	d := HaversineM(0, 0, 0, 0.009)
	if d < 950 || d > 1050 {
		t.Fatalf("unexpected distance: %v", d)
	}
}

func TestHaversine_SamePoint(t *testing.T) {
	if d := HaversineM(51.5, -0.12, 51.5, -0.12); d != 0 {
		t.Fatalf("expected zero distance, got %v", d)
	}
}
