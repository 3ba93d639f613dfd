package fare

import (
	"math"
	"testing"

	"github.com/example/ride-client/internal/models"
)

func TestEstimateCarTwelveKm(t *testing.T) {
	if got := Estimate(models.VehicleCar, 12000); got != 111000 {
		t.Fatalf("expected 111000, got %d", got)
	}
}

func TestEstimateMatchesTable(t *testing.T) {
	cases := []struct {
		class models.VehicleClass
		base  int64
		perKm int64
	}{
		{models.VehicleBike, 8000, 4000},
		{models.VehicleCar, 15000, 8000},
		{models.VehicleVan, 20000, 10000},
	}
	for _, c := range cases {
		for _, d := range []float64{0, 1, 999.5, 1234.56, 8000, 25013.7} {
			want := c.base + int64(math.Round(d/1000*float64(c.perKm)))
			if got := Estimate(c.class, d); got != want {
				t.Fatalf("%s at %.2fm: expected %d, got %d", c.class, d, want, got)
			}
		}
	}
}

func TestEstimateRoundsToNearestUnit(t *testing.T) {
	// 4000.4 rounds down, 4000.8 rounds up
	if got := Estimate(models.VehicleBike, 1000.1); got != 8000+4000 {
		t.Fatalf("expected 12000, got %d", got)
	}
	if got := Estimate(models.VehicleBike, 1000.2); got != 8000+4001 {
		t.Fatalf("expected 12001, got %d", got)
	}
}

func TestUnknownClassPricesAsCar(t *testing.T) {
	if Estimate("truck", 1000) != Estimate(models.VehicleCar, 1000) {
		t.Fatalf("unknown class should fall back to car")
	}
}
