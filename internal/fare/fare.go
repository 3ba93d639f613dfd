package fare

import (
	"math"

	"github.com/example/ride-client/internal/models"
)

// Rate is the tariff for one vehicle class, in whole VND.
type Rate struct {
	Base  int64
	PerKm int64
}

var rateTable = map[models.VehicleClass]Rate{
	models.VehicleBike: {Base: 8000, PerKm: 4000},
	models.VehicleCar:  {Base: 15000, PerKm: 8000},
	models.VehicleVan:  {Base: 20000, PerKm: 10000},
}

// RateFor returns the tariff for class; unknown classes price as car.
func RateFor(class models.VehicleClass) Rate {
	if r, ok := rateTable[class]; ok {
		return r
	}
	return rateTable[models.VehicleCar]
}

// Estimate is base + round(km * perKm).
func Estimate(class models.VehicleClass, distanceMeters float64) int64 {
	if distanceMeters < 0 {
		distanceMeters = 0
	}
	r := RateFor(class)
	return r.Base + int64(math.Round(distanceMeters/1000*float64(r.PerKm)))
}
