package geo

import "math"

const (
	earthRadiusMeters = 6371000.0
	degToRad          = math.Pi / 180
	kphPerKnot        = 1.852
)

func DistanceMeters(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := (lat2 - lat1) * degToRad
	dLon := (lon2 - lon1) * degToRad
	r1 := lat1 * degToRad
	r2 := lat2 * degToRad
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(r1)*math.Cos(r2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusMeters * math.Asin(math.Sqrt(h))
}

func LatitudeDelta(meters float64) float64 {
	return meters / earthRadiusMeters / degToRad
}

func LongitudeDelta(meters, latitude float64) float64 {
	return LatitudeDelta(meters) / math.Cos(latitude*degToRad)
}

func KphFromKnots(knots float64) float64 {
	return knots * kphPerKnot
}

func KnotsFromKph(kph float64) float64 {
	return kph / kphPerKnot
}
