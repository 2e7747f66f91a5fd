// Package utils holds geographic helpers shared by the matcher and the
// schedule loader.
package utils

import "math"

const earthRadiusMeters = 6371010.0

const degToRad = math.Pi / 180

// Distance returns the great-circle distance in meters between two
// lat/lon points. Below ~22km of separation it uses an equirectangular
// approximation, which is accurate to well under a meter at transit
// scales and avoids the trig of the exact formula.
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	if math.Abs(lat2-lat1) < 0.2 && math.Abs(lon2-lon1) < 0.2 {
		x := (lon2 - lon1) * degToRad * math.Cos((lat1+lat2)/2*degToRad)
		y := (lat2 - lat1) * degToRad
		return earthRadiusMeters * math.Sqrt(x*x+y*y)
	}

	lat1Rad := lat1 * degToRad
	lat2Rad := lat2 * degToRad
	deltaLon := (lon2 - lon1) * degToRad

	a := math.Cos(lat2Rad) * math.Sin(deltaLon)
	b := math.Cos(lat1Rad)*math.Sin(lat2Rad) - math.Sin(lat1Rad)*math.Cos(lat2Rad)*math.Cos(deltaLon)
	y := math.Sqrt(a*a + b*b)
	x := math.Sin(lat1Rad)*math.Sin(lat2Rad) + math.Cos(lat1Rad)*math.Cos(lat2Rad)*math.Cos(deltaLon)

	return earthRadiusMeters * math.Atan2(y, x)
}
