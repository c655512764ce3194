package dummy

import (
	"math"
	"time"
)

type lnglat struct {
	lonDegs float64
	latDegs float64
}

func (l lnglat) latRads() float64 {
	return l.latDegs * math.Pi / 180.0
}

type solarData struct {
	timeTst time.Time
	// eotCorrection is the equation of time.
	eotCorrection time.Duration
	// angleDayRadians is the angle formed by the sun/earth line on the given day
	// of the year, and on the 1st of January of the same year.
	angleDayRadians float64
	// hourAngleRadians is zero at solar noon, negative in the morning,
	// and positive in the afternoon.
	hourAngleRadians   float64
	declinationRadians float64
	zenithRadians      float64
	// extraterrestrialIrradiance is the irradiance on a horizontal plane at the
	// top of the atmosphere, in W/m².
	extraterrestrialIrradiance float64
	sunriseTimeTst             time.Time
	sunsetTimeTst              time.Time
	daylengthHours             float64
}

// determineIrradiance follows Lucian Wald, "Fundamentals Of Solar Radiation"
// (ISBN 978-0-367-72592-1), sections 1.3, 2.1, 2.5 and 3.2.
func determineIrradiance(t time.Time, p lnglat) solarData {
	sd := solarData{}
	yearDay := float64(t.YearDay()) + float64(t.Hour())/24.0 + float64(t.Minute())/1440.0

	// True Solar Time: UTC corrected for longitude (mean solar time), then for the
	// equation of time.
	sd.angleDayRadians = (2 * math.Pi / 365.2422) * yearDay
	lonCorrection := time.Duration((p.lonDegs * 24.0 / 360.0) * float64(time.Hour))
	sd.eotCorrection = time.Duration((-0.128*math.Sin(sd.angleDayRadians-0.04887) -
		0.165*math.Sin(2*sd.angleDayRadians+0.34383)) *
		float64(time.Hour))
	sd.timeTst = t.UTC().Add(lonCorrection).Add(sd.eotCorrection)

	// Solar declination, via the angle between the sun/earth line on the day and
	// on the March equinox.
	equinoxDay := 79.3946 + (0.2422 * float64(t.Year()-1957)) - float64((t.Year()-1957)/4)
	omegaDay := (2 * math.Pi / 365.2422) * (yearDay - equinoxDay)
	sd.declinationRadians = 0.0064979 + 0.4059059*math.Sin(omegaDay) + 0.0020054*math.Sin(2*omegaDay) +
		-0.0029880*math.Sin(3*omegaDay) + -0.0132296*math.Cos(omegaDay) + 0.0063809*math.Cos(2*omegaDay) + 0.0003508*math.Cos(3*omegaDay)

	tstHour := float64(sd.timeTst.Hour()) + float64(sd.timeTst.Minute())/60.0 + float64(sd.timeTst.Second())/3600.0
	sd.hourAngleRadians = (math.Pi / 12) * (tstHour - 12.0)
	sd.zenithRadians = math.Acos(
		(math.Sin(p.latRads()) * math.Sin(sd.declinationRadians)) +
			(math.Cos(p.latRads()) * math.Cos(sd.declinationRadians) * math.Cos(sd.hourAngleRadians)),
	)

	// Sunset is where the zenith angle reaches pi/2.
	var sunsetHourAngle float64
	tanProduct := -1 * math.Tan(p.latRads()) * math.Tan(sd.declinationRadians)
	switch {
	case tanProduct >= 1:
		sunsetHourAngle = 0
	case tanProduct <= -1:
		sunsetHourAngle = math.Pi
	default:
		sunsetHourAngle = math.Acos(tanProduct)
	}
	sunriseHour := 12.0 * (1.0 - (sunsetHourAngle / math.Pi))
	sunsetHour := 12.0 * (1.0 + (sunsetHourAngle / math.Pi))
	sd.sunriseTimeTst = sd.timeTst.Truncate(24 * time.Hour).Add(time.Duration(sunriseHour * float64(time.Hour)))
	sd.sunsetTimeTst = sd.timeTst.Truncate(24 * time.Hour).Add(time.Duration(sunsetHour * float64(time.Hour)))
	sd.daylengthHours = sunsetHour - sunriseHour

	// Solar constant modulated by the orbit's eccentricity and the zenith angle.
	eccentricity := 0.03344 * math.Cos(sd.angleDayRadians-0.049)
	const solarConstant = 1361.0
	sd.extraterrestrialIrradiance = max(solarConstant*(1+eccentricity)*math.Cos(sd.zenithRadians), 0.0)

	return sd
}
