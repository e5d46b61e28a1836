package audit

import (
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/pchaisri/gearstock/internal/plugins/session"
)

// CDN geo headers. The edge proxy injects these; the recorder only ever
// reads them and never performs a geolocation lookup of its own.
const (
	headerGeoCity      = "CF-IPCity"
	headerGeoCountry   = "CF-IPCountry"
	headerGeoLatitude  = "CF-IPLatitude"
	headerGeoLongitude = "CF-IPLongitude"
)

// MetaFromRequest extracts the audit-relevant request context: client IP,
// user agent, CDN geo hints, and the cookies used for actor resolution.
func MetaFromRequest(c echo.Context) RequestMeta {
	req := c.Request()

	meta := RequestMeta{
		IP:           clientIP(c),
		UserAgent:    req.Header.Get("User-Agent"),
		Location:     geoLocation(c),
		Latitude:     headerFloat(c, headerGeoLatitude),
		Longitude:    headerFloat(c, headerGeoLongitude),
		Token:        session.ReadToken(c),
		LegacyUserID: session.ReadLegacyUserID(c),
	}

	return meta
}

// clientIP prefers the first entry of X-Forwarded-For (the original client
// when every hop is a trusted proxy) and falls back to Echo's extractor.
func clientIP(c echo.Context) string {
	if xff := c.Request().Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.SplitN(xff, ",", 2)
		if ip := strings.TrimSpace(parts[0]); ip != "" {
			return ip
		}
	}
	return c.RealIP()
}

// geoLocation assembles "City, Country" from whichever CDN headers are set.
func geoLocation(c echo.Context) string {
	city := c.Request().Header.Get(headerGeoCity)
	country := c.Request().Header.Get(headerGeoCountry)

	switch {
	case city != "" && country != "":
		return city + ", " + country
	case city != "":
		return city
	case country != "":
		return country
	default:
		return ""
	}
}

// headerFloat parses an optional float header, returning nil when absent
// or unparseable.
func headerFloat(c echo.Context, name string) *float64 {
	raw := c.Request().Header.Get(name)
	if raw == "" {
		return nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return nil
	}
	return &f
}
