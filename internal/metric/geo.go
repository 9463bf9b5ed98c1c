package metric

import (
	"context"
	"fmt"
	"net"

	"github.com/oschwald/maxminddb-golang"
)

type geoRecord struct {
	City struct {
		Names map[string]string `maxminddb:"names"`
	} `maxminddb:"city"`
	Country struct {
		ISOCode string `maxminddb:"iso_code"`
	} `maxminddb:"country"`
}

// GeoLocator resolves download targets to a city and country with a MaxMind database.
type GeoLocator struct {
	reader  *maxminddb.Reader
	resolve func(ctx context.Context, host string) ([]net.IP, error)
}

// OpenGeoLocator opens the GeoLite2/GeoIP2 City database at path.
func OpenGeoLocator(path string) (*GeoLocator, error) {
	reader, err := maxminddb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open geoip database %s: %w", path, err)
	}
	return &GeoLocator{
		reader: reader,
		resolve: func(ctx context.Context, host string) ([]net.IP, error) {
			return net.DefaultResolver.LookupIP(ctx, "ip", host)
		},
	}, nil
}

func (g *GeoLocator) Close() error {
	return g.reader.Close()
}

// Locate returns one entry per distinct target host. Lookup failures produce
// Unavailable fields rather than errors.
func (g *GeoLocator) Locate(ctx context.Context, targetURLs []string) []TargetGeo {
	seen := make(map[string]bool, len(targetURLs))
	out := make([]TargetGeo, 0, len(targetURLs))
	for _, raw := range targetURLs {
		host, err := extractDomain(raw)
		if err != nil || seen[host] {
			continue
		}
		seen[host] = true
		out = append(out, g.locateHost(ctx, host))
	}
	return out
}

func (g *GeoLocator) locateHost(ctx context.Context, host string) TargetGeo {
	geo := TargetGeo{Host: host, IP: Unavailable, City: Unavailable, Country: Unavailable}

	ip := net.ParseIP(host)
	if ip == nil {
		ips, err := g.resolve(ctx, host)
		if err != nil || len(ips) == 0 {
			return geo
		}
		ip = ips[0]
	}
	geo.IP = ip.String()

	var rec geoRecord
	if err := g.reader.Lookup(ip, &rec); err != nil {
		return geo
	}
	if name := rec.City.Names["en"]; name != "" {
		geo.City = name
	}
	if rec.Country.ISOCode != "" {
		geo.Country = rec.Country.ISOCode
	}
	return geo
}
