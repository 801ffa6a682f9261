package port

import "context"

// IPReputation summarizes what is known about a source address.
type IPReputation struct {
	Malicious  bool
	Anonymizer bool
}

// IPReputationProvider answers reputation lookups for source addresses.
// Anonymizer covers VPN, proxy and datacenter egress ranges.
type IPReputationProvider interface {
	Reputation(ctx context.Context, ip string) (IPReputation, error)
}

// GeoLocation is a resolved coarse location for an address.
type GeoLocation struct {
	City    string
	Country string
	Lat     float64
	Lon     float64
}

// GeoResolver maps an address to a coarse location. A nil result with nil
// error means the address could not be resolved.
type GeoResolver interface {
	Locate(ctx context.Context, ip string) (*GeoLocation, error)
}

// LocationHistory stores the locations previously observed for an account.
type LocationHistory interface {
	KnownLocations(ctx context.Context, userID string) ([]GeoLocation, error)
	RecordLocation(ctx context.Context, userID string, loc GeoLocation) error
}

// DeviceHistory stores the device fingerprints previously observed for an
// account.
type DeviceHistory interface {
	IsKnownDevice(ctx context.Context, userID, fingerprint string) (bool, error)
	MarkSeen(ctx context.Context, userID, fingerprint string) error
}

// BehaviorBaseline exposes a stored interaction-pattern baseline. ok is false
// when no baseline exists for the account yet.
type BehaviorBaseline interface {
	Deviation(ctx context.Context, userID string) (deviation float64, ok bool, err error)
}

// PhoneIntel classifies phone numbers.
type PhoneIntel interface {
	IsVOIP(ctx context.Context, number string) (bool, error)
}

// EmailIntel classifies email addresses.
type EmailIntel interface {
	IsDisposableDomain(domain string) bool
}
