package usecase

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	zxcvbn "github.com/nbutton23/zxcvbn-go"

	"github.com/qisslab/entativa-id-security/internal/core/domain"
	"github.com/qisslab/entativa-id-security/internal/core/port"
)

// Factor contributions. Additive integers, not probabilities, so every score
// is reproducible from the triggered factor list.
const (
	weightMaliciousIP       = 40
	weightAnonymizedNetwork = 15
	weightNewCity           = 15
	weightFarCity           = 30
	weightNewDevice         = 20
	weightAutomatedAgent    = 15
	weightUnusualHour       = 10
	weightRapidRetry        = 25
	weightBehaviorDeviation = 20
	weightIPVelocity        = 35
	weightAccountVelocity   = 30
	weightSignupVelocity    = 40
	weightDisposableEmail   = 30
	weightHighEntropyEmail  = 20
	weightVOIPPhone         = 15
)

const (
	farCityDistanceKM = 500.0

	unusualHourStart = 1
	unusualHourEnd   = 5

	rapidRetryWindow = 2 * time.Minute

	behaviorDeviationThreshold = 0.6

	emailEntropyThreshold = 45.0
)

var automationAgentMarkers = []string{
	"bot", "crawler", "spider", "curl", "wget", "python", "java/",
	"headless", "phantomjs", "selenium", "scrapy", "okhttp",
}

// NetworkCollector evaluates the source address: reputation, anonymizing
// egress, and geolocation consistency with the account's history.
type NetworkCollector struct {
	reputation port.IPReputationProvider
	geo        port.GeoResolver
	locations  port.LocationHistory
}

// NewNetworkCollector constructs the network signal collector.
func NewNetworkCollector(reputation port.IPReputationProvider, geo port.GeoResolver, locations port.LocationHistory) *NetworkCollector {
	return &NetworkCollector{reputation: reputation, geo: geo, locations: locations}
}

func (c *NetworkCollector) Name() string { return "network" }

func (c *NetworkCollector) Collect(ctx context.Context, rc domain.RiskContext) ([]domain.RiskFactor, error) {
	if rc.IP == "" {
		return nil, nil
	}

	var factors []domain.RiskFactor

	rep, err := c.reputation.Reputation(ctx, rc.IP)
	if err != nil {
		return nil, fmt.Errorf("ip reputation: %w", err)
	}
	if rep.Malicious {
		factors = append(factors, domain.RiskFactor{
			Name:     "known_malicious_ip",
			Score:    weightMaliciousIP,
			Evidence: fmt.Sprintf("source address %s is on a malicious list", rc.IP),
		})
	}
	if rep.Anonymizer {
		factors = append(factors, domain.RiskFactor{
			Name:     "anonymized_network",
			Score:    weightAnonymizedNetwork,
			Evidence: fmt.Sprintf("source address %s is VPN/proxy/datacenter egress", rc.IP),
		})
	}

	geoFactor, err := c.geoFactor(ctx, rc)
	if err != nil {
		return nil, err
	}
	if geoFactor != nil {
		factors = append(factors, *geoFactor)
	}

	return factors, nil
}

func (c *NetworkCollector) geoFactor(ctx context.Context, rc domain.RiskContext) (*domain.RiskFactor, error) {
	if rc.UserID == "" {
		return nil, nil
	}

	loc, err := c.geo.Locate(ctx, rc.IP)
	if err != nil {
		return nil, fmt.Errorf("geo lookup: %w", err)
	}
	if loc == nil {
		return nil, nil
	}

	known, err := c.locations.KnownLocations(ctx, rc.UserID)
	if err != nil {
		return nil, fmt.Errorf("location history: %w", err)
	}

	var factor *domain.RiskFactor
	if len(known) > 0 {
		nearest := math.MaxFloat64
		seenCity := false
		for _, prev := range known {
			if strings.EqualFold(prev.City, loc.City) {
				seenCity = true
				break
			}
			if d := haversineKM(prev.Lat, prev.Lon, loc.Lat, loc.Lon); d < nearest {
				nearest = d
			}
		}

		if !seenCity {
			if nearest > farCityDistanceKM {
				factor = &domain.RiskFactor{
					Name:     "location_far_from_history",
					Score:    weightFarCity,
					Evidence: fmt.Sprintf("login from %s, %.0f km from nearest known location", loc.City, nearest),
				}
			} else {
				factor = &domain.RiskFactor{
					Name:     "location_new_city",
					Score:    weightNewCity,
					Evidence: fmt.Sprintf("login from previously unseen city %s", loc.City),
				}
			}
		}
	}

	if err := c.locations.RecordLocation(ctx, rc.UserID, *loc); err != nil {
		return nil, fmt.Errorf("record location: %w", err)
	}

	return factor, nil
}

// DeviceCollector evaluates the presenting device: unseen fingerprints and
// automation-flagged user agents.
type DeviceCollector struct {
	devices port.DeviceHistory
}

// NewDeviceCollector constructs the device signal collector.
func NewDeviceCollector(devices port.DeviceHistory) *DeviceCollector {
	return &DeviceCollector{devices: devices}
}

func (c *DeviceCollector) Name() string { return "device" }

func (c *DeviceCollector) Collect(ctx context.Context, rc domain.RiskContext) ([]domain.RiskFactor, error) {
	var factors []domain.RiskFactor

	agent := strings.ToLower(rc.UserAgent)
	for _, marker := range automationAgentMarkers {
		if strings.Contains(agent, marker) {
			factors = append(factors, domain.RiskFactor{
				Name:     "automated_user_agent",
				Score:    weightAutomatedAgent,
				Evidence: fmt.Sprintf("user agent matches automation marker %q", marker),
			})
			break
		}
	}

	if rc.UserID == "" || rc.DeviceFingerprint == "" {
		return factors, nil
	}

	known, err := c.devices.IsKnownDevice(ctx, rc.UserID, rc.DeviceFingerprint)
	if err != nil {
		return nil, fmt.Errorf("device history: %w", err)
	}
	if !known {
		factors = append(factors, domain.RiskFactor{
			Name:     "new_device",
			Score:    weightNewDevice,
			Evidence: "device fingerprint not previously seen for this account",
		})
	}

	if err := c.devices.MarkSeen(ctx, rc.UserID, rc.DeviceFingerprint); err != nil {
		return nil, fmt.Errorf("record device: %w", err)
	}

	return factors, nil
}

// TemporalCollector evaluates timing: unusual local hours and rapid repeat
// attempts. It reads the per-account attempt window maintained by the
// velocity collector.
type TemporalCollector struct {
	attempts port.RateLimitStore
}

// NewTemporalCollector constructs the temporal signal collector.
func NewTemporalCollector(attempts port.RateLimitStore) *TemporalCollector {
	return &TemporalCollector{attempts: attempts}
}

func (c *TemporalCollector) Name() string { return "temporal" }

func (c *TemporalCollector) Collect(ctx context.Context, rc domain.RiskContext) ([]domain.RiskFactor, error) {
	var factors []domain.RiskFactor

	local := rc.OccurredAt.UTC().Add(time.Duration(rc.TimezoneOffsetMinutes) * time.Minute)
	if hour := local.Hour(); hour >= unusualHourStart && hour <= unusualHourEnd {
		factors = append(factors, domain.RiskFactor{
			Name:     "unusual_hour",
			Score:    weightUnusualHour,
			Evidence: fmt.Sprintf("activity at %02d:00 local time", hour),
		})
	}

	if rc.UserID != "" {
		latest, found, err := c.attempts.LatestAttempt(ctx, accountAttemptKey(rc.UserID), rapidRetryWindow, rc.OccurredAt)
		if err != nil {
			return nil, fmt.Errorf("latest attempt: %w", err)
		}
		if found && rc.OccurredAt.Sub(latest) < rapidRetryWindow {
			factors = append(factors, domain.RiskFactor{
				Name:     "rapid_retry",
				Score:    weightRapidRetry,
				Evidence: fmt.Sprintf("previous attempt only %s earlier", rc.OccurredAt.Sub(latest).Round(time.Second)),
			})
		}
	}

	return factors, nil
}

// BehavioralCollector compares the event against a stored interaction-pattern
// baseline when one exists.
type BehavioralCollector struct {
	baseline port.BehaviorBaseline
}

// NewBehavioralCollector constructs the behavioral signal collector.
func NewBehavioralCollector(baseline port.BehaviorBaseline) *BehavioralCollector {
	return &BehavioralCollector{baseline: baseline}
}

func (c *BehavioralCollector) Name() string { return "behavioral" }

func (c *BehavioralCollector) Collect(ctx context.Context, rc domain.RiskContext) ([]domain.RiskFactor, error) {
	if rc.UserID == "" {
		return nil, nil
	}

	deviation, ok, err := c.baseline.Deviation(ctx, rc.UserID)
	if err != nil {
		return nil, fmt.Errorf("behavior baseline: %w", err)
	}
	if !ok || deviation < behaviorDeviationThreshold {
		return nil, nil
	}

	return []domain.RiskFactor{{
		Name:     "behavior_deviation",
		Score:    weightBehaviorDeviation,
		Evidence: fmt.Sprintf("interaction pattern deviates %.2f from baseline", deviation),
	}}, nil
}

// VelocityThresholds configures the sliding-window frequency checks.
type VelocityThresholds struct {
	Window          time.Duration
	IPAttempts      int
	AccountAttempts int
	SignupWindow    time.Duration
	SignupAttempts  int
}

// DefaultVelocityThresholds returns the production defaults.
func DefaultVelocityThresholds() VelocityThresholds {
	return VelocityThresholds{
		Window:          10 * time.Minute,
		IPAttempts:      8,
		AccountAttempts: 5,
		SignupWindow:    time.Hour,
		SignupAttempts:  3,
	}
}

// VelocityCollector counts attempts per IP and per account over sliding
// windows, and account creations per IP. It also records the current attempt,
// so it must run after the temporal collector.
type VelocityCollector struct {
	attempts   port.RateLimitStore
	thresholds VelocityThresholds
}

// NewVelocityCollector constructs the velocity signal collector.
func NewVelocityCollector(attempts port.RateLimitStore, thresholds VelocityThresholds) *VelocityCollector {
	if thresholds.Window <= 0 {
		thresholds = DefaultVelocityThresholds()
	}
	return &VelocityCollector{attempts: attempts, thresholds: thresholds}
}

func (c *VelocityCollector) Name() string { return "velocity" }

func (c *VelocityCollector) Collect(ctx context.Context, rc domain.RiskContext) ([]domain.RiskFactor, error) {
	var factors []domain.RiskFactor

	if rc.IP != "" {
		count, err := c.countAndRecord(ctx, ipAttemptKey(rc.IP), c.thresholds.Window, rc.OccurredAt)
		if err != nil {
			return nil, err
		}
		if count >= c.thresholds.IPAttempts {
			factors = append(factors, domain.RiskFactor{
				Name:     "ip_velocity",
				Score:    weightIPVelocity,
				Evidence: fmt.Sprintf("%d attempts from %s within %s", count, rc.IP, c.thresholds.Window),
			})
		}

		if rc.EventType == domain.RiskEventAccountCreation {
			signups, err := c.countAndRecord(ctx, signupAttemptKey(rc.IP), c.thresholds.SignupWindow, rc.OccurredAt)
			if err != nil {
				return nil, err
			}
			if signups >= c.thresholds.SignupAttempts {
				factors = append(factors, domain.RiskFactor{
					Name:     "signup_velocity",
					Score:    weightSignupVelocity,
					Evidence: fmt.Sprintf("%d account creations from %s within %s", signups, rc.IP, c.thresholds.SignupWindow),
				})
			}
		}
	}

	if rc.UserID != "" {
		count, err := c.countAndRecord(ctx, accountAttemptKey(rc.UserID), c.thresholds.Window, rc.OccurredAt)
		if err != nil {
			return nil, err
		}
		if count >= c.thresholds.AccountAttempts {
			factors = append(factors, domain.RiskFactor{
				Name:     "account_velocity",
				Score:    weightAccountVelocity,
				Evidence: fmt.Sprintf("%d attempts for this account within %s", count, c.thresholds.Window),
			})
		}
	}

	return factors, nil
}

// countAndRecord trims the window, counts prior attempts and records the
// current one. The returned count excludes the current attempt.
func (c *VelocityCollector) countAndRecord(ctx context.Context, key string, window time.Duration, at time.Time) (int, error) {
	if err := c.attempts.TrimWindow(ctx, key, window, at); err != nil {
		return 0, fmt.Errorf("trim window: %w", err)
	}
	count, err := c.attempts.CountAttempts(ctx, key, window, at)
	if err != nil {
		return 0, fmt.Errorf("count attempts: %w", err)
	}
	if err := c.attempts.RecordAttempt(ctx, key, at); err != nil {
		return 0, fmt.Errorf("record attempt: %w", err)
	}
	return count, nil
}

// IdentifierHygieneCollector inspects the identifiers presented at account
// creation: disposable email domains, machine-generated local parts and VOIP
// phone numbers.
type IdentifierHygieneCollector struct {
	email  port.EmailIntel
	phones port.PhoneIntel
}

// NewIdentifierHygieneCollector constructs the identifier-hygiene collector.
func NewIdentifierHygieneCollector(email port.EmailIntel, phones port.PhoneIntel) *IdentifierHygieneCollector {
	return &IdentifierHygieneCollector{email: email, phones: phones}
}

func (c *IdentifierHygieneCollector) Name() string { return "identifier_hygiene" }

func (c *IdentifierHygieneCollector) Collect(ctx context.Context, rc domain.RiskContext) ([]domain.RiskFactor, error) {
	if rc.EventType != domain.RiskEventAccountCreation {
		return nil, nil
	}

	var factors []domain.RiskFactor

	if rc.Email != "" {
		local, emailDomain, ok := splitEmail(rc.Email)
		if ok {
			if c.email.IsDisposableDomain(emailDomain) {
				factors = append(factors, domain.RiskFactor{
					Name:     "disposable_email",
					Score:    weightDisposableEmail,
					Evidence: fmt.Sprintf("email domain %s is disposable", emailDomain),
				})
			}
			if entropy := zxcvbn.PasswordStrength(local, nil).Entropy; entropy >= emailEntropyThreshold && strings.ContainsAny(local, "0123456789") {
				factors = append(factors, domain.RiskFactor{
					Name:     "high_entropy_email",
					Score:    weightHighEntropyEmail,
					Evidence: fmt.Sprintf("email local part has %.0f bits of entropy", entropy),
				})
			}
		}
	}

	if rc.PhoneNumber != "" {
		voip, err := c.phones.IsVOIP(ctx, rc.PhoneNumber)
		if err != nil {
			return nil, fmt.Errorf("phone intel: %w", err)
		}
		if voip {
			factors = append(factors, domain.RiskFactor{
				Name:     "voip_phone",
				Score:    weightVOIPPhone,
				Evidence: "phone number type is flagged VOIP",
			})
		}
	}

	return factors, nil
}

func splitEmail(email string) (local, domainPart string, ok bool) {
	at := strings.LastIndex(email, "@")
	if at <= 0 || at == len(email)-1 {
		return "", "", false
	}
	return email[:at], strings.ToLower(email[at+1:]), true
}

func accountAttemptKey(userID string) string { return "acct:" + userID }
func ipAttemptKey(ip string) string          { return "ip:" + ip }
func signupAttemptKey(ip string) string      { return "signup:" + ip }

func haversineKM(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadiusKM = 6371.0

	rad := func(deg float64) float64 { return deg * math.Pi / 180 }
	dLat := rad(lat2 - lat1)
	dLon := rad(lon2 - lon1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rad(lat1))*math.Cos(rad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)

	return 2 * earthRadiusKM * math.Asin(math.Sqrt(a))
}
