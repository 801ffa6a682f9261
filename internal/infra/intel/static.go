// Package intel provides in-process implementations of the threat
// intelligence ports, backed by static lists. Production deployments swap in
// providers backed by commercial feeds; the interfaces stay the same.
package intel

import (
	"context"
	"net"
	"strings"
	"sync"

	"github.com/qisslab/entativa-id-security/internal/core/port"
)

// StaticIPReputation answers reputation lookups from configured address and
// CIDR lists.
type StaticIPReputation struct {
	malicious   map[string]struct{}
	anonymizers []*net.IPNet
}

// NewStaticIPReputation builds a provider over explicit address and CIDR lists.
func NewStaticIPReputation(malicious []string, anonymizerCIDRs []string) (*StaticIPReputation, error) {
	p := &StaticIPReputation{malicious: make(map[string]struct{}, len(malicious))}
	for _, ip := range malicious {
		p.malicious[ip] = struct{}{}
	}
	for _, cidr := range anonymizerCIDRs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			return nil, err
		}
		p.anonymizers = append(p.anonymizers, network)
	}
	return p, nil
}

func (p *StaticIPReputation) Reputation(_ context.Context, ip string) (port.IPReputation, error) {
	rep := port.IPReputation{}
	if _, ok := p.malicious[ip]; ok {
		rep.Malicious = true
	}
	if parsed := net.ParseIP(ip); parsed != nil {
		for _, network := range p.anonymizers {
			if network.Contains(parsed) {
				rep.Anonymizer = true
				break
			}
		}
	}
	return rep, nil
}

// StaticGeoResolver maps addresses to locations from a fixed table.
// Unlisted addresses resolve to nil without error.
type StaticGeoResolver struct {
	mu        sync.RWMutex
	locations map[string]port.GeoLocation
}

// NewStaticGeoResolver builds a resolver over a fixed address table.
func NewStaticGeoResolver(locations map[string]port.GeoLocation) *StaticGeoResolver {
	if locations == nil {
		locations = make(map[string]port.GeoLocation)
	}
	return &StaticGeoResolver{locations: locations}
}

func (r *StaticGeoResolver) Locate(_ context.Context, ip string) (*port.GeoLocation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	loc, ok := r.locations[ip]
	if !ok {
		return nil, nil
	}
	return &loc, nil
}

// Add registers a location for an address, used in tests and fixtures.
func (r *StaticGeoResolver) Add(ip string, loc port.GeoLocation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.locations[ip] = loc
}

// Disposable email providers seen in signup abuse. The matcher also catches
// subdomains of each entry.
var defaultDisposableDomains = []string{
	"mailinator.com",
	"guerrillamail.com",
	"10minutemail.com",
	"tempmail.com",
	"temp-mail.org",
	"throwawaymail.com",
	"yopmail.com",
	"sharklasers.com",
	"getnada.com",
	"maildrop.cc",
	"trashmail.com",
	"dispostable.com",
}

// StaticEmailIntel classifies email domains against a disposable-provider list.
type StaticEmailIntel struct {
	domains map[string]struct{}
}

// NewStaticEmailIntel builds a classifier. With no explicit list the built-in
// disposable providers are used.
func NewStaticEmailIntel(domains []string) *StaticEmailIntel {
	if len(domains) == 0 {
		domains = defaultDisposableDomains
	}
	set := make(map[string]struct{}, len(domains))
	for _, d := range domains {
		set[strings.ToLower(d)] = struct{}{}
	}
	return &StaticEmailIntel{domains: set}
}

func (e *StaticEmailIntel) IsDisposableDomain(domain string) bool {
	domain = strings.ToLower(domain)
	if _, ok := e.domains[domain]; ok {
		return true
	}
	for candidate := range e.domains {
		if strings.HasSuffix(domain, "."+candidate) {
			return true
		}
	}
	return false
}

// StaticPhoneIntel classifies numbers by configured VOIP prefixes.
type StaticPhoneIntel struct {
	voipPrefixes []string
}

// NewStaticPhoneIntel builds a classifier over number prefixes.
func NewStaticPhoneIntel(voipPrefixes []string) *StaticPhoneIntel {
	return &StaticPhoneIntel{voipPrefixes: voipPrefixes}
}

func (p *StaticPhoneIntel) IsVOIP(_ context.Context, number string) (bool, error) {
	for _, prefix := range p.voipPrefixes {
		if strings.HasPrefix(number, prefix) {
			return true, nil
		}
	}
	return false, nil
}

// NoBaseline is a BehaviorBaseline with no stored profiles. Every lookup
// reports no baseline, so the behavioral collector contributes nothing.
type NoBaseline struct{}

func (NoBaseline) Deviation(context.Context, string) (float64, bool, error) {
	return 0, false, nil
}

var (
	_ port.IPReputationProvider = (*StaticIPReputation)(nil)
	_ port.GeoResolver          = (*StaticGeoResolver)(nil)
	_ port.EmailIntel           = (*StaticEmailIntel)(nil)
	_ port.PhoneIntel           = (*StaticPhoneIntel)(nil)
	_ port.BehaviorBaseline     = NoBaseline{}
)
