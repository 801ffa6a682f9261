package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	red "github.com/redis/go-redis/v9"

	"github.com/qisslab/entativa-id-security/internal/core/port"
)

const (
	defaultDevicePrefix   = "device:seen"
	defaultLocationPrefix = "geo:seen"

	historyRetention = 90 * 24 * time.Hour
)

// DeviceHistoryRepository remembers the device fingerprints observed per
// account, backing the unseen-device risk signal.
type DeviceHistoryRepository struct {
	client *red.Client
	prefix string
}

// NewDeviceHistoryRepository constructs a device history repository.
func NewDeviceHistoryRepository(client *red.Client, keyPrefix string) *DeviceHistoryRepository {
	prefix := strings.TrimSpace(keyPrefix)
	if prefix == "" {
		prefix = defaultDevicePrefix
	}
	return &DeviceHistoryRepository{client: client, prefix: prefix}
}

// IsKnownDevice reports whether the fingerprint was observed for the user.
func (r *DeviceHistoryRepository) IsKnownDevice(ctx context.Context, userID, fingerprint string) (bool, error) {
	if userID == "" || fingerprint == "" {
		return false, errors.New("user id and fingerprint are required")
	}

	known, err := r.client.SIsMember(ctx, r.key(userID), fingerprint).Result()
	if err != nil {
		return false, fmt.Errorf("redis sismember device: %w", err)
	}
	return known, nil
}

// MarkSeen remembers the fingerprint for the user and refreshes retention.
func (r *DeviceHistoryRepository) MarkSeen(ctx context.Context, userID, fingerprint string) error {
	if userID == "" || fingerprint == "" {
		return errors.New("user id and fingerprint are required")
	}

	key := r.key(userID)
	pipe := r.client.TxPipeline()
	pipe.SAdd(ctx, key, fingerprint)
	pipe.Expire(ctx, key, historyRetention)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis sadd device: %w", err)
	}
	return nil
}

func (r *DeviceHistoryRepository) key(userID string) string {
	return fmt.Sprintf("%s:%s", r.prefix, userID)
}

// LocationHistoryRepository remembers coarse locations observed per account,
// backing the geolocation-inconsistency risk signal. Members are encoded as
// "city|country|lat|lon".
type LocationHistoryRepository struct {
	client *red.Client
	prefix string
}

// NewLocationHistoryRepository constructs a location history repository.
func NewLocationHistoryRepository(client *red.Client, keyPrefix string) *LocationHistoryRepository {
	prefix := strings.TrimSpace(keyPrefix)
	if prefix == "" {
		prefix = defaultLocationPrefix
	}
	return &LocationHistoryRepository{client: client, prefix: prefix}
}

// KnownLocations returns every location previously recorded for the user.
func (r *LocationHistoryRepository) KnownLocations(ctx context.Context, userID string) ([]port.GeoLocation, error) {
	if userID == "" {
		return nil, errors.New("user id is required")
	}

	members, err := r.client.SMembers(ctx, r.key(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis smembers locations: %w", err)
	}

	locations := make([]port.GeoLocation, 0, len(members))
	for _, member := range members {
		loc, err := decodeLocation(member)
		if err != nil {
			continue
		}
		locations = append(locations, loc)
	}
	return locations, nil
}

// RecordLocation remembers the location for the user and refreshes retention.
func (r *LocationHistoryRepository) RecordLocation(ctx context.Context, userID string, loc port.GeoLocation) error {
	if userID == "" {
		return errors.New("user id is required")
	}
	if loc.City == "" {
		return errors.New("city is required")
	}

	key := r.key(userID)
	pipe := r.client.TxPipeline()
	pipe.SAdd(ctx, key, encodeLocation(loc))
	pipe.Expire(ctx, key, historyRetention)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis sadd location: %w", err)
	}
	return nil
}

func (r *LocationHistoryRepository) key(userID string) string {
	return fmt.Sprintf("%s:%s", r.prefix, userID)
}

func encodeLocation(loc port.GeoLocation) string {
	return strings.Join([]string{
		loc.City,
		loc.Country,
		strconv.FormatFloat(loc.Lat, 'f', 4, 64),
		strconv.FormatFloat(loc.Lon, 'f', 4, 64),
	}, "|")
}

func decodeLocation(member string) (port.GeoLocation, error) {
	parts := strings.Split(member, "|")
	if len(parts) != 4 {
		return port.GeoLocation{}, errors.New("malformed location member")
	}
	lat, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return port.GeoLocation{}, err
	}
	lon, err := strconv.ParseFloat(parts[3], 64)
	if err != nil {
		return port.GeoLocation{}, err
	}
	return port.GeoLocation{City: parts[0], Country: parts[1], Lat: lat, Lon: lon}, nil
}

var (
	_ port.DeviceHistory   = (*DeviceHistoryRepository)(nil)
	_ port.LocationHistory = (*LocationHistoryRepository)(nil)
)
