package domain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Coordinates is a WGS-84 latitude/longitude pair.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// SensorReading is a validated sample decoded from a transport payload.
type SensorReading struct {
	SensorID   string
	MagnitudeG float64
	StatusHint string // firmware-supplied status, informational only

	DepthKM     *float64
	Coordinates *Coordinates
	Temperature *float64
	AccelX      *float64
	AccelY      *float64
	AccelZ      *float64
}

// RawMessage is an undecoded message delivered by a transport.
type RawMessage struct {
	Topic      string
	Payload    []byte
	ReceivedAt time.Time

	// Commit acknowledges the message to the transport once it has been
	// handled. Nil for transports without acknowledgements.
	Commit func(ctx context.Context) error
}

// Subscription is a live transport subscription. Messages stays open across
// reconnects; Lost yields once when the connection behind it drops.
type Subscription struct {
	Messages <-chan RawMessage
	Lost     <-chan error
}

// DecodeReading parses a JSON payload into a SensorReading. Any structural
// problem is reported as an error wrapping ErrInvalidPayload.
func DecodeReading(payload []byte) (SensorReading, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return SensorReading{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if fields == nil {
		return SensorReading{}, fmt.Errorf("%w: payload is not an object", ErrInvalidPayload)
	}

	sensorID, err := requiredString(fields, "sensor_id")
	if err != nil {
		return SensorReading{}, err
	}
	magnitude, err := requiredFloat(fields, "magnitude_g")
	if err != nil {
		return SensorReading{}, err
	}

	r := SensorReading{
		SensorID:    sensorID,
		MagnitudeG:  magnitude,
		StatusHint:  optionalString(fields, "status"),
		DepthKM:     optionalFloat(fields, "depth_km"),
		Coordinates: optionalCoordinates(fields["coordinates"]),
		Temperature: optionalFloat(fields, "temperature"),
		AccelX:      optionalFloat(fields, "AcX_g"),
		AccelY:      optionalFloat(fields, "AcY_g"),
		AccelZ:      optionalFloat(fields, "AcZ_g"),
	}
	return r, nil
}

func requiredString(fields map[string]json.RawMessage, key string) (string, error) {
	raw, ok := fields[key]
	if !ok || isNull(raw) {
		return "", fmt.Errorf("%w: %s is missing", ErrInvalidPayload, key)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("%w: %s is not a string", ErrInvalidPayload, key)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("%w: %s is empty", ErrInvalidPayload, key)
	}
	return s, nil
}

func requiredFloat(fields map[string]json.RawMessage, key string) (float64, error) {
	raw, ok := fields[key]
	if !ok || isNull(raw) {
		return 0, fmt.Errorf("%w: %s is missing", ErrInvalidPayload, key)
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, fmt.Errorf("%w: %s is not a number", ErrInvalidPayload, key)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %s is not finite", ErrInvalidPayload, key)
	}
	return v, nil
}

// optionalFloat returns nil for absent, null, non-numeric or non-finite values.
// Enrichment fields never fail a decode.
func optionalFloat(fields map[string]json.RawMessage, key string) *float64 {
	raw, ok := fields[key]
	if !ok || isNull(raw) {
		return nil
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func optionalString(fields map[string]json.RawMessage, key string) string {
	raw, ok := fields[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return strings.ToUpper(strings.TrimSpace(s))
}

// optionalCoordinates accepts either {"lat": .., "lon": ..} or a "lat,lon"
// string, the two shapes the dashboard has historically been fed.
func optionalCoordinates(raw json.RawMessage) *Coordinates {
	if len(raw) == 0 || isNull(raw) {
		return nil
	}

	var obj struct {
		Lat *float64 `json:"lat"`
		Lon *float64 `json:"lon"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		if obj.Lat == nil || obj.Lon == nil {
			return nil
		}
		return validCoordinates(*obj.Lat, *obj.Lon)
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil
	}
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return nil
	}
	lat, errLat := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	lon, errLon := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if errLat != nil || errLon != nil {
		return nil
	}
	return validCoordinates(lat, lon)
}

func validCoordinates(lat, lon float64) *Coordinates {
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return nil
	}
	return &Coordinates{Lat: lat, Lon: lon}
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
