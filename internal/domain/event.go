package domain

import "time"

// ClassifiedEvent is a reading after classification. ID and RecordedAt are
// assigned by the event store; everything else is fixed before the write.
type ClassifiedEvent struct {
	ID          int64       `json:"id"`
	SensorID    string      `json:"sensor_id"`
	MagnitudeG  float64     `json:"magnitude_g"`
	Deviation   float64     `json:"deviation"`
	Status      Status      `json:"status"`
	DepthKM     float64     `json:"depth_km"`
	Coordinates Coordinates `json:"coordinates"`
	RecordedAt  time.Time   `json:"recorded_at"`

	Temperature  *float64      `json:"temperature,omitempty"`
	Acceleration *Acceleration `json:"acceleration,omitempty"`
}

// Acceleration holds the raw per-axis readings in g.
type Acceleration struct {
	X float64 `json:"acx_g"`
	Y float64 `json:"acy_g"`
	Z float64 `json:"acz_g"`
}

// Location holds the values used when a reading carries no position of its
// own, normally the installation site of the sensor.
type Location struct {
	DepthKM     float64
	Coordinates Coordinates
}

// NewEvent builds the event to persist from a decoded reading and its
// classification, falling back to def for missing enrichment fields.
func NewEvent(r SensorReading, c Classification, def Location) ClassifiedEvent {
	e := ClassifiedEvent{
		SensorID:    r.SensorID,
		MagnitudeG:  r.MagnitudeG,
		Deviation:   c.Deviation,
		Status:      c.Status,
		DepthKM:     def.DepthKM,
		Coordinates: def.Coordinates,
	}
	if r.DepthKM != nil {
		e.DepthKM = *r.DepthKM
	}
	if r.Coordinates != nil {
		e.Coordinates = *r.Coordinates
	}
	if r.Temperature != nil {
		t := *r.Temperature
		e.Temperature = &t
	}
	// Axes are kept only as a complete set.
	if r.AccelX != nil && r.AccelY != nil && r.AccelZ != nil {
		e.Acceleration = &Acceleration{X: *r.AccelX, Y: *r.AccelY, Z: *r.AccelZ}
	}
	return e
}
