package domain

import (
	"errors"
	"math"
)

// Status is the severity assigned to a reading.
type Status string

const (
	StatusNormal  Status = "NORMAL"
	StatusWarning Status = "WARNING"
	StatusAlert   Status = "ALERT"
)

// Statuses lists every severity from least to most severe.
var Statuses = []Status{StatusNormal, StatusWarning, StatusAlert}

// Valid reports whether s is one of the known severities.
func (s Status) Valid() bool {
	switch s {
	case StatusNormal, StatusWarning, StatusAlert:
		return true
	default:
		return false
	}
}

// RestMagnitudeG is the reading of a sensor at rest under standard gravity.
const RestMagnitudeG = 1.0

// Description labels shown next to a reading.
const (
	StrengthVeryStrong = "Very Strong"
	StrengthModerate   = "Moderate"
	StrengthWeak       = "Weak/Normal"

	MovementVibration = "Vibration Detected"
	MovementStable    = "Stable"

	DepthShallow = "Suspected Shallow"
	DepthDeep    = "Suspected Moderate/Deep"

	MovementTypeHorizontal = "Horizontal Dominant"
	MovementTypeVertical   = "Vertical Dominant"
)

const (
	horizontalRatio        = 1.5
	horizontalMinDeviation = 0.1
)

// Thresholds calibrates the classifier. Severity thresholds apply to
// deviation; strength and motion thresholds apply to raw magnitude.
type Thresholds struct {
	WarningDeviation    float64
	AlertDeviation      float64
	ModerateMagnitude   float64
	VeryStrongMagnitude float64
	MotionMagnitude     float64
	ShallowDeviation    float64
}

// DefaultThresholds returns the factory calibration.
func DefaultThresholds() Thresholds {
	return Thresholds{
		WarningDeviation:    0.2,
		AlertDeviation:      0.5,
		ModerateMagnitude:   1.2,
		VeryStrongMagnitude: 1.5,
		MotionMagnitude:     1.1,
		ShallowDeviation:    0.35,
	}
}

// Validate checks that the thresholds are usable and ordered.
func (t Thresholds) Validate() error {
	if t.WarningDeviation <= 0 || t.AlertDeviation <= 0 {
		return errors.New("severity thresholds must be positive")
	}
	if t.AlertDeviation <= t.WarningDeviation {
		return errors.New("alert threshold must exceed warning threshold")
	}
	if t.VeryStrongMagnitude <= t.ModerateMagnitude {
		return errors.New("very strong threshold must exceed moderate threshold")
	}
	if t.MotionMagnitude <= 0 || t.ShallowDeviation <= 0 {
		return errors.New("motion and shallow thresholds must be positive")
	}
	return nil
}

// Description is the human-readable interpretation of a reading.
type Description struct {
	Strength     string `json:"strength"`
	Movement     string `json:"movement"`
	DepthHint    string `json:"depth_hint"`
	MovementType string `json:"movement_type,omitempty"`
}

// Classification is the result of classifying one magnitude.
type Classification struct {
	Status      Status
	Deviation   float64
	Description Description
}

// Classifier maps magnitudes to severities and descriptions. The zero value
// is not useful; construct with NewClassifier.
type Classifier struct {
	t Thresholds
}

// NewClassifier returns a classifier using the given thresholds.
func NewClassifier(t Thresholds) Classifier {
	return Classifier{t: t}
}

// Thresholds returns the calibration in use.
func (c Classifier) Thresholds() Thresholds { return c.t }

// Classify derives severity, deviation and description for a magnitude.
func (c Classifier) Classify(magnitudeG float64) Classification {
	deviation := Deviation(magnitudeG)
	return Classification{
		Status:    c.Severity(deviation),
		Deviation: deviation,
		Description: Description{
			Strength:  c.Strength(magnitudeG),
			Movement:  c.Movement(magnitudeG),
			DepthHint: c.DepthHint(deviation),
		},
	}
}

// Deviation is the distance of a magnitude from the resting 1.0 g.
func Deviation(magnitudeG float64) float64 {
	return math.Abs(magnitudeG - RestMagnitudeG)
}

// Severity evaluates the most severe rule first.
func (c Classifier) Severity(deviation float64) Status {
	switch {
	case deviation > c.t.AlertDeviation:
		return StatusAlert
	case deviation > c.t.WarningDeviation:
		return StatusWarning
	default:
		return StatusNormal
	}
}

// Strength describes shaking intensity from the raw magnitude.
func (c Classifier) Strength(magnitudeG float64) string {
	switch {
	case magnitudeG > c.t.VeryStrongMagnitude:
		return StrengthVeryStrong
	case magnitudeG > c.t.ModerateMagnitude:
		return StrengthModerate
	default:
		return StrengthWeak
	}
}

func (c Classifier) Movement(magnitudeG float64) string {
	if magnitudeG > c.t.MotionMagnitude {
		return MovementVibration
	}
	return MovementStable
}

func (c Classifier) DepthHint(deviation float64) string {
	if deviation > c.t.ShallowDeviation {
		return DepthShallow
	}
	return DepthDeep
}

// Describe is the full description of a stored event, including the
// movement type when the event carries its raw axes.
func (c Classifier) Describe(e ClassifiedEvent) Description {
	d := c.Classify(e.MagnitudeG).Description
	d.MovementType = MovementType(e.Acceleration, e.Deviation)
	return d
}

// MovementType compares the horizontal and vertical components of a, and is
// empty when a is nil.
func MovementType(a *Acceleration, deviation float64) string {
	if a == nil {
		return ""
	}
	horizontal := math.Abs(a.X) + math.Abs(a.Y)
	vertical := math.Abs(a.Z - RestMagnitudeG)
	if horizontal > vertical*horizontalRatio && deviation > horizontalMinDeviation {
		return MovementTypeHorizontal
	}
	return MovementTypeVertical
}
