// Package domain models accelerometer readings from the fault-line sensor and
// the rules that turn them into classified seismic events.
//
// # Readings
//
// The sensor publishes one JSON object per sample:
//
//	{"sensor_id": "esp32-lembang", "magnitude_g": 1.0132, "status": "NORMAL"}
//
// magnitude_g is the vector magnitude of the three accelerometer axes in units
// of standard gravity. A sensor at rest reads about 1.0 g, so the interesting
// quantity is the deviation |magnitude_g - 1.0|. The optional "status" field is
// the firmware's own opinion and is only kept as a hint; the service always
// reclassifies. Optional enrichment fields (depth_km, coordinates, temperature
// and the raw AcX_g/AcY_g/AcZ_g axes) are stored with the event when present;
// the axes only when all three are.
//
// # Classification
//
// Severity is derived from deviation, most severe rule first:
//
//	deviation > alert threshold   → ALERT   (default 0.5 g)
//	deviation > warning threshold → WARNING (default 0.2 g)
//	otherwise                     → NORMAL
//
// Strength, movement and depth descriptions are separate mappings with their
// own thresholds so that calibrating severity does not silently change the
// wording shown on the dashboard:
//
//	Strength:  magnitude > 1.5 "Very Strong" | > 1.2 "Moderate" | else "Weak/Normal"
//	Movement:  magnitude > 1.1 "Vibration Detected" | else "Stable"
//	Depth:     deviation > 0.35 "Suspected Shallow" | else "Suspected Moderate/Deep"
//
// When the raw axes are known, the movement type compares the horizontal
// component |x|+|y| with the vertical |z-1|: horizontal dominates when it is
// more than 1.5 times larger and deviation exceeds 0.1 g.
//
// # Aftershock risk
//
// [AftershockEstimator] turns an [AggregateView] of the trailing window into an
// advisory LOW/MEDIUM/HIGH level. It is a heuristic over event density and mean
// deviation, not a seismological model.
package domain
