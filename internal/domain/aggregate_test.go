package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2026, time.March, 2, 8, 0, 0, 0, time.UTC)

func eventAt(offset time.Duration, magnitude float64) ClassifiedEvent {
	c := NewClassifier(DefaultThresholds()).Classify(magnitude)
	return ClassifiedEvent{
		SensorID:   testSensorID,
		MagnitudeG: magnitude,
		Deviation:  c.Deviation,
		Status:     c.Status,
		RecordedAt: baseTime.Add(offset),
	}
}

func TestAggregate_Counts(t *testing.T) {
	events := []ClassifiedEvent{
		eventAt(1*time.Second, 1.0),
		eventAt(2*time.Second, 1.01),
		eventAt(3*time.Second, 0.99),
		eventAt(4*time.Second, 1.3),
		eventAt(5*time.Second, 1.35),
		eventAt(6*time.Second, 1.7),
	}

	view := Aggregate(events, baseTime, 30)

	assert.Equal(t, 6, view.Total)
	assert.Equal(t, map[Status]int{StatusNormal: 3, StatusWarning: 2, StatusAlert: 1}, view.Counts)
	assert.Equal(t, 3, view.Elevated())
	assert.InDelta(t, 0.7, view.MaxDeviation, 1e-9)
	assert.InDelta(t, (0+0.01+0.01+0.3+0.35+0.7)/6, view.MeanDeviation, 1e-9)
	require.Len(t, view.DeviationSeries, 6)
	assert.Equal(t, events[0].RecordedAt, view.DeviationSeries[0].RecordedAt)
	assert.Equal(t, StatusAlert, view.DeviationSeries[5].Status)
}

func TestAggregate_Empty(t *testing.T) {
	view := Aggregate(nil, baseTime, 30)

	assert.Zero(t, view.Total)
	assert.Equal(t, map[Status]int{StatusNormal: 0, StatusWarning: 0, StatusAlert: 0}, view.Counts)
	assert.Zero(t, view.MeanDeviation)
	assert.Zero(t, view.MaxDeviation)
	assert.NotNil(t, view.DeviationSeries)
	assert.Empty(t, view.DeviationSeries)
}

func TestAggregate_IgnoresEventsBeforeSince(t *testing.T) {
	events := []ClassifiedEvent{
		eventAt(-time.Minute, 1.9),
		eventAt(0, 1.0),
		eventAt(time.Second, 1.3),
	}

	view := Aggregate(events, baseTime, 30)

	assert.Equal(t, 2, view.Total)
	assert.Zero(t, view.Counts[StatusAlert])
	assert.InDelta(t, 0.3, view.MaxDeviation, 1e-9)
	assert.Len(t, view.DeviationSeries, 2)
}

func TestAggregate_SeriesKeepsNewest(t *testing.T) {
	var events []ClassifiedEvent
	for i := range 50 {
		events = append(events, eventAt(time.Duration(i)*time.Second, 1.0))
	}

	view := Aggregate(events, baseTime, 30)

	assert.Equal(t, 50, view.Total)
	require.Len(t, view.DeviationSeries, 30)
	assert.Equal(t, baseTime.Add(20*time.Second), view.DeviationSeries[0].RecordedAt)
	assert.Equal(t, baseTime.Add(49*time.Second), view.DeviationSeries[29].RecordedAt)
}

func TestAggregate_CountsSumToTotal(t *testing.T) {
	var events []ClassifiedEvent
	for i := range 100 {
		events = append(events, eventAt(time.Duration(i)*time.Second, 0.4+float64(i)*0.013))
	}

	view := Aggregate(events, baseTime, 10)

	sum := 0
	for _, n := range view.Counts {
		sum += n
	}
	assert.Equal(t, view.Total, sum)
	assert.Len(t, view.DeviationSeries, 10)
}
