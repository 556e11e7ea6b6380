package domain

import "time"

// DeviationPoint is one sample of the deviation series.
type DeviationPoint struct {
	RecordedAt time.Time `json:"recorded_at"`
	Deviation  float64   `json:"deviation"`
	Status     Status    `json:"status"`
}

// AggregateView is a rollup of the events recorded since a point in time.
// It is computed per request and never stored.
type AggregateView struct {
	Since           time.Time        `json:"since"`
	Total           int              `json:"total"`
	Counts          map[Status]int   `json:"counts"`
	MeanDeviation   float64          `json:"mean_deviation"`
	MaxDeviation    float64          `json:"max_deviation"`
	DeviationSeries []DeviationPoint `json:"deviation_series"`
}

// Elevated is the number of WARNING and ALERT events in the view.
func (v AggregateView) Elevated() int {
	return v.Counts[StatusWarning] + v.Counts[StatusAlert]
}

// NewAggregateView returns an empty view with every status present in Counts.
func NewAggregateView(since time.Time) AggregateView {
	counts := make(map[Status]int, len(Statuses))
	for _, s := range Statuses {
		counts[s] = 0
	}
	return AggregateView{
		Since:           since,
		Counts:          counts,
		DeviationSeries: []DeviationPoint{},
	}
}

// Aggregate rolls up events (ascending by RecordedAt). Events before since
// are ignored; the series holds the last seriesLen events in the window.
func Aggregate(events []ClassifiedEvent, since time.Time, seriesLen int) AggregateView {
	view := NewAggregateView(since)

	var sum float64
	inWindow := make([]ClassifiedEvent, 0, len(events))
	for _, e := range events {
		if e.RecordedAt.Before(since) {
			continue
		}
		inWindow = append(inWindow, e)
		view.Total++
		view.Counts[e.Status]++
		sum += e.Deviation
		if e.Deviation > view.MaxDeviation {
			view.MaxDeviation = e.Deviation
		}
	}
	if view.Total > 0 {
		view.MeanDeviation = sum / float64(view.Total)
	}

	view.DeviationSeries = SeriesOf(tail(inWindow, seriesLen))
	return view
}

// SeriesOf converts events into deviation points, preserving order.
func SeriesOf(events []ClassifiedEvent) []DeviationPoint {
	series := make([]DeviationPoint, len(events))
	for i, e := range events {
		series[i] = DeviationPoint{RecordedAt: e.RecordedAt, Deviation: e.Deviation, Status: e.Status}
	}
	return series
}

func tail(events []ClassifiedEvent, n int) []ClassifiedEvent {
	if n <= 0 {
		return nil
	}
	if len(events) > n {
		return events[len(events)-n:]
	}
	return events
}
