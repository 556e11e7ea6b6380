// Command simulate publishes synthetic accelerometer readings to an MQTT
// broker, standing in for the field sensor during development and demos.
//
// Usage:
//
//	go run ./cmd/simulate \
//	  -broker tcp://localhost:1883 \
//	  -topic /lembang/sensor/data \
//	  -scenario quake -interval 500ms -count 120
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"math"
	"math/rand/v2"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqttadapter "github.com/couchcryptid/quake-monitor/internal/adapter/mqtt"
	"github.com/google/uuid"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	broker := flag.String("broker", "tcp://localhost:1883", "MQTT broker URL")
	topic := flag.String("topic", "/lembang/sensor/data", "sensor data topic")
	sensorID := flag.String("sensor", "esp32-lembang", "sensor_id to report")
	scenario := flag.String("scenario", "calm", "reading profile: calm or quake")
	interval := flag.Duration("interval", time.Second, "delay between readings")
	count := flag.Int("count", 0, "readings to publish, 0 for unlimited")
	seed := flag.Uint64("seed", 1, "random seed for reproducible runs")
	dryRun := flag.Bool("dry-run", false, "print payloads instead of publishing")
	flag.Parse()

	gen, err := newGenerator(*scenario, *sensorID, *seed)
	if err != nil {
		flag.Usage()
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	publish := func(_ context.Context, payload []byte) error {
		_, err := fmt.Fprintln(os.Stdout, string(payload))
		return err
	}
	if !*dryRun {
		pub := mqttadapter.NewPublisher(mqttadapter.PublisherConfig{
			Broker:         *broker,
			ClientID:       "quake-simulate-" + uuid.NewString()[:8],
			ConnectTimeout: 10 * time.Second,
		}, slog.Default())
		if err := pub.Connect(ctx); err != nil {
			return err
		}
		defer pub.Close()
		publish = func(ctx context.Context, payload []byte) error {
			return pub.Publish(ctx, *topic, 1, payload)
		}
		log.Printf("publishing %s readings to %s on %s", *scenario, *topic, *broker)
	}

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	for sent := 0; *count == 0 || sent < *count; sent++ {
		payload, err := json.Marshal(gen.next())
		if err != nil {
			return fmt.Errorf("encode reading: %w", err)
		}
		if err := publish(ctx, payload); err != nil {
			return fmt.Errorf("publish reading %d: %w", sent+1, err)
		}
		select {
		case <-ctx.Done():
			log.Printf("stopped after %d readings", sent+1)
			return nil
		case <-ticker.C:
		}
	}
	log.Printf("published %d readings", *count)
	return nil
}

// reading mirrors the JSON the field firmware sends.
type reading struct {
	SensorID    string  `json:"sensor_id"`
	MagnitudeG  float64 `json:"magnitude_g"`
	AccelX      float64 `json:"AcX_g"`
	AccelY      float64 `json:"AcY_g"`
	AccelZ      float64 `json:"AcZ_g"`
	Temperature float64 `json:"temperature"`
}

// generator produces a deterministic reading sequence. The quake profile is
// a calm baseline, a decaying main shock, then sparse aftershocks.
type generator struct {
	sensorID string
	quake    bool
	rng      *rand.Rand
	step     int
}

func newGenerator(scenario, sensorID string, seed uint64) (*generator, error) {
	switch scenario {
	case "calm", "quake":
	default:
		return nil, fmt.Errorf("unknown scenario %q, want calm or quake", scenario)
	}
	return &generator{
		sensorID: sensorID,
		quake:    scenario == "quake",
		rng:      rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}, nil
}

const (
	shockStart = 10
	shockPeak  = 0.9
	shockDecay = 8.0
)

func (g *generator) next() reading {
	defer func() { g.step++ }()

	ax := g.rng.NormFloat64() * 0.01
	ay := g.rng.NormFloat64() * 0.01
	az := 1.0 + g.rng.NormFloat64()*0.01

	if g.quake && g.step >= shockStart {
		t := float64(g.step - shockStart)
		amp := shockPeak * math.Exp(-t/shockDecay)
		if g.rng.Float64() < 0.1 {
			amp += 0.2 + g.rng.Float64()*0.3
		}
		ax += amp * g.rng.NormFloat64() * 0.5
		ay += amp * g.rng.NormFloat64() * 0.5
		az += amp * math.Sin(t)
	}

	return reading{
		SensorID:    g.sensorID,
		MagnitudeG:  round(math.Sqrt(ax*ax+ay*ay+az*az), 4),
		AccelX:      round(ax, 4),
		AccelY:      round(ay, 4),
		AccelZ:      round(az, 4),
		Temperature: round(27+g.rng.NormFloat64()*0.3, 1),
	}
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
