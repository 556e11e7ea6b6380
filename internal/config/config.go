package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // DISPLAY_TIMEZONE in minimal images

	"github.com/couchcryptid/quake-monitor/internal/domain"
	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"github.com/google/uuid"
)

const (
	TransportMQTT  = "mqtt"
	TransportKafka = "kafka"

	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	Transport string

	MQTTBroker         string
	MQTTClientID       string
	MQTTSensorTopic    string
	MQTTControlTopic   string
	MQTTQoS            byte
	MQTTConnectTimeout time.Duration

	KafkaBrokers     []string
	KafkaSourceTopic string
	KafkaSinkTopic   string // empty disables the classified-event sink
	KafkaGroupID     string
	KafkaDialTimeout time.Duration

	StoreDriver string
	DatabaseURL string
	RedisAddr   string // empty disables the latest-event cache
	RedisTTL    time.Duration

	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Ingestion worker.
	QueueSize         int
	IngestConcurrency int
	AppendRetries     int
	AppendBackoff     time.Duration
	WriteTimeout      time.Duration

	// Query service.
	QueryTimeout     time.Duration
	DefaultSensorID  string
	LatestPeakWindow time.Duration
	SummaryWindow    time.Duration
	SeriesLength     int
	DisplayTimezone  *time.Location

	Thresholds       domain.Thresholds
	Aftershock       domain.AftershockConfig
	AftershockWindow time.Duration

	// Installation site used when a reading carries no location.
	DefaultLocation domain.Location
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	p := &parser{}
	cfg := &Config{
		Transport: strings.ToLower(sharedcfg.EnvOrDefault("TRANSPORT", TransportMQTT)),

		MQTTBroker:         sharedcfg.EnvOrDefault("MQTT_BROKER", "tcp://localhost:1883"),
		MQTTClientID:       sharedcfg.EnvOrDefault("MQTT_CLIENT_ID", "quake-monitor-"+uuid.NewString()[:8]),
		MQTTSensorTopic:    sharedcfg.EnvOrDefault("MQTT_SENSOR_TOPIC", "/lembang/sensor/data"),
		MQTTControlTopic:   sharedcfg.EnvOrDefault("MQTT_CONTROL_TOPIC", "/lembang/control/actuator"),
		MQTTQoS:            byte(p.intRange("MQTT_QOS", 1, 0, 2)),
		MQTTConnectTimeout: p.duration("MQTT_CONNECT_TIMEOUT", 10*time.Second, false),

		KafkaBrokers:     sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaSourceTopic: sharedcfg.EnvOrDefault("KAFKA_SOURCE_TOPIC", "quake-sensor-readings"),
		KafkaSinkTopic:   os.Getenv("KAFKA_SINK_TOPIC"),
		KafkaGroupID:     sharedcfg.EnvOrDefault("KAFKA_GROUP_ID", "quake-monitor"),
		KafkaDialTimeout: p.duration("KAFKA_DIAL_TIMEOUT", 10*time.Second, false),

		StoreDriver: strings.ToLower(sharedcfg.EnvOrDefault("STORE_DRIVER", StoreMemory)),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisAddr:   os.Getenv("REDIS_ADDR"),
		RedisTTL:    p.duration("REDIS_TTL", 24*time.Hour, false),

		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		QueueSize:         p.intRange("QUEUE_SIZE", 256, 1, 1<<20),
		IngestConcurrency: p.intRange("INGEST_CONCURRENCY", 1, 1, 64),
		AppendRetries:     p.intRange("APPEND_RETRIES", 3, 1, 20),
		AppendBackoff:     p.duration("APPEND_BACKOFF", 100*time.Millisecond, false),
		WriteTimeout:      p.duration("WRITE_TIMEOUT", 5*time.Second, false),

		QueryTimeout:     p.duration("QUERY_TIMEOUT", 3*time.Second, false),
		DefaultSensorID:  os.Getenv("DEFAULT_SENSOR_ID"),
		LatestPeakWindow: p.duration("LATEST_PEAK_WINDOW", 0, true),
		SummaryWindow:    p.duration("SUMMARY_WINDOW", time.Hour, false),
		SeriesLength:     p.intRange("SERIES_LENGTH", 30, 1, 10000),
		DisplayTimezone:  p.location("DISPLAY_TIMEZONE", "Asia/Jakarta"),

		Thresholds: domain.Thresholds{
			WarningDeviation:    p.float("WARNING_DEVIATION", 0.2),
			AlertDeviation:      p.float("ALERT_DEVIATION", 0.5),
			ModerateMagnitude:   p.float("MODERATE_MAGNITUDE", 1.2),
			VeryStrongMagnitude: p.float("VERY_STRONG_MAGNITUDE", 1.5),
			MotionMagnitude:     p.float("MOTION_MAGNITUDE", 1.1),
			ShallowDeviation:    p.float("SHALLOW_DEVIATION", 0.35),
		},
		Aftershock: domain.AftershockConfig{
			MinEvents:           p.intRange("AFTERSHOCK_MIN_EVENTS", 10, 1, 1<<20),
			MediumElevated:      p.intRange("AFTERSHOCK_MEDIUM_ELEVATED", 3, 1, 1<<20),
			HighElevated:        p.intRange("AFTERSHOCK_HIGH_ELEVATED", 10, 1, 1<<20),
			MediumMeanDeviation: p.float("AFTERSHOCK_MEDIUM_MEAN_DEVIATION", 0.1),
			HighMeanDeviation:   p.float("AFTERSHOCK_HIGH_MEAN_DEVIATION", 0.25),
			TrendDelta:          p.float("AFTERSHOCK_TREND_DELTA", 0.05),
		},
		AftershockWindow: p.duration("AFTERSHOCK_WINDOW", time.Hour, false),

		DefaultLocation: domain.Location{
			DepthKM: p.float("DEFAULT_DEPTH_KM", 10),
			Coordinates: domain.Coordinates{
				Lat: p.float("DEFAULT_LATITUDE", -6.8117),
				Lon: p.float("DEFAULT_LONGITUDE", 107.6176),
			},
		},
	}
	if p.err != nil {
		return nil, p.err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Transport {
	case TransportMQTT:
		if c.MQTTBroker == "" {
			return errors.New("MQTT_BROKER is required")
		}
		if c.MQTTSensorTopic == "" {
			return errors.New("MQTT_SENSOR_TOPIC is required")
		}
	case TransportKafka:
		if len(c.KafkaBrokers) == 0 {
			return errors.New("KAFKA_BROKERS is required")
		}
		if c.KafkaSourceTopic == "" {
			return errors.New("KAFKA_SOURCE_TOPIC is required")
		}
	default:
		return fmt.Errorf("invalid TRANSPORT %q: want %s or %s", c.Transport, TransportMQTT, TransportKafka)
	}

	if c.KafkaSinkTopic != "" && len(c.KafkaBrokers) == 0 {
		return errors.New("KAFKA_SINK_TOPIC is set but KAFKA_BROKERS is empty")
	}

	switch c.StoreDriver {
	case StoreMemory:
	case StorePostgres:
		if c.DatabaseURL == "" {
			return errors.New("STORE_DRIVER is postgres but DATABASE_URL is not set")
		}
	default:
		return fmt.Errorf("invalid STORE_DRIVER %q: want %s or %s", c.StoreDriver, StoreMemory, StorePostgres)
	}

	if err := c.Thresholds.Validate(); err != nil {
		return fmt.Errorf("invalid classifier thresholds: %w", err)
	}
	if err := c.Aftershock.Validate(); err != nil {
		return fmt.Errorf("invalid aftershock settings: %w", err)
	}
	return nil
}

// parser collects the first parse error so Load can read every variable in
// one expression.
type parser struct {
	err error
}

func (p *parser) fail(key, value string) {
	if p.err == nil {
		p.err = fmt.Errorf("invalid %s: %q", key, value)
	}
}

func (p *parser) duration(key string, def time.Duration, allowZero bool) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 || (d == 0 && !allowZero) {
		p.fail(key, s)
		return def
	}
	return d
}

func (p *parser) intRange(key string, def, lo, hi int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < lo || n > hi {
		p.fail(key, s)
		return def
	}
	return n
}

func (p *parser) float(key string, def float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		p.fail(key, s)
		return def
	}
	return f
}

func (p *parser) location(key, def string) *time.Location {
	name := sharedcfg.EnvOrDefault(key, def)
	loc, err := time.LoadLocation(name)
	if err != nil {
		p.fail(key, name)
		return time.UTC
	}
	return loc
}
