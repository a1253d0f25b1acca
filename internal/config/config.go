package config

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/viper"
)

// Config структура конфигурации приложения
type Config struct {
	DetectorAPI struct {
		BaseURL       string
		Timeout       int // в секундах
		ConfThreshold float64
		IoUThreshold  float64
	}
	Lots struct {
		Path string
	}
	Occupancy struct {
		MatchThreshold   float64
		BlockedThreshold float64
		Strategy         string // greedy или optimal
		IoUMethod        string // exact или raster
	}
	Tracker struct {
		MaxAge            int
		MinHits           int
		IoUThreshold      float64
		MaxCosineDistance float64
		Appearance        bool
		HistogramBins     int
	}
	Session struct {
		Timeout float64
	}
	Stream struct {
		FPS float64
	}
	MQTT struct {
		Enabled     bool
		Broker      string
		ClientID    string
		Username    string
		Password    string
		TopicPrefix string
		QoS         int
	}
	Metrics struct {
		TextfilePath string
	}
	Logging struct {
		Level  string
		Format string // json или text
	}
}

// envBinding связывает ключ конфигурации с переменной окружения
type envBinding struct {
	key    string
	envVar string
}

var envBindings = []envBinding{
	{"detector.base_url", "DETECTOR_API_BASE_URL"},
	{"detector.timeout", "DETECTOR_API_TIMEOUT_SECONDS"},
	{"detector.conf", "DETECTOR_CONF_THRESHOLD"},
	{"detector.iou", "DETECTOR_IOU_THRESHOLD"},
	{"lots.path", "LOTS_PATH"},
	{"occupancy.match_threshold", "MATCH_IOU_THRESHOLD"},
	{"occupancy.blocked_threshold", "BLOCKED_IOU_THRESHOLD"},
	{"occupancy.strategy", "MATCH_STRATEGY"},
	{"occupancy.iou_method", "IOU_METHOD"},
	{"tracker.max_age", "TRACKER_MAX_AGE"},
	{"tracker.min_hits", "TRACKER_MIN_HITS"},
	{"tracker.iou_threshold", "TRACKER_IOU_THRESHOLD"},
	{"tracker.max_cosine_distance", "TRACKER_MAX_COSINE_DISTANCE"},
	{"tracker.appearance", "TRACKER_APPEARANCE"},
	{"tracker.histogram_bins", "TRACKER_HISTOGRAM_BINS"},
	{"session.timeout", "SESSION_TIMEOUT_SECONDS"},
	{"stream.fps", "STREAM_FPS"},
	{"mqtt.enabled", "MQTT_ENABLED"},
	{"mqtt.broker", "MQTT_BROKER"},
	{"mqtt.client_id", "MQTT_CLIENT_ID"},
	{"mqtt.username", "MQTT_USERNAME"},
	{"mqtt.password", "MQTT_PASSWORD"},
	{"mqtt.topic_prefix", "MQTT_TOPIC_PREFIX"},
	{"mqtt.qos", "MQTT_QOS"},
	{"metrics.textfile", "METRICS_TEXTFILE"},
	{"log.level", "LOG_LEVEL"},
	{"log.format", "LOG_FORMAT"},
}

// NewViper создает экземпляр viper со значениями по умолчанию и привязкой
// к переменным окружения
func NewViper() (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	for _, b := range envBindings {
		if err := v.BindEnv(b.key, b.envVar); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", b.envVar, err)
		}
	}
	return v, nil
}

func setDefaults(v *viper.Viper) {
	// Сервис детекции
	v.SetDefault("detector.base_url", "http://localhost:8000")
	v.SetDefault("detector.timeout", 30)
	v.SetDefault("detector.conf", 0.05)
	v.SetDefault("detector.iou", 0.01)

	v.SetDefault("lots.path", "lots.json")

	// Сопоставление с местами
	v.SetDefault("occupancy.match_threshold", 0.3)
	v.SetDefault("occupancy.blocked_threshold", 0.1)
	v.SetDefault("occupancy.strategy", "greedy")
	v.SetDefault("occupancy.iou_method", "exact")

	// Трекер
	v.SetDefault("tracker.max_age", 30)
	v.SetDefault("tracker.min_hits", 3)
	v.SetDefault("tracker.iou_threshold", 0.3)
	v.SetDefault("tracker.max_cosine_distance", 0.3)
	v.SetDefault("tracker.appearance", false)
	v.SetDefault("tracker.histogram_bins", 8)

	v.SetDefault("session.timeout", 5.0)
	v.SetDefault("stream.fps", 1.0)

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.client_id", "parkvision")
	v.SetDefault("mqtt.topic_prefix", "parkvision")
	v.SetDefault("mqtt.qos", 0)

	v.SetDefault("metrics.textfile", "")

	// Логирование
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// LoadConfig загружает конфигурацию из переменных окружения
func LoadConfig() (*Config, error) {
	v, err := NewViper()
	if err != nil {
		return nil, err
	}
	return Load(v, "")
}

// Load собирает конфигурацию из viper. Если configFile не пуст, значения
// из YAML-файла перекрывают значения по умолчанию, но не переменные окружения.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}

	cfg.DetectorAPI.BaseURL = strings.TrimRight(v.GetString("detector.base_url"), "/")
	cfg.DetectorAPI.Timeout = v.GetInt("detector.timeout")
	cfg.DetectorAPI.ConfThreshold = v.GetFloat64("detector.conf")
	cfg.DetectorAPI.IoUThreshold = v.GetFloat64("detector.iou")

	cfg.Lots.Path = v.GetString("lots.path")

	cfg.Occupancy.MatchThreshold = v.GetFloat64("occupancy.match_threshold")
	cfg.Occupancy.BlockedThreshold = v.GetFloat64("occupancy.blocked_threshold")
	cfg.Occupancy.Strategy = strings.ToLower(v.GetString("occupancy.strategy"))
	cfg.Occupancy.IoUMethod = strings.ToLower(v.GetString("occupancy.iou_method"))

	cfg.Tracker.MaxAge = v.GetInt("tracker.max_age")
	cfg.Tracker.MinHits = v.GetInt("tracker.min_hits")
	cfg.Tracker.IoUThreshold = v.GetFloat64("tracker.iou_threshold")
	cfg.Tracker.MaxCosineDistance = v.GetFloat64("tracker.max_cosine_distance")
	cfg.Tracker.Appearance = v.GetBool("tracker.appearance")
	cfg.Tracker.HistogramBins = v.GetInt("tracker.histogram_bins")

	cfg.Session.Timeout = v.GetFloat64("session.timeout")
	cfg.Stream.FPS = v.GetFloat64("stream.fps")

	cfg.MQTT.Enabled = v.GetBool("mqtt.enabled")
	cfg.MQTT.Broker = v.GetString("mqtt.broker")
	cfg.MQTT.ClientID = v.GetString("mqtt.client_id")
	cfg.MQTT.Username = v.GetString("mqtt.username")
	cfg.MQTT.Password = v.GetString("mqtt.password")
	cfg.MQTT.TopicPrefix = v.GetString("mqtt.topic_prefix")
	cfg.MQTT.QoS = v.GetInt("mqtt.qos")

	cfg.Metrics.TextfilePath = v.GetString("metrics.textfile")

	cfg.Logging.Level = v.GetString("log.level")
	cfg.Logging.Format = strings.ToLower(v.GetString("log.format"))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate проверяет значения конфигурации
func (c *Config) Validate() error {
	var problems []string

	if c.DetectorAPI.Timeout <= 0 {
		problems = append(problems, "detector timeout must be positive")
	}
	for name, value := range map[string]float64{
		"detector conf threshold":     c.DetectorAPI.ConfThreshold,
		"detector iou threshold":      c.DetectorAPI.IoUThreshold,
		"match iou threshold":         c.Occupancy.MatchThreshold,
		"blocked iou threshold":       c.Occupancy.BlockedThreshold,
		"tracker iou threshold":       c.Tracker.IoUThreshold,
		"tracker max cosine distance": c.Tracker.MaxCosineDistance,
	} {
		if value < 0 || value > 1 {
			problems = append(problems, fmt.Sprintf("%s must be in [0, 1], got %v", name, value))
		}
	}
	if c.Occupancy.BlockedThreshold > c.Occupancy.MatchThreshold {
		problems = append(problems, "blocked iou threshold must not exceed match iou threshold")
	}
	switch c.Occupancy.Strategy {
	case "greedy", "optimal":
	default:
		problems = append(problems, fmt.Sprintf("unknown match strategy %q", c.Occupancy.Strategy))
	}
	switch c.Occupancy.IoUMethod {
	case "exact", "raster":
	default:
		problems = append(problems, fmt.Sprintf("unknown iou method %q", c.Occupancy.IoUMethod))
	}
	if c.Tracker.MaxAge < 1 {
		problems = append(problems, "tracker max age must be at least 1")
	}
	if c.Tracker.MinHits < 1 {
		problems = append(problems, "tracker min hits must be at least 1")
	}
	if c.Session.Timeout <= 0 {
		problems = append(problems, "session timeout must be positive")
	}
	if c.Stream.FPS <= 0 {
		problems = append(problems, "stream fps must be positive")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		problems = append(problems, fmt.Sprintf("mqtt qos must be 0, 1 or 2, got %d", c.MQTT.QoS))
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		problems = append(problems, "mqtt broker is required when mqtt is enabled")
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		problems = append(problems, fmt.Sprintf("unknown log format %q", c.Logging.Format))
	}

	if len(problems) > 0 {
		sort.Strings(problems)
		return fmt.Errorf("invalid configuration:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return nil
}
