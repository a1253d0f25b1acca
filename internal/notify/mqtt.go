// Package notify публикует статусы мест и завершенные сессии в MQTT.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/sjson"

	"parkvision-go/internal/metrics"
	"parkvision-go/internal/occupancy"
	"parkvision-go/pkg/models"
)

var (
	// ErrNotConnected публикация без соединения с брокером
	ErrNotConnected = errors.New("not connected to MQTT broker")
	// ErrTimeout брокер не подтвердил операцию вовремя
	ErrTimeout = errors.New("mqtt operation timeout")
)

// Config параметры подключения к брокеру
type Config struct {
	Broker         string
	ClientID       string
	Username       string
	Password       string
	TopicPrefix    string
	QoS            byte
	ConnectTimeout time.Duration
	PublishTimeout time.Duration
}

// brokerClient часть mqtt.Client, которая нужна публикатору
type brokerClient interface {
	Connect() mqtt.Token
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// Publisher публикует изменения статусов мест, сводку занятости и
// завершенные сессии. Статус места отправляется только при его изменении.
type Publisher struct {
	client     brokerClient
	config     Config
	logger     *logrus.Logger
	metrics    *metrics.Metrics
	lastStatus map[string]models.LotState
}

// NewPublisher создает публикатор поверх paho MQTT клиента
func NewPublisher(config Config, logger *logrus.Logger, m *metrics.Metrics) *Publisher {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(config.Broker)
	opts.SetClientID(config.ClientID)
	opts.SetUsername(config.Username)
	opts.SetPassword(config.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		logger.Infof("Подключились к MQTT брокеру %s", config.Broker)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warnf("Потеряно соединение с MQTT брокером %s: %v", config.Broker, err)
	})

	return newPublisher(mqtt.NewClient(opts), config, logger, m)
}

func newPublisher(client brokerClient, config Config, logger *logrus.Logger, m *metrics.Metrics) *Publisher {
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = 30 * time.Second
	}
	if config.PublishTimeout <= 0 {
		config.PublishTimeout = 10 * time.Second
	}
	if config.TopicPrefix == "" {
		config.TopicPrefix = "parkvision"
	}
	return &Publisher{
		client:     client,
		config:     config,
		logger:     logger,
		metrics:    m,
		lastStatus: make(map[string]models.LotState),
	}
}

// Connect подключается к брокеру
func (p *Publisher) Connect(ctx context.Context) error {
	if err := p.wait(ctx, p.client.Connect(), p.config.ConnectTimeout); err != nil {
		return fmt.Errorf("ошибка подключения к MQTT брокеру %s: %w", p.config.Broker, err)
	}
	return nil
}

// Close отключается от брокера
func (p *Publisher) Close() {
	if p.client.IsConnected() {
		p.client.Disconnect(250)
	}
}

// PublishStatuses отправляет статусы мест, изменившиеся с прошлой публикации.
// Возвращает количество отправленных сообщений.
func (p *Publisher) PublishStatuses(ctx context.Context, timestamp float64, statuses []models.LotStatus) (int, error) {
	sent := 0
	for _, s := range statuses {
		spotID := occupancy.SpotID(s.Lot)
		if prev, ok := p.lastStatus[spotID]; ok && prev == s.State {
			continue
		}

		payload, err := buildPayload(map[string]any{
			"spot_id":   spotID,
			"status":    string(s.State),
			"iou":       s.IoU,
			"timestamp": timestamp,
		})
		if err != nil {
			return sent, err
		}

		if err := p.publish(ctx, p.topic("spots", spotID), true, payload); err != nil {
			return sent, err
		}
		p.lastStatus[spotID] = s.State
		sent++
	}
	return sent, nil
}

// PublishSummary отправляет сводку занятости
func (p *Publisher) PublishSummary(ctx context.Context, timestamp float64, summary models.OccupancySummary) error {
	payload, err := buildPayload(map[string]any{
		"total_spaces":    summary.TotalSpaces,
		"occupied_spaces": summary.OccupiedSpaces,
		"occupancy_rate":  summary.OccupancyRate,
		"timestamp":       timestamp,
	})
	if err != nil {
		return err
	}
	return p.publish(ctx, p.topic("summary"), true, payload)
}

// PublishSessions отправляет завершенные сессии
func (p *Publisher) PublishSessions(ctx context.Context, completed []models.CompletedSession) error {
	for _, s := range completed {
		payload, err := buildPayload(map[string]any{
			"event_id":   s.EventID,
			"track_id":   s.TrackID,
			"start_time": s.StartTime,
			"end_time":   s.EndTime,
			"duration":   s.Duration,
			"bbox":       []float64{s.Box.X1, s.Box.Y1, s.Box.X2, s.Box.Y2},
			"cls":        s.ClassID,
			"name":       s.ClassName,
		})
		if err != nil {
			return err
		}
		if err := p.publish(ctx, p.topic("sessions"), false, payload); err != nil {
			return err
		}
	}
	return nil
}

func (p *Publisher) topic(parts ...string) string {
	topic := p.config.TopicPrefix
	for _, part := range parts {
		topic += "/" + part
	}
	return topic
}

func (p *Publisher) publish(ctx context.Context, topic string, retained bool, payload []byte) error {
	if !p.client.IsConnected() {
		p.metrics.ObservePublish(ErrNotConnected)
		return fmt.Errorf("ошибка публикации в %s: %w", topic, ErrNotConnected)
	}

	p.logger.Debugf("Публикация в %s", topic)
	err := p.wait(ctx, p.client.Publish(topic, p.config.QoS, retained, payload), p.config.PublishTimeout)
	p.metrics.ObservePublish(err)
	if err != nil {
		return fmt.Errorf("ошибка публикации в %s: %w", topic, err)
	}
	return nil
}

func (p *Publisher) wait(ctx context.Context, token mqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrTimeout
	}
}

// buildPayload собирает JSON-объект из полей в порядке ключей
func buildPayload(fields map[string]any) ([]byte, error) {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	payload := []byte(`{}`)
	for _, k := range keys {
		var err error
		payload, err = sjson.SetBytes(payload, k, fields[k])
		if err != nil {
			return nil, fmt.Errorf("ошибка формирования поля %s: %w", k, err)
		}
	}
	return payload, nil
}
