package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/jpeg"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"parkvision-go/pkg/models"
)

// ErrDetectorUnavailable сервис детекции недоступен или вернул ошибку
var ErrDetectorUnavailable = errors.New("detector unavailable")

// DetectorAPIClient клиент для сервиса детекции транспортных средств (YOLO)
type DetectorAPIClient struct {
	baseURL       string
	httpClient    *http.Client
	logger        *logrus.Logger
	confThreshold float64
	iouThreshold  float64
}

// NewDetectorAPIClient создает новый клиент для сервиса детекции
func NewDetectorAPIClient(baseURL string, timeout time.Duration, confThreshold, iouThreshold float64, logger *logrus.Logger) *DetectorAPIClient {
	return &DetectorAPIClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger:        logger,
		confThreshold: confThreshold,
		iouThreshold:  iouThreshold,
	}
}

// Detect отправляет кадр на детекцию и возвращает проверенные детекции
func (c *DetectorAPIClient) Detect(ctx context.Context, frame models.Frame) ([]models.Detection, error) {
	data, err := frameBytes(frame)
	if err != nil {
		return nil, err
	}

	// Создаем multipart form-data
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	filename := frame.Name
	if filename == "" {
		filename = fmt.Sprintf("frame_%06d.jpg", frame.Index)
	}
	imageWriter, err := writer.CreateFormFile("image", filename)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания form field для изображения: %w", err)
	}
	if _, err := imageWriter.Write(data); err != nil {
		return nil, fmt.Errorf("ошибка записи данных изображения: %w", err)
	}

	if err := writer.WriteField("conf", fmt.Sprintf("%.3f", c.confThreshold)); err != nil {
		return nil, fmt.Errorf("ошибка записи conf: %w", err)
	}
	if err := writer.WriteField("iou", fmt.Sprintf("%.3f", c.iouThreshold)); err != nil {
		return nil, fmt.Errorf("ошибка записи iou: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("ошибка закрытия multipart writer: %w", err)
	}

	url := fmt.Sprintf("%s/detect", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания HTTP запроса: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	c.logger.Debugf("Отправка кадра %d на %s", frame.Index, url)
	var apiResponse models.DetectResponse
	if err := c.do(req, &apiResponse); err != nil {
		return nil, err
	}

	detections := make([]models.Detection, 0, len(apiResponse.Detections))
	for i, wd := range apiResponse.Detections {
		d, err := wd.ToDetection()
		if err != nil {
			c.logger.WithFields(logrus.Fields{
				"frame":     frame.Index,
				"detection": i,
			}).Warnf("Пропускаем некорректную детекцию: %v", err)
			continue
		}
		detections = append(detections, d)
	}

	c.logger.WithFields(logrus.Fields{
		"frame":        frame.Index,
		"detections":   len(detections),
		"inference_ms": apiResponse.InferenceMs,
	}).Debug("Получен ответ от сервиса детекции")
	return detections, nil
}

// CheckHealth проверяет состояние сервиса детекции
func (c *DetectorAPIClient) CheckHealth(ctx context.Context) (*models.HealthResponse, error) {
	c.logger.Debug("Проверка здоровья сервиса детекции")

	url := fmt.Sprintf("%s/health", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания HTTP запроса: %w", err)
	}

	var healthResponse models.HealthResponse
	if err := c.do(req, &healthResponse); err != nil {
		return nil, err
	}
	return &healthResponse, nil
}

func (c *DetectorAPIClient) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: ошибка отправки HTTP запроса: %w", ErrDetectorUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("ошибка чтения ответа: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: статус %d, тело: %s", ErrDetectorUnavailable, resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("ошибка парсинга JSON ответа: %w", err)
	}
	return nil
}

// frameBytes возвращает закодированный кадр, при необходимости кодируя его в JPEG
func frameBytes(frame models.Frame) ([]byte, error) {
	if len(frame.Data) > 0 {
		return frame.Data, nil
	}
	if frame.Image == nil {
		return nil, fmt.Errorf("кадр %d не содержит изображения", frame.Index)
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, frame.Image, &jpeg.Options{Quality: 90}); err != nil {
		return nil, fmt.Errorf("ошибка кодирования кадра %d: %w", frame.Index, err)
	}
	return buf.Bytes(), nil
}
