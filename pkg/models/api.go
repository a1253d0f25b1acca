package models

import (
	"fmt"
	"image"
)

// Frame кадр потока. Image заполняется, если кадр декодирован; Data хранит
// исходные закодированные байты для отправки во внешний детектор.
type Frame struct {
	Index     int64       `json:"frame"`
	Timestamp float64     `json:"timestamp"`
	Name      string      `json:"name,omitempty"`
	Image     image.Image `json:"-"`
	Data      []byte      `json:"-"`
}

// WireDetection детекция в формате сервиса детекции
type WireDetection struct {
	XYXY []float64 `json:"xyxy"`
	Conf float64   `json:"conf"`
	Cls  int       `json:"cls"`
	Name string    `json:"name"`
}

// ToDetection преобразует и проверяет детекцию
func (w WireDetection) ToDetection() (Detection, error) {
	if len(w.XYXY) != 4 {
		return Detection{}, fmt.Errorf("%w: xyxy должен содержать 4 числа, получено %d", ErrInvalidDetection, len(w.XYXY))
	}
	d := Detection{
		Box:        Box{X1: w.XYXY[0], Y1: w.XYXY[1], X2: w.XYXY[2], Y2: w.XYXY[3]},
		Confidence: w.Conf,
		ClassID:    w.Cls,
		ClassName:  w.Name,
	}
	if err := d.Validate(); err != nil {
		return Detection{}, err
	}
	return d, nil
}

// DetectResponse ответ POST /detect
type DetectResponse struct {
	Detections  []WireDetection `json:"detections"`
	InferenceMs float64         `json:"inference_ms,omitempty"`
}

// HealthResponse ответ GET /health
type HealthResponse struct {
	Status string `json:"status"`
	Model  string `json:"model,omitempty"`
}
