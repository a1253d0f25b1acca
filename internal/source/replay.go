package source

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"parkvision-go/pkg/models"
)

const maxReplayLine = 16 << 20

// ReplaySource воспроизводит заранее записанные детекции из JSON Lines:
//
//	{"frame": 0, "timestamp": 0.0, "detections": [{"xyxy": [x1,y1,x2,y2], "conf": 0.9, "cls": 2, "name": "car"}]}
//
// Является одновременно источником кадров и детектором, поэтому позволяет
// прогонять конвейер без сервиса детекции.
type ReplaySource struct {
	scanner *bufio.Scanner
	closer  io.Closer
	logger  *logrus.Logger
	line    int
	pending map[int64][]models.Detection
}

// NewReplaySource создает источник поверх потока JSON Lines
func NewReplaySource(r io.Reader, logger *logrus.Logger) *ReplaySource {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxReplayLine)
	s := &ReplaySource{
		scanner: scanner,
		logger:  logger,
		pending: make(map[int64][]models.Detection),
	}
	if c, ok := r.(io.Closer); ok {
		s.closer = c
	}
	return s
}

// OpenReplayFile открывает файл воспроизведения
func OpenReplayFile(path string, logger *logrus.Logger) (*ReplaySource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия файла воспроизведения %s: %w", path, err)
	}
	return NewReplaySource(f, logger), nil
}

// Close закрывает исходный поток, если он закрываемый
func (s *ReplaySource) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

// Next возвращает следующий кадр или io.EOF
func (s *ReplaySource) Next(ctx context.Context) (models.Frame, error) {
	for s.scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return models.Frame{}, err
		}

		lineNo := s.line
		s.line++
		raw := s.scanner.Bytes()
		if len(bytes.TrimSpace(raw)) == 0 {
			continue
		}
		if !gjson.ValidBytes(raw) {
			return models.Frame{}, fmt.Errorf("строка %d: некорректный JSON", lineNo+1)
		}

		record := gjson.ParseBytes(raw)
		frame := models.Frame{Index: int64(lineNo)}
		if v := record.Get("frame"); v.Exists() {
			frame.Index = v.Int()
		}
		frame.Timestamp = float64(frame.Index)
		if v := record.Get("timestamp"); v.Exists() {
			frame.Timestamp = v.Float()
		}

		s.pending[frame.Index] = s.parseDetections(frame.Index, record.Get("detections"))
		return frame, nil
	}
	if err := s.scanner.Err(); err != nil {
		return models.Frame{}, fmt.Errorf("ошибка чтения файла воспроизведения: %w", err)
	}
	return models.Frame{}, io.EOF
}

// Detect возвращает записанные детекции кадра, выданного Next
func (s *ReplaySource) Detect(_ context.Context, frame models.Frame) ([]models.Detection, error) {
	dets, ok := s.pending[frame.Index]
	if !ok {
		return nil, fmt.Errorf("кадр %d отсутствует в файле воспроизведения", frame.Index)
	}
	delete(s.pending, frame.Index)
	return dets, nil
}

func (s *ReplaySource) parseDetections(frameIndex int64, value gjson.Result) []models.Detection {
	var dets []models.Detection
	value.ForEach(func(key, item gjson.Result) bool {
		wire := models.WireDetection{
			Conf: item.Get("conf").Float(),
			Cls:  int(item.Get("cls").Int()),
			Name: item.Get("name").String(),
		}
		item.Get("xyxy").ForEach(func(_, v gjson.Result) bool {
			wire.XYXY = append(wire.XYXY, v.Float())
			return true
		})

		d, err := wire.ToDetection()
		if err != nil {
			s.logger.WithFields(logrus.Fields{
				"frame":     frameIndex,
				"detection": key.Int(),
			}).Warnf("Пропускаем некорректную детекцию: %v", err)
			return true
		}
		dets = append(dets, d)
		return true
	})
	return dets
}
