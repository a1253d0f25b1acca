// Package source предоставляет источники кадров для потоковой обработки.
package source

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"parkvision-go/pkg/models"
)

// DefaultFPS частота кадров для вычисления меток времени по умолчанию
const DefaultFPS = 1.0

var imageExtensions = map[string]struct{}{
	".jpg":  {},
	".jpeg": {},
	".png":  {},
}

// DirSource отдает изображения каталога в лексикографическом порядке.
// Метка времени кадра равна index / fps.
type DirSource struct {
	files  []string
	fps    float64
	pos    int
	logger *logrus.Logger
}

// NewDirSource создает источник по каталогу изображений
func NewDirSource(dir string, fps float64, logger *logrus.Logger) (*DirSource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения каталога %s: %w", dir, err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, ok := imageExtensions[strings.ToLower(filepath.Ext(e.Name()))]; ok {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)

	if fps <= 0 {
		fps = DefaultFPS
	}
	logger.Infof("Найдено %d кадров в %s", len(files), dir)

	return &DirSource{
		files:  files,
		fps:    fps,
		logger: logger,
	}, nil
}

// Len возвращает количество кадров
func (s *DirSource) Len() int {
	return len(s.files)
}

// Next возвращает следующий кадр или io.EOF. Нечитаемые изображения пропускаются.
func (s *DirSource) Next(ctx context.Context) (models.Frame, error) {
	for s.pos < len(s.files) {
		if err := ctx.Err(); err != nil {
			return models.Frame{}, err
		}

		index := s.pos
		path := s.files[index]
		s.pos++

		data, err := os.ReadFile(path)
		if err != nil {
			return models.Frame{}, fmt.Errorf("ошибка чтения кадра %s: %w", path, err)
		}

		img, _, err := image.Decode(bytes.NewReader(data))
		if err != nil {
			s.logger.WithField("file", path).Warnf("Пропускаем кадр, который не удалось декодировать: %v", err)
			continue
		}

		return models.Frame{
			Index:     int64(index),
			Timestamp: float64(index) / s.fps,
			Name:      filepath.Base(path),
			Image:     img,
			Data:      data,
		}, nil
	}
	return models.Frame{}, io.EOF
}

// DecodeFile читает и декодирует одно изображение
func DecodeFile(path string) (models.Frame, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.Frame{}, fmt.Errorf("ошибка чтения изображения %s: %w", path, err)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return models.Frame{}, fmt.Errorf("ошибка декодирования изображения %s: %w", path, err)
	}
	return models.Frame{Name: filepath.Base(path), Image: img, Data: data}, nil
}
