package source

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parkvision-go/pkg/models"
)

func writePNG(t *testing.T, path string) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(0, 0, color.White)
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

func TestDirSource(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "frame_002.png"))
	writePNG(t, filepath.Join(dir, "frame_000.png"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "frame_001.png"), []byte("not an image"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip"), 0o600))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.png"), 0o700))

	logger, hook := test.NewNullLogger()
	src, err := NewDirSource(dir, 2, logger)
	require.NoError(t, err)
	assert.Equal(t, 3, src.Len())

	ctx := context.Background()
	first, err := src.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "frame_000.png", first.Name)
	assert.Equal(t, 0.0, first.Timestamp)
	assert.NotNil(t, first.Image)
	assert.NotEmpty(t, first.Data)

	second, err := src.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "frame_002.png", second.Name)
	assert.Equal(t, int64(2), second.Index)
	assert.Equal(t, 1.0, second.Timestamp)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)

	_, err = src.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)
}

func TestDirSource_MissingDir(t *testing.T) {
	logger, _ := test.NewNullLogger()
	_, err := NewDirSource(filepath.Join(t.TempDir(), "missing"), 1, logger)
	assert.Error(t, err)
}

func TestDirSource_CancelledContext(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "a.png"))
	logger, _ := test.NewNullLogger()
	src, err := NewDirSource(dir, 0, logger)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = src.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDecodeFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lot.png")
	writePNG(t, path)

	frame, err := DecodeFile(path)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 4, 4), frame.Image.Bounds())

	_, err = DecodeFile(filepath.Join(t.TempDir(), "nope.png"))
	assert.Error(t, err)
}

const replayData = `{"frame": 0, "timestamp": 0.0, "detections": [{"xyxy": [100,100,150,150], "conf": 0.9, "cls": 2, "name": "car"}]}

{"frame": 1, "timestamp": 0.5, "detections": [{"xyxy": [105,100,155,150], "conf": 0.88, "cls": 2, "name": "car"}, {"xyxy": [1,1], "conf": 0.3}]}
{"frame": 2, "timestamp": 1.0, "detections": []}
`

func TestReplaySource(t *testing.T) {
	logger, hook := test.NewNullLogger()
	src := NewReplaySource(strings.NewReader(replayData), logger)
	ctx := context.Background()

	var frames []models.Frame
	var counts []int
	for {
		frame, err := src.Next(ctx)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		dets, err := src.Detect(ctx, frame)
		require.NoError(t, err)
		frames = append(frames, frame)
		counts = append(counts, len(dets))
	}

	require.Len(t, frames, 3)
	assert.Equal(t, []int{1, 1, 0}, counts)
	assert.Equal(t, int64(1), frames[1].Index)
	assert.Equal(t, 0.5, frames[1].Timestamp)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)

	_, err := src.Detect(ctx, frames[0])
	assert.Error(t, err, "detections are handed out once")
	assert.NoError(t, src.Close())
}

func TestReplaySource_DetectionFields(t *testing.T) {
	logger, _ := test.NewNullLogger()
	src := NewReplaySource(strings.NewReader(replayData), logger)

	frame, err := src.Next(context.Background())
	require.NoError(t, err)
	dets, err := src.Detect(context.Background(), frame)
	require.NoError(t, err)

	require.Len(t, dets, 1)
	assert.Equal(t, models.Detection{
		Box:        models.Box{X1: 100, Y1: 100, X2: 150, Y2: 150},
		Confidence: 0.9,
		ClassID:    2,
		ClassName:  "car",
	}, dets[0])
}

func TestReplaySource_DefaultsAndErrors(t *testing.T) {
	logger, _ := test.NewNullLogger()
	src := NewReplaySource(strings.NewReader("{\"detections\": []}\n{broken\n"), logger)

	frame, err := src.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), frame.Index)
	assert.Equal(t, 0.0, frame.Timestamp)

	_, err = src.Next(context.Background())
	assert.Error(t, err)
}

func TestOpenReplayFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "replay.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(replayData), 0o600))

	logger, _ := test.NewNullLogger()
	src, err := OpenReplayFile(path, logger)
	require.NoError(t, err)
	defer src.Close()

	_, err = src.Next(context.Background())
	require.NoError(t, err)

	_, err = OpenReplayFile(filepath.Join(t.TempDir(), "missing.jsonl"), logger)
	assert.Error(t, err)
}
