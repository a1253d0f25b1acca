package service

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"parkvision-go/internal/geo"
	"parkvision-go/internal/metrics"
	"parkvision-go/internal/occupancy"
	"parkvision-go/internal/source"
	"parkvision-go/pkg/models"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var errModelDown = errors.New("model down")

type scriptedDetector struct {
	dets  map[int64][]models.Detection
	errAt int64
}

func (d *scriptedDetector) Detect(_ context.Context, frame models.Frame) ([]models.Detection, error) {
	if d.errAt > 0 && frame.Index == d.errAt {
		return nil, errModelDown
	}
	return d.dets[frame.Index], nil
}

type sliceSource struct {
	frames []models.Frame
	pos    int
}

func (s *sliceSource) Next(ctx context.Context) (models.Frame, error) {
	if err := ctx.Err(); err != nil {
		return models.Frame{}, err
	}
	if s.pos >= len(s.frames) {
		return models.Frame{}, io.EOF
	}
	f := s.frames[s.pos]
	s.pos++
	return f, nil
}

func framesAt(timestamps ...float64) *sliceSource {
	src := &sliceSource{}
	for i, ts := range timestamps {
		src.frames = append(src.frames, models.Frame{Index: int64(i), Timestamp: ts})
	}
	return src
}

func car(x1, y1, x2, y2, conf float64) models.Detection {
	return models.Detection{Box: models.Box{X1: x1, Y1: y1, X2: x2, Y2: y2}, Confidence: conf, ClassID: 2, ClassName: "car"}
}

func squareLot(index int, x1, y1, x2, y2 float64) models.Lot {
	return models.Lot{
		Index:  index,
		Points: []models.Point{{X: x1, Y: y1}, {X: x2, Y: y1}, {X: x2, Y: y2}, {X: x1, Y: y2}},
	}
}

func newTestPipeline(t *testing.T, detector Detector) (*Pipeline, *metrics.Metrics) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	m, err := metrics.New(prometheus.NewRegistry())
	require.NoError(t, err)
	return NewPipeline(DefaultConfig(), detector, nil, nil, m, logger), m
}

func TestDetectOccupancy_ExactLot(t *testing.T) {
	detector := &scriptedDetector{dets: map[int64][]models.Detection{
		0: {car(0, 0, 10, 10, 0.9), car(40, 40, 50, 50, 0.01)},
	}}
	p, _ := newTestPipeline(t, detector)
	lots := []models.Lot{squareLot(0, 0, 0, 10, 10), squareLot(1, 20, 0, 30, 10)}

	occupied, unoccupied, dets, err := p.DetectOccupancy(context.Background(), models.Frame{}, lots)

	require.NoError(t, err)
	require.Len(t, dets, 1, "low confidence detection is dropped")
	require.Len(t, occupied, 1)
	assert.Equal(t, 0, occupied[0].Lot.Index)
	assert.InDelta(t, 1.0, occupied[0].Confidence, 1e-9)
	require.Len(t, unoccupied, 1)
	assert.Equal(t, 1, unoccupied[0].Index)
}

func TestDetectOccupancy_DropsInvalidDetections(t *testing.T) {
	detector := &scriptedDetector{dets: map[int64][]models.Detection{
		0: {car(10, 10, 0, 0, 0.9), car(0, 0, 10, 10, 1.5)},
	}}
	p, _ := newTestPipeline(t, detector)

	occupied, unoccupied, dets, err := p.DetectOccupancy(context.Background(), models.Frame{}, []models.Lot{squareLot(0, 0, 0, 10, 10)})

	require.NoError(t, err)
	assert.Empty(t, dets)
	assert.Empty(t, occupied)
	assert.Len(t, unoccupied, 1)
}

func TestDetectOccupancy_DetectorError(t *testing.T) {
	p, m := newTestPipeline(t, &scriptedDetector{errAt: 3})

	_, _, _, err := p.DetectOccupancy(context.Background(), models.Frame{Index: 3}, nil)

	assert.ErrorIs(t, err, errModelDown)
	assert.InDelta(t, 1, testutil.ToFloat64(m.DetectorErrors), 1e-9)
}

func TestInspect(t *testing.T) {
	detector := &scriptedDetector{dets: map[int64][]models.Detection{
		0: {car(0, 0, 10, 10, 0.9), car(17, 0, 27, 10, 0.8)},
	}}
	p, m := newTestPipeline(t, detector)
	lots := []models.Lot{squareLot(0, 0, 0, 10, 10), squareLot(1, 10, 0, 20, 10), squareLot(2, 40, 0, 50, 10)}

	resp, err := p.Inspect(context.Background(), models.Frame{Name: "lot.jpg"}, lots)

	require.NoError(t, err)
	assert.Equal(t, models.OccupancySummary{TotalSpaces: 3, OccupiedSpaces: 1, OccupancyRate: 0.333}, resp.Summary)
	require.Len(t, resp.Statuses, 3)
	assert.Equal(t, models.LotBlocked, resp.Statuses[1].State)
	assert.Len(t, resp.Updates, 3)
	assert.InDelta(t, 1, testutil.ToFloat64(m.LotsOccupied), 1e-9)
}

func TestProcessStream_SessionCompletesAfterTimeout(t *testing.T) {
	parked := car(0, 0, 10, 10, 0.9)
	detector := &scriptedDetector{dets: map[int64][]models.Detection{0: {parked}, 1: {parked}, 2: {parked}}}
	p, m := newTestPipeline(t, detector)
	lots := []models.Lot{squareLot(0, 0, 0, 10, 10)}

	var results []FrameResult
	drained, err := p.ProcessStream(context.Background(), framesAt(0, 1, 2, 3, 5, 7, 8, 9), lots, func(r FrameResult) {
		results = append(results, r)
	})

	require.NoError(t, err)
	assert.Empty(t, drained)
	require.Len(t, results, 8)

	trackID := results[0].Tracks[0].ID
	for _, r := range results[:3] {
		require.Len(t, r.Tracks, 1)
		assert.Equal(t, trackID, r.Tracks[0].ID)
		require.Len(t, r.Occupied, 1)
		assert.Equal(t, trackID, r.Occupied[0].TrackID)
	}
	assert.Empty(t, results[3].Occupied)
	assert.Len(t, results[3].Unoccupied, 1)

	// последний раз трек виден в t=2, таймаут 5 истекает строго после t=7
	for _, r := range results[:6] {
		assert.Empty(t, r.Completed, "frame at t=%.0f", r.Frame.Timestamp)
	}
	require.Len(t, results[6].Completed, 1)
	completed := results[6].Completed[0]
	assert.Equal(t, trackID, completed.TrackID)
	assert.Equal(t, 0.0, completed.StartTime)
	assert.Equal(t, 2.0, completed.EndTime)
	assert.Equal(t, 2.0, completed.Duration)

	assert.InDelta(t, 8, testutil.ToFloat64(m.FramesProcessed), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(m.SessionsCompleted), 1e-9)
}

func TestProcessStream_DrainsAtEndOfStream(t *testing.T) {
	parked := car(0, 0, 10, 10, 0.9)
	detector := &scriptedDetector{dets: map[int64][]models.Detection{0: {parked}, 1: {parked}, 2: {parked}}}
	p, _ := newTestPipeline(t, detector)

	drained, err := p.ProcessStream(context.Background(), framesAt(10, 10.5, 11), nil, nil)

	require.NoError(t, err)
	require.Len(t, drained, 1)
	assert.Equal(t, 10.0, drained[0].StartTime)
	assert.Equal(t, 1.0, drained[0].Duration)
	assert.Empty(t, p.LiveSessions())
}

func TestProcessStream_DetectorErrorAborts(t *testing.T) {
	parked := car(0, 0, 10, 10, 0.9)
	detector := &scriptedDetector{dets: map[int64][]models.Detection{0: {parked}, 1: {parked}}, errAt: 2}
	p, _ := newTestPipeline(t, detector)

	frames := 0
	drained, err := p.ProcessStream(context.Background(), framesAt(0, 1, 2, 3), nil, func(FrameResult) { frames++ })

	require.Error(t, err)
	assert.ErrorIs(t, err, errModelDown)
	assert.Equal(t, 2, frames)
	require.Len(t, drained, 1, "sessions are drained on abort")
}

func TestProcessStream_ContextCancelled(t *testing.T) {
	p, _ := newTestPipeline(t, &scriptedDetector{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.ProcessStream(ctx, framesAt(0, 1), nil, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestProcessStream_Replay(t *testing.T) {
	replay := `{"frame": 0, "timestamp": 0.0, "detections": [{"xyxy": [100,100,150,150], "conf": 0.9, "cls": 2, "name": "car"}]}
{"frame": 1, "timestamp": 1.0, "detections": [{"xyxy": [105,100,155,150], "conf": 0.88, "cls": 2, "name": "car"}]}
`
	logger, _ := test.NewNullLogger()
	src := source.NewReplaySource(strings.NewReader(replay), logger)
	p := NewPipeline(DefaultConfig(), src, nil, nil, nil, logger)

	var ids []int64
	drained, err := p.ProcessStream(context.Background(), src, []models.Lot{squareLot(0, 100, 100, 150, 150)}, func(r FrameResult) {
		require.Len(t, r.Tracks, 1)
		ids = append(ids, r.Tracks[0].ID)
	})

	require.NoError(t, err)
	require.Len(t, ids, 2)
	assert.Equal(t, ids[0], ids[1])
	require.Len(t, drained, 1)
	assert.Equal(t, 1.0, drained[0].Duration)
}

func TestSessionUpdate_GapLongerThanTimeout(t *testing.T) {
	p, _ := newTestPipeline(t, &scriptedDetector{})
	tr := models.Track{ID: 7, Box: models.Box{X2: 10, Y2: 10}, ClassName: "car"}

	assert.Empty(t, p.SessionUpdate([]models.Track{tr}, 100))
	assert.Empty(t, p.SessionUpdate([]models.Track{tr}, 104))

	completed := p.SessionUpdate(nil, 104+6.0)

	require.Len(t, completed, 1)
	assert.Equal(t, 4.0, completed[0].Duration)
	assert.Empty(t, p.LiveSessions())
}

func TestProcessStream_LogsMatcherSettings(t *testing.T) {
	logger, hook := test.NewNullLogger()
	p := NewPipeline(DefaultConfig(), &scriptedDetector{}, nil, nil, nil, logger)

	_, err := p.ProcessStream(context.Background(), framesAt(0), nil, nil)
	require.NoError(t, err)

	require.NotEmpty(t, hook.Entries)
	start := hook.Entries[0]
	assert.Equal(t, occupancy.StrategyGreedy, start.Data["strategy"])
	assert.Equal(t, geo.MethodExact, start.Data["iou_method"])
	assert.Equal(t, 5.0, start.Data["session_timeout"])
}

func TestNewPipeline_NilLogger(t *testing.T) {
	parked := car(0, 0, 10, 10, 0.9)
	p := NewPipeline(DefaultConfig(), &scriptedDetector{dets: map[int64][]models.Detection{0: {parked}}}, nil, nil, nil, nil)
	p.logger.SetOutput(io.Discard)

	var drained []models.CompletedSession
	var err error
	require.NotPanics(t, func() {
		drained, err = p.ProcessStream(context.Background(), framesAt(0, 1), nil, nil)
	})
	require.NoError(t, err)
	assert.Len(t, drained, 1)
}
