package client

import (
	"context"
	"errors"
	"image"
	"image/color"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parkvision-go/pkg/models"
)

const testBaseURL = "http://detector.local"

func newTestClient(t *testing.T) (*DetectorAPIClient, *httpmock.MockTransport, *test.Hook) {
	t.Helper()

	logger, hook := test.NewNullLogger()
	c := NewDetectorAPIClient(testBaseURL, 5*time.Second, 0.05, 0.01, logger)
	mock := httpmock.NewMockTransport()
	c.httpClient.Transport = mock
	return c, mock, hook
}

func TestDetect_Success(t *testing.T) {
	c, mock, hook := newTestClient(t)

	mock.RegisterResponder(http.MethodPost, testBaseURL+"/detect",
		func(req *http.Request) (*http.Response, error) {
			require.NoError(t, req.ParseMultipartForm(1<<20))
			assert.Equal(t, "0.050", req.FormValue("conf"))
			assert.Equal(t, "0.010", req.FormValue("iou"))

			file, header, err := req.FormFile("image")
			require.NoError(t, err)
			defer file.Close()
			data, err := io.ReadAll(file)
			require.NoError(t, err)
			assert.Equal(t, "lot_a.jpg", header.Filename)
			assert.Equal(t, []byte("jpeg-bytes"), data)

			return httpmock.NewJsonResponse(http.StatusOK, models.DetectResponse{
				Detections: []models.WireDetection{
					{XYXY: []float64{100, 100, 150, 150}, Conf: 0.9, Cls: 2, Name: "car"},
					{XYXY: []float64{10, 10, 5, 5}, Conf: 0.5, Cls: 2, Name: "car"},
					{XYXY: []float64{1, 2}, Conf: 0.5, Cls: 7, Name: "truck"},
				},
				InferenceMs: 12.5,
			})
		})

	dets, err := c.Detect(context.Background(), models.Frame{Index: 3, Name: "lot_a.jpg", Data: []byte("jpeg-bytes")})

	require.NoError(t, err)
	require.Len(t, dets, 1, "invalid detections are skipped")
	assert.Equal(t, models.Box{X1: 100, Y1: 100, X2: 150, Y2: 150}, dets[0].Box)
	assert.Equal(t, "car", dets[0].ClassName)
	assert.Equal(t, 2, dets[0].ClassID)
	assert.Equal(t, 1, mock.GetTotalCallCount())

	warnings := 0
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			warnings++
		}
	}
	assert.Equal(t, 2, warnings)
}

func TestDetect_EncodesDecodedImage(t *testing.T) {
	c, mock, _ := newTestClient(t)

	mock.RegisterResponder(http.MethodPost, testBaseURL+"/detect",
		func(req *http.Request) (*http.Response, error) {
			require.NoError(t, req.ParseMultipartForm(1<<20))
			_, header, err := req.FormFile("image")
			require.NoError(t, err)
			assert.Equal(t, "frame_000007.jpg", header.Filename)
			return httpmock.NewJsonResponse(http.StatusOK, models.DetectResponse{})
		})

	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	img.Set(1, 1, color.White)

	dets, err := c.Detect(context.Background(), models.Frame{Index: 7, Image: img})
	require.NoError(t, err)
	assert.Empty(t, dets)
}

func TestDetect_NoImage(t *testing.T) {
	c, mock, _ := newTestClient(t)

	_, err := c.Detect(context.Background(), models.Frame{Index: 1})
	require.Error(t, err)
	assert.Zero(t, mock.GetTotalCallCount())
}

func TestDetect_HTTPError(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
	}{
		{"bad_request", http.StatusBadRequest},
		{"internal_server_error", http.StatusInternalServerError},
		{"service_unavailable", http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, mock, _ := newTestClient(t)
			mock.RegisterResponder(http.MethodPost, testBaseURL+"/detect",
				httpmock.NewStringResponder(tt.statusCode, `{"detail":"model not loaded"}`))

			dets, err := c.Detect(context.Background(), models.Frame{Data: []byte("x")})

			require.Error(t, err)
			assert.Nil(t, dets)
			assert.ErrorIs(t, err, ErrDetectorUnavailable)
			assert.Contains(t, err.Error(), "model not loaded")
		})
	}
}

func TestDetect_TransportError(t *testing.T) {
	c, mock, _ := newTestClient(t)
	connErr := errors.New("connection refused")
	mock.RegisterResponder(http.MethodPost, testBaseURL+"/detect", httpmock.NewErrorResponder(connErr))

	_, err := c.Detect(context.Background(), models.Frame{Data: []byte("x")})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDetectorUnavailable)
	assert.ErrorIs(t, err, connErr)
}

func TestDetect_MalformedJSON(t *testing.T) {
	c, mock, _ := newTestClient(t)
	mock.RegisterResponder(http.MethodPost, testBaseURL+"/detect",
		httpmock.NewStringResponder(http.StatusOK, `{"detections": [`))

	_, err := c.Detect(context.Background(), models.Frame{Data: []byte("x")})

	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrDetectorUnavailable)
}

func TestCheckHealth(t *testing.T) {
	c, mock, _ := newTestClient(t)
	mock.RegisterResponder(http.MethodGet, testBaseURL+"/health",
		httpmock.NewJsonResponderOrPanic(http.StatusOK, models.HealthResponse{Status: "ok", Model: "yolov8n.pt"}))

	health, err := c.CheckHealth(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "yolov8n.pt", health.Model)
}
