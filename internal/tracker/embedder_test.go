package tracker

import (
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parkvision-go/pkg/models"
)

func TestHistogramEmbedder(t *testing.T) {
	e := NewHistogramEmbedder(8)
	red := solidFrame(color.RGBA{R: 255, A: 255})
	blue := solidFrame(color.RGBA{B: 255, A: 255})

	a, err := e.Embed(red, models.Box{X1: 0, Y1: 0, X2: 20, Y2: 20})
	require.NoError(t, err)
	b, err := e.Embed(red, models.Box{X1: 40, Y1: 40, X2: 90, Y2: 60})
	require.NoError(t, err)
	c, err := e.Embed(blue, models.Box{X1: 0, Y1: 0, X2: 20, Y2: 20})
	require.NoError(t, err)

	require.Len(t, a, 24)
	assert.InDelta(t, 0, CosineDistance(a, b), 1e-9)
	assert.InDelta(t, 2.0/3.0, CosineDistance(a, c), 1e-9)
}

func TestHistogramEmbedder_OutsideFrame(t *testing.T) {
	e := NewHistogramEmbedder(0)
	desc, err := e.Embed(solidFrame(color.White), models.Box{X1: 500, Y1: 500, X2: 600, Y2: 600})
	require.NoError(t, err)
	assert.Nil(t, desc)
}

func TestCosineDistance_Incomparable(t *testing.T) {
	assert.Zero(t, CosineDistance(nil, []float64{1}))
	assert.Zero(t, CosineDistance([]float64{1, 0}, []float64{1}))
	assert.Zero(t, CosineDistance([]float64{0, 0}, []float64{1, 0}))
	assert.InDelta(t, 1.0, CosineDistance([]float64{1, 0}, []float64{0, 1}), 1e-12)
}
