package uncertainty

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQuantify(t *testing.T) {
	q := NewQuantifier()

	d := q.Quantify([]float64{0.9, 0.5, 0.5})

	assert.InDelta(t, 0.035555555555555556, d.Epistemic, 1e-12)
	mean := 1.9 / 3
	assert.InDelta(t, mean*(1-mean), d.Aleatoric, 1e-12)
	assert.InDelta(t, d.Epistemic+d.Aleatoric, d.Total, 1e-12)
	assert.InDelta(t, mean, d.Mean, 1e-12)
	assert.InDelta(t, 0.18856180831641267, d.Std, 1e-12)
	assert.InDelta(t, 0.5, d.Min, 1e-12)
	assert.InDelta(t, 0.9, d.Max, 1e-12)
	assert.InDelta(t, 0.4, d.Range, 1e-12)
}

func TestQuantify_Empty(t *testing.T) {
	d := NewQuantifier().Quantify(nil)

	assert.Zero(t, d.Epistemic)
	assert.Zero(t, d.Aleatoric)
	assert.Zero(t, d.Total)
	assert.Equal(t, 0.5, d.Mean)
	assert.Equal(t, 0.5, d.Min)
	assert.Equal(t, 0.5, d.Max)
}

func TestDetectOOD(t *testing.T) {
	q := NewQuantifier()

	assert.False(t, q.DetectOOD(0.05))
	assert.True(t, q.DetectOOD(0.0501))
	assert.False(t, q.DetectOOD(0))

	agreeing := q.Quantify([]float64{0.9, 0.88, 0.91})
	assert.False(t, q.DetectOOD(agreeing.Epistemic))

	disagreeing := q.Quantify([]float64{0.95, 0.1, 0.9, 0.05})
	assert.True(t, q.DetectOOD(disagreeing.Epistemic))
}

func TestScore(t *testing.T) {
	q := NewQuantifier()
	assert.InDelta(t, 0.6*0.1+0.4*0.2, q.Score(0.1, 0.2), 1e-12)

	q.EpistemicWeight = 1
	q.AleatoricWeight = 0
	assert.InDelta(t, 0.1, q.Score(0.1, 0.2), 1e-12)
}
