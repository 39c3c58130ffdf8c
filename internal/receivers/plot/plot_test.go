package plot

import (
	"testing"
	"time"

	"sensorhub/pkg/canvas"
	"sensorhub/pkg/component"
	"sensorhub/pkg/plugin"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newPlot(t *testing.T, opts component.Options) (*Receiver, *canvas.RecorderFactory) {
	t.Helper()
	surfaces := canvas.NewRecorderFactory(plugin.DefaultSurfaceWidth, plugin.DefaultSurfaceHeight)
	c, err := New(plugin.NewContext(nil, nil, surfaces), "plot", opts)
	require.NoError(t, err)
	return c.(*Receiver), surfaces
}

func colored(ops []canvas.Op, color string) int {
	n := 0
	for _, op := range ops {
		if op.Color == color {
			n++
		}
	}
	return n
}

func TestUpdate_Scalar(t *testing.T) {
	r, surfaces := newPlot(t, component.Options{"title": "Temperatures"})
	rec := surfaces.Surface("Temperatures")
	require.NotNil(t, rec)

	s := component.NewSensor("BMP180T", "temperature", "°C", nil)
	for i, v := range []float64{21.1, 21.4, 21.2} {
		s.Set(component.Scalar(v), t0.Add(time.Duration(i)*time.Second))
		require.NoError(t, r.Update(s))
	}

	assert.Equal(t, []string{"BMP180T"}, r.Series())
	assert.Equal(t, 3, rec.Repaints())
	assert.Len(t, rec.OpsOfKind("fill-oval"), 3)

	ovals := rec.OpsOfKind("oval")
	assert.Len(t, ovals, 3)
	assert.Equal(t, 3, colored(ovals, "blue"))
	assert.Equal(t, 2, colored(rec.OpsOfKind("line"), "blue"))

	var legend bool
	for _, op := range rec.OpsOfKind("text") {
		if op.Text == "BMP180T" && op.Color == "blue" {
			legend = true
		}
	}
	assert.True(t, legend, "legend entry drawn in the series color")
	assert.Equal(t, "temperature [°C]", r.yAxis.Label)
}

func TestUpdate_VectorSeries(t *testing.T) {
	r, _ := newPlot(t, nil)

	s := component.NewSensor("ADXL345", "acceleration", "m/s²", nil)
	s.Set(component.Vector(0.1, 0.2, 9.8), t0)
	require.NoError(t, r.Update(s))

	assert.Equal(t, []string{"ADXL345[0]", "ADXL345[1]", "ADXL345[2]"}, r.Series())
}

func TestUpdate_StylesCycle(t *testing.T) {
	r, surfaces := newPlot(t, component.Options{"styles": []any{"ro", "g--"}})
	rec := surfaces.Surface("plot")

	a := component.NewSensor("A", "count", "1", nil)
	b := component.NewSensor("B", "count", "1", nil)
	for i := 0; i < 2; i++ {
		ts := t0.Add(time.Duration(i) * time.Second)
		a.Set(component.Scalar(float64(i)), ts)
		b.Set(component.Scalar(float64(2*i)), ts)
		require.NoError(t, r.Update(a))
		require.NoError(t, r.Update(b))
	}

	lines := rec.OpsOfKind("line")
	assert.Zero(t, colored(lines, "red"), "style without a line draws points only")
	assert.Equal(t, 1, colored(lines, "green"))
	for _, op := range lines {
		if op.Color == "green" {
			assert.Equal(t, canvas.LineDashed, op.LineStyle)
		}
	}
	assert.Equal(t, 2, colored(rec.OpsOfKind("oval"), "red"))
}

func TestUpdate_Window(t *testing.T) {
	r, surfaces := newPlot(t, component.Options{"window": 2})
	rec := surfaces.Surface("plot")

	s := component.NewSensor("S1", "count", "1", nil)
	for i := 0; i < 5; i++ {
		s.Set(component.Scalar(float64(i)), t0.Add(time.Duration(i)*time.Second))
		require.NoError(t, r.Update(s))
	}
	assert.Len(t, rec.OpsOfKind("fill-oval"), 2)
	assert.Equal(t, 5, rec.Repaints())
}

func TestUpdate_Ignored(t *testing.T) {
	r, surfaces := newPlot(t, nil)
	rec := surfaces.Surface("plot")

	s := component.NewSensor("S1", "count", "1", nil)
	require.NoError(t, r.Update(s), "sensor without a reading")
	assert.Zero(t, rec.Repaints())

	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
	s.Set(component.Scalar(1), t0)
	require.NoError(t, r.Update(s))
	assert.Zero(t, rec.Repaints())
	assert.Empty(t, r.Series())
}

func TestNew_Errors(t *testing.T) {
	ctx := plugin.NewContext(nil, nil, nil)

	_, err := New(ctx, "plot", component.Options{"window": 0})
	assert.Error(t, err)

	_, err = New(ctx, "plot", component.Options{"styles": 3})
	assert.Error(t, err)

	failing := canvas.FactoryFunc(func(string) (canvas.Surface, error) {
		return nil, assert.AnError
	})
	_, err = New(plugin.NewContext(nil, nil, failing), "plot", nil)
	assert.ErrorIs(t, err, assert.AnError)
}
