package window

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/gesture_node/internal/imu"
)

// sampleN returns a sample whose ax encodes n so positions can be traced.
func sampleN(n int) imu.Sample {
	return imu.Sample{Ax: int16(n), Ay: 8192, Az: -8192, Gx: 1640, Gy: -1640, Gz: 0}
}

func fill(t *testing.T, b *Buffer, from, to int) {
	t.Helper()
	for i := from; i < to; i++ {
		b.Append(sampleN(i))
	}
}

func TestNew_RejectsBadStride(t *testing.T) {
	for _, stride := range []int{0, -1, Size + 1} {
		_, err := New(stride)
		assert.Error(t, err, "stride %d", stride)
	}
	b, err := New(Stride25)
	require.NoError(t, err)
	assert.Equal(t, Stride25, b.Stride())
	assert.Equal(t, 0, b.Count())
	assert.False(t, b.IsReady())
}

func TestAppend_Normalizes(t *testing.T) {
	b, err := New(Stride25)
	require.NoError(t, err)

	b.Append(imu.Sample{Ax: 8192, Ay: -4096, Az: 0, Gx: 1640, Gy: -1640, Gz: 164})
	flat := b.Flatten(nil)

	assert.InDelta(t, 1.0, flat[0], 1e-6)
	assert.InDelta(t, -0.5, flat[1], 1e-6)
	assert.InDelta(t, 0.0, flat[2], 1e-6)
	assert.InDelta(t, 1.0, flat[3], 1e-5) // 1640 / 16.4 / 100
	assert.InDelta(t, -1.0, flat[4], 1e-5)
	assert.InDelta(t, 0.1, flat[5], 1e-5)
}

func TestAppend_NoOpWhenFull(t *testing.T) {
	b, err := New(Stride25)
	require.NoError(t, err)
	fill(t, b, 0, Size)
	require.True(t, b.IsReady())

	before := b.Flatten(nil)
	b.Append(sampleN(9999))
	assert.Equal(t, Size, b.Count())
	assert.Equal(t, before, b.Flatten(nil))
}

func TestFlatten_SampleMajorOrder(t *testing.T) {
	b, err := New(Stride25)
	require.NoError(t, err)
	fill(t, b, 0, Size)

	flat := b.Flatten(nil)
	require.Len(t, flat, InputSize)
	for i := 0; i < Size; i++ {
		assert.InDelta(t, float32(i)/imu.AccelScale, flat[i*Channels], 1e-7, "sample %d ax", i)
		assert.InDelta(t, 1.0, flat[i*Channels+1], 1e-7, "sample %d ay", i)
		assert.InDelta(t, -1.0, flat[i*Channels+2], 1e-7, "sample %d az", i)
	}
}

func TestFlatten_ReusesDestination(t *testing.T) {
	b, err := New(Stride25)
	require.NoError(t, err)
	fill(t, b, 0, 3)

	dst := make([]float32, InputSize)
	out := b.Flatten(dst)
	assert.Equal(t, &dst[0], &out[0])
	assert.Equal(t, float32(0), out[3*Channels], "unfilled slots are zero")
}

func TestSlide_KeepsNewestSamples(t *testing.T) {
	b, err := New(Stride25)
	require.NoError(t, err)
	fill(t, b, 0, Size)

	b.Slide()
	require.Equal(t, Size-Stride25, b.Count())
	assert.False(t, b.IsReady())

	flat := b.Flatten(nil)
	for i := 0; i < Size-Stride25; i++ {
		assert.InDelta(t, float32(i+Stride25)/imu.AccelScale, flat[i*Channels], 1e-7, "slot %d", i)
	}

	// continues filling at index 75
	fill(t, b, Size, Size+Stride25)
	require.True(t, b.IsReady())
	flat = b.Flatten(nil)
	assert.InDelta(t, float32(Size)/imu.AccelScale, flat[(Size-Stride25)*Channels], 1e-7)
	assert.InDelta(t, float32(Size+Stride25-1)/imu.AccelScale, flat[(Size-1)*Channels], 1e-7)
}

func TestSlide_Stride50(t *testing.T) {
	b, err := New(Stride50)
	require.NoError(t, err)
	fill(t, b, 0, Size)
	b.Slide()
	assert.Equal(t, 50, b.Count())
	assert.InDelta(t, float32(50)/imu.AccelScale, b.Flatten(nil)[0], 1e-7)
}

func TestSlide_FullStrideEmpties(t *testing.T) {
	b, err := New(Size)
	require.NoError(t, err)
	fill(t, b, 0, Size)
	b.Slide()
	assert.Equal(t, 0, b.Count())
}

func TestReset(t *testing.T) {
	b, err := New(Stride25)
	require.NoError(t, err)
	fill(t, b, 1, 40)
	b.Reset()
	assert.Equal(t, 0, b.Count())
	for _, v := range b.Flatten(nil) {
		require.Equal(t, float32(0), v)
	}
}
