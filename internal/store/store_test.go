package store

import (
	"errors"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/gesture_node/internal/checksum"
	"github.com/relabs-tech/gesture_node/internal/model"
	"github.com/relabs-tech/gesture_node/internal/monitoring"
	"github.com/relabs-tech/gesture_node/internal/protocol"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	os.Exit(m.Run())
}

// testBlob returns a weights-only blob whose first hidden weight is marker.
func testBlob(t *testing.T, classes int, marker float32) []byte {
	t.Helper()
	m := model.New(classes)
	m.HiddenWeights()[0] = marker
	for i := range m.OutputBias() {
		m.OutputBias()[i] = float32(i)
	}
	b, err := m.MarshalBinary()
	require.NoError(t, err)
	return b[:model.DataSize]
}

// start opens a session declaring one class per label.
func start(s *Store, blob []byte, labels ...string) error {
	return s.Start(protocol.StartFrame(uint32(len(blob)), checksum.CRC32(blob), labels)[1:])
}

func sendAll(t *testing.T, s *Store, blob []byte) {
	t.Helper()
	for _, f := range protocol.SplitChunks(blob, protocol.MaxChunkData) {
		require.NoError(t, s.Chunk(f[1:]))
	}
}

func upload(t *testing.T, s *Store, blob []byte, labels ...string) {
	t.Helper()
	require.NoError(t, start(s, blob, labels...))
	sendAll(t, s, blob)
	_, err := s.Finish()
	require.NoError(t, err)
}

func TestUpload_Success(t *testing.T) {
	for classes := 1; classes <= model.MaxClasses; classes++ {
		s := New(nil)
		blob := testBlob(t, classes, 0.25)
		labels := make([]string, classes)
		for i := range labels {
			labels[i] = string(rune('a' + i))
		}

		require.NoError(t, start(s, blob, labels...))
		assert.Equal(t, StateReceiving, s.State())
		sendAll(t, s, blob)
		assert.Equal(t, uint32(len(blob)), s.Received())
		assert.Equal(t, uint8(100), s.Progress())

		m, err := s.Finish()
		require.NoError(t, err)
		assert.Equal(t, StateComplete, s.State())
		assert.True(t, s.HasModel())
		assert.Same(t, m, s.Active())
		assert.Equal(t, classes, s.NumClasses())
		assert.Equal(t, uint32(model.DataSize), s.ModelSize())
		assert.Equal(t, float32(0.25), s.Active().HiddenWeights()[0])
		for i := 0; i < classes; i++ {
			assert.Equal(t, labels[i], s.Label(i))
		}
		assert.Equal(t, uint32(0), s.Received(), "session is released after commit")
	}
}

func TestUpload_LabelFallbacks(t *testing.T) {
	s := New(nil)
	upload(t, s, testBlob(t, 3, 1), "wave", "", "a-very-long-gesture-name")

	assert.Equal(t, "wave", s.Label(0))
	assert.Equal(t, "Class 1", s.Label(1))
	assert.Equal(t, "a-very-long-ges", s.Label(2))
	assert.Equal(t, UnknownLabel, s.Label(3))
	assert.Equal(t, UnknownLabel, s.Label(-1))
}

func TestUpload_EmbeddedLabelsUsedWhenStartHasNone(t *testing.T) {
	m := model.New(2, "tap", "swipe")
	blob, err := m.MarshalBinary()
	require.NoError(t, err)

	s := New(nil)
	upload(t, s, blob, "", "")
	assert.Equal(t, "tap", s.Label(0))
	assert.Equal(t, "swipe", s.Label(1))
}

func TestUpload_CRCMismatchKeepsActiveModel(t *testing.T) {
	s := New(nil)
	upload(t, s, testBlob(t, 2, 1.5), "left", "right")

	next := testBlob(t, 3, 9)
	require.NoError(t, start(s, next, "x", "y", "z"))
	corrupt := append([]byte(nil), next...)
	corrupt[1000] ^= 0xFF
	sendAll(t, s, corrupt)

	_, err := s.Finish()
	assert.ErrorIs(t, err, model.ErrCRC)
	assert.Equal(t, StateError, s.State())
	assert.Equal(t, protocol.CodeErrorCRC, protocol.CodeFor(err))

	assert.True(t, s.HasModel())
	assert.Equal(t, 2, s.NumClasses())
	assert.Equal(t, float32(1.5), s.Active().HiddenWeights()[0])
	assert.Equal(t, "left", s.Label(0))
}

func TestUpload_InvalidModelRejected(t *testing.T) {
	tests := []struct {
		name  string
		blob  func(t *testing.T) []byte
		count int
	}{
		{"short blob", func(t *testing.T) []byte { return testBlob(t, 2, 0)[:1000] }, 2},
		{"bad magic", func(t *testing.T) []byte {
			b := testBlob(t, 2, 0)
			b[0] = 'X'
			return b
		}, 2},
		{"class count differs from start", func(t *testing.T) []byte { return testBlob(t, 3, 0) }, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(nil)
			blob := tt.blob(t)
			labels := make([]string, tt.count)
			require.NoError(t, start(s, blob, labels...))
			sendAll(t, s, blob)

			_, err := s.Finish()
			assert.ErrorIs(t, err, model.ErrFormat)
			assert.Equal(t, StateError, s.State())
			assert.False(t, s.HasModel())
		})
	}
}

func TestStart_Rejects(t *testing.T) {
	t.Run("short payload", func(t *testing.T) {
		s := New(nil)
		assert.ErrorIs(t, s.Start([]byte{1, 2, 3}), model.ErrFormat)
		assert.Equal(t, StateError, s.State())
	})
	t.Run("oversize", func(t *testing.T) {
		s := New(nil)
		err := s.Start(protocol.StartFrame(model.MaxModelSize+1, 0, nil)[1:])
		assert.ErrorIs(t, err, model.ErrSize)
		assert.Equal(t, protocol.CodeErrorSize, protocol.CodeFor(err))
		assert.Equal(t, StateError, s.State())
	})
	t.Run("unterminated label then retry", func(t *testing.T) {
		s := New(nil)
		payload := protocol.StartFrame(100, 0, []string{"wave"})[1:]
		payload[8] = 2
		payload = append(payload, "shak"...)
		assert.ErrorIs(t, s.Start(payload), model.ErrFormat)
		assert.Equal(t, StateError, s.State())

		blob := testBlob(t, 2, 0)
		require.NoError(t, start(s, blob, "wave", "shake"))
		assert.Equal(t, StateReceiving, s.State())
	})
}

func TestChunk_OverflowLeavesSessionUnchanged(t *testing.T) {
	s := New(nil)
	require.NoError(t, s.Start(protocol.StartFrame(10, 0, nil)[1:]))
	require.NoError(t, s.Chunk(protocol.ChunkFrame(0, []byte{1, 2, 3, 4})[1:]))

	err := s.Chunk(protocol.ChunkFrame(8, []byte{1, 2, 3, 4})[1:])
	assert.ErrorIs(t, err, model.ErrFormat)
	assert.Equal(t, StateReceiving, s.State())
	assert.Equal(t, uint32(4), s.Received())
	assert.Equal(t, uint8(40), s.Progress())
}

func TestChunk_OutsideSession(t *testing.T) {
	s := New(nil)
	assert.ErrorIs(t, s.Chunk(protocol.ChunkFrame(0, []byte{1})[1:]), model.ErrFormat)
	assert.ErrorIs(t, s.Chunk([]byte{1}), model.ErrFormat)
	_, err := s.Finish()
	assert.ErrorIs(t, err, model.ErrFormat)
	assert.Equal(t, StateIdle, s.State())
}

func TestChunk_OutOfOrder(t *testing.T) {
	s := New(nil)
	blob := testBlob(t, 2, 3)
	require.NoError(t, start(s, blob, "a", "b"))

	frames := protocol.SplitChunks(blob, protocol.MaxChunkData)
	for i := len(frames) - 1; i >= 1; i-- {
		require.NoError(t, s.Chunk(frames[i][1:]))
	}
	assert.Equal(t, uint32(0), s.Received())
	assert.Equal(t, uint8(0), s.Progress())

	require.NoError(t, s.Chunk(frames[0][1:]))
	assert.Equal(t, uint32(len(blob)), s.Received())

	_, err := s.Finish()
	require.NoError(t, err)
	assert.Equal(t, float32(3), s.Active().HiddenWeights()[0])
}

func TestChunk_ShuffledWithResends(t *testing.T) {
	const chunk = 200
	for seed := uint64(0); seed < 8; seed++ {
		rng := rand.New(rand.NewPCG(seed, 0))
		s := New(nil)
		blob := testBlob(t, 2, float32(seed))
		require.NoError(t, start(s, blob, "a", "b"))

		frames := protocol.SplitChunks(blob, chunk)
		order := rng.Perm(len(frames))
		// resend a random quarter of the frames at random points
		for range len(frames) / 4 {
			at := rng.IntN(len(order) + 1)
			order = append(order[:at], append([]int{rng.IntN(len(frames))}, order[at:]...)...)
		}

		written := make([]bool, len(blob))
		var prefix uint32
		for _, i := range order {
			require.NoError(t, s.Chunk(frames[i][1:]))
			off := i * chunk
			for j := off; j < off+len(frames[i])-protocol.ChunkHeaderSize; j++ {
				written[j] = true
			}
			for prefix < uint32(len(blob)) && written[prefix] {
				prefix++
			}
			require.Equal(t, prefix, s.Received(), "seed %d", seed)
		}
		assert.Equal(t, uint32(len(blob)), s.Received(), "seed %d", seed)
		assert.Equal(t, uint8(100), s.Progress(), "seed %d", seed)

		_, err := s.Finish()
		require.NoError(t, err, "seed %d", seed)
		assert.Equal(t, float32(seed), s.Active().HiddenWeights()[0])
	}
}

func TestChunk_CoverageClearedBetweenSessions(t *testing.T) {
	s := New(nil)
	blob := testBlob(t, 2, 1)
	require.NoError(t, start(s, blob, "a", "b"))
	frames := protocol.SplitChunks(blob, protocol.MaxChunkData)
	for _, f := range frames[1:] {
		require.NoError(t, s.Chunk(f[1:]))
	}
	s.Cancel()

	require.NoError(t, start(s, blob, "a", "b"))
	require.NoError(t, s.Chunk(frames[0][1:]))
	assert.Equal(t, uint32(protocol.MaxChunkData), s.Received())
}

func TestProgress(t *testing.T) {
	s := New(nil)
	assert.Equal(t, uint8(0), s.Progress())

	blob := testBlob(t, 1, 0)
	require.NoError(t, start(s, blob, "only"))
	frames := protocol.SplitChunks(blob, protocol.MaxChunkData)
	half := len(frames) / 2
	for _, f := range frames[:half] {
		require.NoError(t, s.Chunk(f[1:]))
	}
	want := uint8(uint64(s.Received()) * 100 / uint64(len(blob)))
	assert.Equal(t, want, s.Progress())
	assert.InDelta(t, 50, float64(s.Progress()), 1)
}

func TestCancel(t *testing.T) {
	s := New(nil)
	blob := testBlob(t, 2, 0)
	require.NoError(t, start(s, blob))
	require.NoError(t, s.Chunk(protocol.ChunkFrame(0, blob[:100])[1:]))

	s.Cancel()
	assert.Equal(t, StateIdle, s.State())
	assert.Equal(t, uint32(0), s.Received())
	assert.Equal(t, uint32(0), s.ExpectedSize())
	assert.False(t, s.HasModel())
}

func TestCancel_KeepsCommittedModel(t *testing.T) {
	s := New(nil)
	upload(t, s, testBlob(t, 2, 4.5), "up", "down")

	next := testBlob(t, 3, 7)
	require.NoError(t, start(s, next, "x", "y", "z"))
	frames := protocol.SplitChunks(next, protocol.MaxChunkData)
	for _, f := range frames[:10] {
		require.NoError(t, s.Chunk(f[1:]))
	}
	require.NotZero(t, s.Received())

	s.Cancel()
	assert.Equal(t, StateIdle, s.State())
	assert.Equal(t, uint32(0), s.Received())
	assert.True(t, s.HasModel())
	assert.Equal(t, 2, s.NumClasses())
	assert.Equal(t, float32(4.5), s.Active().HiddenWeights()[0])
	assert.Equal(t, "up", s.Label(0))
	assert.Equal(t, "down", s.Label(1))
	assert.Equal(t, UnknownLabel, s.Label(2))
}

type failingBackend struct{ MemoryBackend }

func (*failingBackend) Save(Record) error { return errors.New("flash write failed") }

func TestFinish_StorageFailure(t *testing.T) {
	s := New(&failingBackend{})
	blob := testBlob(t, 2, 0)
	require.NoError(t, start(s, blob, "a", "b"))
	sendAll(t, s, blob)

	_, err := s.Finish()
	assert.ErrorIs(t, err, model.ErrStorage)
	assert.Equal(t, protocol.CodeErrorStorage, protocol.CodeFor(err))
	assert.Equal(t, StateError, s.State())
	assert.False(t, s.HasModel())
}

func TestRestore(t *testing.T) {
	dir := t.TempDir()
	backends := map[string]func() Backend{
		"memory": func() Backend { return NewMemoryBackend() },
		"file":   func() Backend { return NewFileBackend(filepath.Join(dir, "flash", "model.bin")) },
		"sqlite": func() Backend { return NewSQLiteBackend(filepath.Join(dir, "model.db")) },
	}
	for name, mk := range backends {
		t.Run(name, func(t *testing.T) {
			b := mk()
			require.NoError(t, b.Init())
			defer b.Close()

			s := New(b)
			require.NoError(t, s.Restore(), "empty backend restores nothing")
			assert.False(t, s.HasModel())

			blob := testBlob(t, 3, 0.75)
			upload(t, s, blob, "up", "down", "")

			fresh := New(b)
			require.NoError(t, fresh.Restore())
			require.True(t, fresh.HasModel())
			assert.Equal(t, 3, fresh.NumClasses())
			assert.Equal(t, uint32(len(blob)), fresh.ModelSize())
			assert.Equal(t, float32(0.75), fresh.Active().HiddenWeights()[0])
			assert.Equal(t, []string{"up", "down", "Class 2"}, modelLabels(fresh.Active()))

			require.NoError(t, fresh.Clear())
			assert.False(t, fresh.HasModel())
			assert.Nil(t, fresh.Active())
			_, ok, err := b.Load()
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestRestore_CorruptImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.bin")
	b := NewFileBackend(path)
	require.NoError(t, b.Init())
	upload(t, New(b), testBlob(t, 2, 1), "a", "b")

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0x01
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	s := New(b)
	assert.ErrorIs(t, s.Restore(), model.ErrCRC)
	assert.False(t, s.HasModel())

	require.NoError(t, os.WriteFile(path, []byte("junk"), 0o644))
	assert.ErrorIs(t, s.Restore(), model.ErrStorage)
}

func TestMemoryBackend_CopiesData(t *testing.T) {
	b := NewMemoryBackend()
	data := []byte{1, 2, 3}
	require.NoError(t, b.Save(Record{Data: data, CRC: 7, Labels: []string{"a"}}))
	data[0] = 9

	rec, ok, err := b.Load()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte{1, 2, 3}, rec.Data)
	assert.Equal(t, uint32(7), rec.CRC)
}
