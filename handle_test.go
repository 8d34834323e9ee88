package offheap

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/offheap/resource"
)

// name is a fixed-capacity string that can live off-heap.
type name struct {
	Buf [32]byte
	Len uint8
}

func newName(s string) name {
	var n name
	n.Len = uint8(copy(n.Buf[:], s)) //nolint:gosec // at most 32
	return n
}

func (n name) String() string { return string(n.Buf[:n.Len]) }

var (
	dropMu     sync.Mutex
	dropCounts = map[int64]int{}
	nextID     atomic.Int64
)

// counted records every Drop of a value by id.
type counted struct {
	ID    int64
	Value int64
}

func newCounted(v int64) counted {
	return counted{ID: nextID.Add(1), Value: v}
}

func (c *counted) Drop() {
	dropMu.Lock()
	defer dropMu.Unlock()
	dropCounts[c.ID]++
}

func drops(id int64) int {
	dropMu.Lock()
	defer dropMu.Unlock()
	return dropCounts[id]
}

// cloned counts deep clones.
type cloned struct {
	Value  int64
	Clones int32
}

func (c *cloned) Clone() cloned {
	return cloned{Value: c.Value, Clones: c.Clones + 1}
}

func recovered(fn func()) (v any) {
	defer func() { v = recover() }()
	fn()
	return nil
}

func TestHandle_RoundTrip(t *testing.T) {
	t.Run("fixed string", func(t *testing.T) {
		h := New(newName("foobar"))
		defer func() { require.NoError(t, h.Release()) }()

		assert.Equal(t, "foobar", h.Get().String())
		assert.Equal(t, newName("foobar"), h.Load())
	})

	t.Run("integer", func(t *testing.T) {
		h := New(int64(42))
		defer func() { require.NoError(t, h.Release()) }()

		assert.Equal(t, int64(42), *h.Get())
		assert.Equal(t, SizeOf[int64](), h.Size())
	})

	t.Run("mutation through Get", func(t *testing.T) {
		h := New([4]uint32{1, 2, 3, 4})
		defer func() { require.NoError(t, h.Release()) }()

		h.Get()[2] = 30
		assert.Equal(t, [4]uint32{1, 2, 30, 4}, h.Load())
	})

	t.Run("zero size", func(t *testing.T) {
		h := New(struct{}{})
		assert.Equal(t, 0, h.Size())
		require.NoError(t, h.Release())
	})
}

func TestHandle_Release(t *testing.T) {
	t.Run("drops exactly once", func(t *testing.T) {
		v := newCounted(7)
		h := New(v)

		require.NoError(t, h.Release())
		assert.Equal(t, 1, drops(v.ID))
		assert.True(t, h.Released())

		assert.ErrorIs(t, h.Release(), ErrReleased)
		assert.Equal(t, 1, drops(v.ID))
	})

	t.Run("get after release panics", func(t *testing.T) {
		h := New(int32(1))
		require.NoError(t, h.Release())

		assert.PanicsWithValue(t, ErrReleased, func() { h.Get() })
	})

	t.Run("alias double free", func(t *testing.T) {
		hp := NewHeap()
		defer hp.Close()

		v := newCounted(1)
		h := New(v, WithHeap(hp))
		alias := FromRaw[counted](h.Raw(), WithHeap(hp))

		require.NoError(t, h.Release())
		err := alias.Release()
		require.ErrorIs(t, err, ErrDoubleFree)
		assert.Equal(t, 1, drops(v.ID))
	})

	t.Run("alias after reuse", func(t *testing.T) {
		hp := NewHeap()
		defer hp.Close()

		first := newCounted(1)
		h1 := New(first, WithHeap(hp))
		alias := FromRaw[counted](h1.Raw(), WithHeap(hp))
		require.NoError(t, h1.Release())

		second := newCounted(2)
		h2 := New(second, WithHeap(hp))
		require.Equal(t, h1.Raw(), h2.Raw(), "freed block is reused")

		require.ErrorIs(t, alias.Release(), ErrDoubleFree)
		assert.Equal(t, 1, drops(first.ID))
		assert.Equal(t, 0, drops(second.ID))
		assert.Equal(t, int64(2), h2.Get().Value)
		assert.Equal(t, uint64(1), hp.Stats().LiveBlocks)

		require.NoError(t, h2.Release())
		assert.Equal(t, 1, drops(second.ID))
	})

	t.Run("ownership moved through IntoRaw", func(t *testing.T) {
		hp := NewHeap()
		defer hp.Close()

		v := newCounted(4)
		addr := New(v, WithHeap(hp)).IntoRaw()
		require.NoError(t, FromRaw[counted](addr, WithHeap(hp)).Release())
		assert.Equal(t, 1, drops(v.ID))
	})

	t.Run("invalid address", func(t *testing.T) {
		hp, other := NewHeap(), NewHeap()
		defer hp.Close()
		defer other.Close()

		h := New(int64(1), WithHeap(hp))
		foreign := FromRaw[int64](h.Raw(), WithHeap(other))
		assert.ErrorIs(t, foreign.Release(), ErrInvalidAddress)
		require.NoError(t, h.Release())
	})

	t.Run("returns storage", func(t *testing.T) {
		hp := NewHeap()
		defer hp.Close()

		h := New(int64(1), WithHeap(hp))
		assert.Equal(t, uint64(1), hp.Stats().LiveBlocks)

		require.NoError(t, h.Release())
		assert.Equal(t, uint64(0), hp.Stats().LiveBlocks)
	})
}

func TestHandle_Store(t *testing.T) {
	old := newCounted(1)
	h := New(old)

	next := newCounted(2)
	h.Store(next)
	assert.Equal(t, 1, drops(old.ID))
	assert.Equal(t, int64(2), h.Get().Value)

	require.NoError(t, h.Release())
	assert.Equal(t, 1, drops(next.ID))
	assert.Equal(t, 1, drops(old.ID))
}

func TestHandle_Clone(t *testing.T) {
	t.Run("bitwise", func(t *testing.T) {
		h := New(newName("foo"))
		defer h.Release()

		c := h.Clone()
		defer c.Release()

		assert.NotEqual(t, h.Raw(), c.Raw())
		c.Get().Buf[0] = 'b'
		assert.Equal(t, "foo", h.Get().String())
		assert.Equal(t, "boo", c.Get().String())
	})

	t.Run("cloner", func(t *testing.T) {
		h := New(cloned{Value: 5})
		defer h.Release()

		c := h.Clone()
		defer c.Release()

		assert.Equal(t, cloned{Value: 5, Clones: 1}, c.Load())
		assert.Equal(t, cloned{Value: 5}, h.Load())
	})

	t.Run("released", func(t *testing.T) {
		h := New(int8(1))
		require.NoError(t, h.Release())
		assert.Panics(t, func() { h.Clone() })
	})
}

func TestHandle_IntoRaw(t *testing.T) {
	v := newCounted(3)
	h := New(v)

	addr := h.IntoRaw()
	assert.True(t, h.Released())
	assert.ErrorIs(t, h.Release(), ErrReleased)
	assert.Equal(t, 0, drops(v.ID))

	owner := FromRaw[counted](addr)
	assert.Equal(t, int64(3), owner.Get().Value)
	require.NoError(t, owner.Release())
	assert.Equal(t, 1, drops(v.ID))
}

func TestHandle_NotFlat(t *testing.T) {
	tests := []struct {
		name string
		fn   func()
	}{
		{"string", func() { New("foobar") }},
		{"slice", func() { New([]int{1}) }},
		{"pointer field", func() { New(struct{ P *int }{}) }},
		{"from raw", func() { FromRaw[map[int]int](0) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := recovered(tt.fn)
			err, ok := v.(error)
			require.True(t, ok, "panic value %v", v)
			assert.ErrorIs(t, err, ErrNotFlat)
		})
	}
}

func TestHandle_AllocFailure(t *testing.T) {
	rc := resource.NewController(resource.Config{MemoryLimitBytes: 4096})
	hp := NewHeap(WithMemoryLimit(rc))
	defer hp.Close()

	v := recovered(func() { New(int64(1), WithHeap(hp)) })

	var allocErr *AllocError
	err, ok := v.(error)
	require.True(t, ok, "panic value %v", v)
	require.ErrorAs(t, err, &allocErr)
	assert.Equal(t, "int64", allocErr.Type)
	assert.Equal(t, 8, allocErr.Size)
	assert.ErrorIs(t, err, resource.ErrMemoryLimitExceeded)
}

func TestScoped(t *testing.T) {
	t.Run("releases on return", func(t *testing.T) {
		v := newCounted(1)
		var addr uintptr
		err := Scoped(v, func(h *Handle[counted]) error {
			addr = h.Raw()
			h.Get().Value++
			return nil
		})
		require.NoError(t, err)
		assert.NotZero(t, addr)
		assert.Equal(t, 1, drops(v.ID))
	})

	t.Run("returns fn error", func(t *testing.T) {
		errBoom := errors.New("boom")
		v := newCounted(1)
		err := Scoped(v, func(*Handle[counted]) error { return errBoom })
		assert.ErrorIs(t, err, errBoom)
		assert.Equal(t, 1, drops(v.ID))
	})

	t.Run("early release", func(t *testing.T) {
		v := newCounted(1)
		err := Scoped(v, func(h *Handle[counted]) error {
			return h.Release()
		})
		require.NoError(t, err)
		assert.Equal(t, 1, drops(v.ID))
	})

	t.Run("releases on panic", func(t *testing.T) {
		v := newCounted(1)
		assert.Panics(t, func() {
			_ = Scoped(v, func(*Handle[counted]) error { panic("boom") })
		})
		assert.Equal(t, 1, drops(v.ID))
	})
}

const bufferSize = 256 << 10

var bufferHeap = NewHeap()

// buffer owns a large off-heap block, released by Drop.
type buffer struct {
	Data  uintptr
	Bytes int64
}

func newBuffer() buffer {
	return buffer{
		Data:  New([bufferSize]byte{}, WithHeap(bufferHeap)).IntoRaw(),
		Bytes: bufferSize,
	}
}

func (b *buffer) Drop() {
	if err := FromRaw[[bufferSize]byte](b.Data, WithHeap(bufferHeap)).Release(); err != nil {
		panic(err)
	}
}

func TestHandle_Stress(t *testing.T) {
	const rounds = 2000

	metrics := &BasicMetricsCollector{}
	before := bufferHeap.Stats()
	for range rounds {
		h := New(newBuffer(), WithMetricsCollector(metrics))
		h.Get().Bytes++
		require.NoError(t, h.Release())
	}
	after := bufferHeap.Stats()

	assert.Equal(t, before.BytesReserved, after.BytesReserved)
	assert.Equal(t, before.LargeBlocks, after.LargeBlocks)
	assert.Equal(t, uint64(rounds), after.TotalFrees-before.TotalFrees)
	assert.Equal(t, int64(rounds), metrics.ReleaseCount.Load())
	assert.Equal(t, int64(0), metrics.LiveHandles())
}

func TestHandle_Concurrent(t *testing.T) {
	hp := NewHeap(WithChunkSize(64 << 10))
	defer hp.Close()

	var g errgroup.Group
	for i := range 8 {
		g.Go(func() error {
			for j := range 500 {
				h := New(int64(i*1000+j), WithHeap(hp))
				if got := h.Load(); got != int64(i*1000+j) {
					return errors.New("value corrupted")
				}
				if err := h.Release(); err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, uint64(0), hp.Stats().LiveBlocks)
}

func TestHandle_String(t *testing.T) {
	h := New(uint16(3))
	assert.Contains(t, h.String(), "Handle[uint16]")
	assert.Contains(t, h.String(), "released: false")
	require.NoError(t, h.Release())
	assert.Contains(t, h.String(), "released: true")
}

func BenchmarkHandle_NewRelease(b *testing.B) {
	b.ReportAllocs()
	for b.Loop() {
		h := New(newName("foobar"))
		_ = h.Release()
	}
}
