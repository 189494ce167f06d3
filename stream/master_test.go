package stream

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSlave struct {
	*BaseSlave
	name   string
	accept bool
	log    *[]string
	mu     *sync.Mutex
	frames []*Frame
}

func newRecordingSlave(t *testing.T, name string, accept bool, log *[]string, mu *sync.Mutex) *recordingSlave {
	t.Helper()

	base, err := NewBaseSlave(WithLogger(newQuietLogger()))
	require.NoError(t, err)

	return &recordingSlave{BaseSlave: base, name: name, accept: accept, log: log, mu: mu}
}

func (s *recordingSlave) AcceptFrame(frame *Frame, _ time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	*s.log = append(*s.log, s.name)
	s.frames = append(s.frames, frame)

	return s.accept
}

func TestMaster_ReqFrameWithoutPrimary(t *testing.T) {
	m := NewMaster()

	frame, err := m.ReqFrame(100, false)
	assert.Nil(t, frame)
	assert.ErrorIs(t, err, ErrNoPrimarySlave)
}

func TestMaster_ReqFrameFromPrimary(t *testing.T) {
	var log []string
	var mu sync.Mutex
	primary := newRecordingSlave(t, "primary", true, &log, &mu)
	secondary := newRecordingSlave(t, "secondary", true, &log, &mu)

	m := NewMaster()
	m.AddSlave(secondary)
	m.SetSlave(primary)

	frame, err := m.ReqFrame(512, true)
	require.NoError(t, err)
	assert.Equal(t, uint32(512), frame.Size())
	assert.Equal(t, int64(1), primary.AllocCount(), "primary serves allocation")
	assert.Equal(t, int64(0), secondary.AllocCount())

	frame.Release()
	assert.Equal(t, int64(0), primary.AllocCount())
}

func TestMaster_SendFrameFanOut(t *testing.T) {
	tests := []struct {
		name     string
		accepts  []bool
		expected bool
	}{
		{"no slaves", nil, false},
		{"single accepting", []bool{true}, true},
		{"all accepting", []bool{true, true, true}, true},
		{"one rejecting", []bool{true, false, true}, false},
		{"all rejecting", []bool{false, false}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var log []string
			var mu sync.Mutex
			m := NewMaster()
			m.SetLogger(newQuietLogger())

			names := []string{}
			for i, accept := range tt.accepts {
				name := string(rune('a' + i))
				names = append(names, name)
				s := newRecordingSlave(t, name, accept, &log, &mu)
				if i == 0 {
					m.SetSlave(s)
				} else {
					m.AddSlave(s)
				}
			}
			assert.Equal(t, len(tt.accepts), m.SlaveCount())

			frame := NewFrame()
			assert.Equal(t, tt.expected, m.SendFrame(frame))
			if len(names) > 0 {
				assert.Equal(t, names, log, "every slave is visited in registration order")
			} else {
				assert.Empty(t, log)
			}
		})
	}
}

func TestMaster_SendNilFrame(t *testing.T) {
	var log []string
	var mu sync.Mutex
	m := NewMaster()
	m.SetSlave(newRecordingSlave(t, "a", true, &log, &mu))

	assert.False(t, m.SendFrame(nil))
	assert.Empty(t, log)
}

func TestMaster_ReplacePrimaryKeepsOrder(t *testing.T) {
	var log []string
	var mu sync.Mutex
	m := NewMaster()

	first := newRecordingSlave(t, "first", true, &log, &mu)
	second := newRecordingSlave(t, "second", true, &log, &mu)
	replacement := newRecordingSlave(t, "replacement", true, &log, &mu)

	m.SetSlave(first)
	m.AddSlave(second)
	m.SetSlave(replacement)

	assert.Equal(t, 2, m.SlaveCount())
	assert.Same(t, replacement, m.PrimarySlave())

	m.SendFrame(NewFrame())
	assert.Equal(t, []string{"replacement", "second"}, log)
}

func TestMaster_OrderPreservedPerEdge(t *testing.T) {
	var mu sync.Mutex
	var ids []uint64
	sink, err := NewFuncSlave(func(frame *Frame, _ time.Duration) bool {
		mu.Lock()
		defer mu.Unlock()
		ids = append(ids, frame.ID())
		return true
	}, WithLogger(newQuietLogger()))
	require.NoError(t, err)

	m := NewMaster()
	m.SetSlave(sink)
	m.SetTimeout(time.Second)
	assert.Equal(t, time.Second, m.Timeout())

	var sent []uint64
	for i := 0; i < 50; i++ {
		frame, err := m.ReqFrame(16, false)
		require.NoError(t, err)
		sent = append(sent, frame.ID())
		require.True(t, m.SendFrame(frame))
		frame.Release()
	}

	assert.Equal(t, sent, ids)
	assert.Equal(t, int64(0), sink.AllocCount())
}

type nilSlave struct{ *BaseSlave }

func (nilSlave) AcceptReq(uint32, bool, time.Duration) *Frame { return nil }

func TestMaster_ReqFrameNilFromSlave(t *testing.T) {
	base, err := NewBaseSlave()
	require.NoError(t, err)

	m := NewMaster()
	m.SetSlave(nilSlave{base})

	_, err = m.ReqFrame(8, false)
	assert.ErrorIs(t, err, ErrAllocFailed)
}
