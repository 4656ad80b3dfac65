package ringchan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForceSend_DropsOldestWhenFull(t *testing.T) {
	rc := New[int](2)

	assert.False(t, rc.ForceSend(1))
	assert.False(t, rc.ForceSend(2))
	assert.True(t, rc.ForceSend(3))

	v, ok := rc.TryReceive()
	require.True(t, ok)
	assert.Equal(t, 2, v)
	v, ok = rc.TryReceive()
	require.True(t, ok)
	assert.Equal(t, 3, v)

	_, ok = rc.TryReceive()
	assert.False(t, ok)
}

func TestTrySend_FailsWhenFull(t *testing.T) {
	rc := New[string](1)

	assert.True(t, rc.TrySend("a"))
	assert.False(t, rc.TrySend("b"))

	v, ok := rc.Receive()
	require.True(t, ok)
	assert.Equal(t, "a", v)
}

func TestClose_DrainsThenReportsClosed(t *testing.T) {
	rc := New[int](4)
	rc.Send(1)
	rc.Send(2)
	rc.Close()

	var got []int
	for v := range rc.C() {
		got = append(got, v)
	}
	assert.Equal(t, []int{1, 2}, got)

	_, ok := rc.Receive()
	assert.False(t, ok)
}

func TestMetrics(t *testing.T) {
	rc := New[int](1)
	rc.Send(1)
	rc.Send(2) // overwrites 1

	v, ok := rc.Receive()
	require.True(t, ok)
	assert.Equal(t, 2, v)

	m := rc.GetMetrics()
	assert.EqualValues(t, 2, m.Written)
	assert.EqualValues(t, 1, m.Overwritten)
	assert.EqualValues(t, 1, m.Processed)
}

func TestNew_RejectsZeroCapacity(t *testing.T) {
	assert.Panics(t, func() { New[int](0) })
}
