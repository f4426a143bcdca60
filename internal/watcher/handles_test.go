package watcher

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHandlesReleaseInReverseOrderOnce(t *testing.T) {
	h := &handles{}
	var order []int
	h.add(func() { order = append(order, 1) })
	h.add(func() { order = append(order, 2) })
	h.add(func() { order = append(order, 3) })

	h.release()
	h.release()
	assert.Equal(t, []int{3, 2, 1}, order)

	h.add(func() { order = append(order, 4) })
	assert.Equal(t, []int{3, 2, 1, 4}, order)
}

func TestDebouncerCoalescesTriggers(t *testing.T) {
	var runs int32
	d := newDebouncer(30*time.Millisecond, func() { atomic.AddInt32(&runs, 1) })

	for i := 0; i < 5; i++ {
		d.trigger()
		time.Sleep(5 * time.Millisecond)
	}

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&runs) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&runs))
}

func TestDebouncerStop(t *testing.T) {
	var runs int32
	d := newDebouncer(10*time.Millisecond, func() { atomic.AddInt32(&runs, 1) })

	d.trigger()
	d.stop()
	d.trigger()

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, atomic.LoadInt32(&runs))
}

func TestLabels(t *testing.T) {
	assert.True(t, isWatched(nil, true))
	assert.False(t, isWatched(nil, false))
	assert.False(t, isWatched(map[string]string{LabelWatch: "false"}, true))
	assert.True(t, isWatched(map[string]string{LabelWatch: " true "}, false))
	assert.True(t, isWatched(map[string]string{LabelWatch: "yes"}, true))

	assert.True(t, isDigestWatched(nil, false))
	assert.False(t, isDigestWatched(nil, true))
	assert.True(t, isDigestWatched(map[string]string{LabelWatchDigest: "true"}, true))
}
