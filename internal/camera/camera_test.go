package camera

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"camtiles/internal/aabb"
)

func TestCurrentBeforePublishReportsUnset(t *testing.T) {
	var s Store
	_, ok := s.Current()
	assert.False(t, ok)
}

func TestPublishThenCurrentRoundTrips(t *testing.T) {
	var s Store
	want := State{
		Bounds:         aabb.Box{MinX: 1, MinY: 2, MaxX: 3, MaxY: 4},
		MetersPerPixel: 4.77,
		Zoom:           10.2,
		Mode:           ThreeD,
		UpdatedAt:      time.Unix(1000, 0),
	}
	s.Publish(want)

	got, ok := s.Current()
	assert.True(t, ok)
	assert.Equal(t, want, got)
}

func TestConcurrentPublishDoesNotRace(t *testing.T) {
	var s Store
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.Publish(State{Bounds: aabb.Box{MaxX: float64(i), MaxY: float64(i)}, Zoom: 1, Mode: TwoD})
		}(i)
	}
	wg.Wait()

	_, ok := s.Current()
	assert.True(t, ok)
}
