package tileid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZeroZoomIsZero(t *testing.T) {
	id, err := ToID(ZXY{Z: 0, X: 0, Y: 0})
	require.NoError(t, err)
	assert.Equal(t, uint64(0), id)
}

func TestOutOfBoundsRejected(t *testing.T) {
	_, err := ToID(ZXY{Z: 2, X: 4, Y: 0})
	assert.Error(t, err)

	_, err = ToID(ZXY{Z: 31, X: 0, Y: 0})
	assert.Error(t, err)
}

func TestRoundTripAcrossZoomLevels(t *testing.T) {
	for z := uint8(0); z <= 8; z++ {
		dim := uint32(1) << z
		for x := uint32(0); x < dim; x++ {
			for y := uint32(0); y < dim; y++ {
				id, err := ToID(ZXY{Z: z, X: x, Y: y})
				require.NoError(t, err)

				got, err := FromID(id)
				require.NoError(t, err)
				assert.Equal(t, ZXY{Z: z, X: x, Y: y}, got, "z=%d x=%d y=%d id=%d", z, x, y, id)
			}
		}
	}
}

func TestIDsAreUniqueWithinAndAcrossZoom(t *testing.T) {
	seen := make(map[uint64]ZXY)
	for z := uint8(0); z <= 6; z++ {
		dim := uint32(1) << z
		for x := uint32(0); x < dim; x++ {
			for y := uint32(0); y < dim; y++ {
				id, err := ToID(ZXY{Z: z, X: x, Y: y})
				require.NoError(t, err)
				if prior, ok := seen[id]; ok {
					t.Fatalf("collision: id %d used by %+v and %+v", id, prior, ZXY{Z: z, X: x, Y: y})
				}
				seen[id] = ZXY{Z: z, X: x, Y: y}
			}
		}
	}
}

func TestMonotonicAcrossZoomBase(t *testing.T) {
	z0, _ := ToID(ZXY{Z: 0, X: 0, Y: 0})
	z1, _ := ToID(ZXY{Z: 1, X: 0, Y: 0})
	z2, _ := ToID(ZXY{Z: 2, X: 0, Y: 0})
	assert.Less(t, z0, z1)
	assert.Less(t, z1, z2)
}
