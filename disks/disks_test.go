package disks_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waxfs/waxfs"
	"github.com/waxfs/waxfs/disks"
	"github.com/waxfs/waxfs/mkfs"
)

func TestAll__CatalogParsesAndPlans(t *testing.T) {
	presets, err := disks.All()
	require.NoError(t, err)
	require.NotEmpty(t, presets)

	// Every shipped preset must actually be formattable.
	for _, p := range presets {
		assert.NotEmpty(t, p.Slug)
		assert.NotEmpty(t, p.Name)
		_, err := mkfs.Plan(p.Geometry())
		assert.NoError(t, err, "preset %q does not plan", p.Slug)
	}
}

func TestLookup__KnownSlug(t *testing.T) {
	p, err := disks.Lookup("classic")
	require.NoError(t, err)
	assert.EqualValues(t, 1000, p.TotalBlocks)
	assert.EqualValues(t, 200, p.NInodes)
}

func TestLookup__UnknownSlug(t *testing.T) {
	_, err := disks.Lookup("zip-drive")
	require.Error(t, err)
	assert.True(t, errors.Is(err, waxfs.ErrNotFound))
}
