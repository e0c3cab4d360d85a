// Package disks catalogs named volume geometries so tools don't have to
// hand-pick block counts. The catalog is compiled in as CSV; presets are
// looked up by slug.
package disks

import (
	_ "embed"
	"fmt"

	"github.com/gocarina/gocsv"

	"github.com/waxfs/waxfs"
	"github.com/waxfs/waxfs/mkfs"
)

//go:embed presets.csv
var presetCSV string

// Preset is one named geometry from the catalog.
type Preset struct {
	Slug        string `csv:"slug"`
	Name        string `csv:"name"`
	TotalBlocks uint32 `csv:"total_blocks"`
	NInodes     uint32 `csv:"inodes"`
	LogSlots    uint32 `csv:"log_slots"`
	Notes       string `csv:"notes"`
}

// Geometry converts the preset into formatter input.
func (p *Preset) Geometry() mkfs.Geometry {
	return mkfs.Geometry{
		TotalBlocks: p.TotalBlocks,
		NInodes:     p.NInodes,
		LogSlots:    p.LogSlots,
	}
}

// All returns every preset in catalog order.
func All() ([]Preset, error) {
	var presets []Preset
	if err := gocsv.UnmarshalString(presetCSV, &presets); err != nil {
		return nil, waxfs.ErrInvalidArgument.WithMessage("parsing embedded preset catalog").Wrap(err)
	}
	return presets, nil
}

// Lookup finds a preset by slug.
func Lookup(slug string) (Preset, error) {
	presets, err := All()
	if err != nil {
		return Preset{}, err
	}
	for _, p := range presets {
		if p.Slug == slug {
			return p, nil
		}
	}
	return Preset{}, waxfs.ErrNotFound.WithMessage(
		fmt.Sprintf("no geometry preset named %q", slug))
}
