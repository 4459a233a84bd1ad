package segmap

import (
	"fmt"

	"github.com/hupe1980/segmap/internal/engine"
)

// GrowthMode selects how EnsureCapacity maps new segments.
type GrowthMode int

const (
	// GrowthDefault picks GrowthIncremental on unix and GrowthCleanRemap on
	// windows.
	GrowthDefault GrowthMode = iota

	// GrowthIncremental maps only the missing tail segments. Existing
	// mappings stay valid while the file grows, which holds for shared
	// mappings on Linux, BSD and Darwin.
	GrowthIncremental

	// GrowthCleanRemap releases every segment and maps the whole range
	// again. Required where a file cannot grow under live views.
	GrowthCleanRemap
)

// String implements fmt.Stringer.
func (g GrowthMode) String() string {
	switch g {
	case GrowthIncremental:
		return "incremental"
	case GrowthCleanRemap:
		return "clean-remap"
	default:
		return "default"
	}
}

func (g GrowthMode) cleanRemap() bool {
	switch g {
	case GrowthIncremental:
		return false
	case GrowthCleanRemap:
		return true
	default:
		return engine.DefaultCleanRemap
	}
}

// ParseGrowthMode parses the String form of a GrowthMode.
func ParseGrowthMode(s string) (GrowthMode, error) {
	switch s {
	case "", "default":
		return GrowthDefault, nil
	case "incremental":
		return GrowthIncremental, nil
	case "clean-remap", "clean_remap":
		return GrowthCleanRemap, nil
	default:
		return GrowthDefault, fmt.Errorf("segmap: unknown growth mode %q", s)
	}
}
