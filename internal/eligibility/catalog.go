package eligibility

import (
	"github.com/stemsi/exchange-allocator/internal/model"
)

// Catalog resolves program offerings once per run. It knows which program
// codes are tracked at all and which university offers which program.
type Catalog struct {
	tracked  map[string]struct{}
	offering map[string]map[string]bool
}

// NewCatalog indexes the offering flags of all universities. Codes are
// normalized to their two-digit form.
func NewCatalog(universities []model.University) *Catalog {
	c := &Catalog{
		tracked:  make(map[string]struct{}),
		offering: make(map[string]map[string]bool, len(universities)),
	}
	for _, u := range universities {
		flags := make(map[string]bool, len(u.Programs))
		for code, offered := range u.Programs {
			norm := model.NormalizeProgramCode(code)
			if norm == "" {
				continue
			}
			c.tracked[norm] = struct{}{}
			flags[norm] = flags[norm] || offered
		}
		c.offering[u.ID] = flags
	}
	return c
}

// Constrained reports whether any program data exists. Without it every
// university is compatible with every program.
func (c *Catalog) Constrained() bool {
	return len(c.tracked) > 0
}

// Tracks reports whether the code has an offering column.
func (c *Catalog) Tracks(code string) bool {
	_, ok := c.tracked[model.NormalizeProgramCode(code)]
	return ok
}

// Offers reports whether universityID offers the program. Untracked
// codes are never offered.
func (c *Catalog) Offers(universityID, code string) bool {
	return c.offering[universityID][model.NormalizeProgramCode(code)]
}
