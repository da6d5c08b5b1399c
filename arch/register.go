package arch

import "github.com/pkg/errors"

// RegID identifies a register within a catalog. Top-level registers have the
// identifiers 0 through NumTop()-1, ordered by offset, so that a register set
// may be indexed directly by the identifier of a top-level register.
type RegID int

// NoReg denotes the absence of a register.
const NoReg RegID = -1

// Register describes a register of the machine state record.
type Register struct {
	// Register identifier.
	ID RegID
	// Register name.
	Name string
	// Byte offset within the machine state record.
	Offset int
	// Size in bytes.
	Size int
	// Parent register; NoReg for top-level registers.
	Parent RegID
}

// End returns the end offset (exclusive) of the register.
func (r *Register) End() int {
	return r.Offset + r.Size
}

// IsTop reports whether the register is a top-level register.
func (r *Register) IsTop() bool {
	return r.Parent == NoReg
}

// RegSpec specifies a register to be added to a catalog.
type RegSpec struct {
	// Register name.
	Name string
	// Size in bytes.
	Size int
	// Padding bytes inserted before the register; top-level registers only.
	// Top-level registers are laid out in order, each aligned to its size.
	Pad int
	// Name of the parent register; empty for top-level registers.
	Parent string
	// Byte offset relative to the parent register; sub-registers only.
	Rel int
}

// Catalog is an immutable description of every register of an architecture.
type Catalog struct {
	regs   []*Register
	byName map[string]*Register
	numTop int
	size   int
	// owner maps from byte offset to owning top-level register.
	owner []RegID
}

// NewCatalog returns a new register catalog based on the given register
// specifications. Top-level registers must precede their sub-registers.
func NewCatalog(specs []RegSpec) (*Catalog, error) {
	c := &Catalog{
		byName: make(map[string]*Register),
	}
	// Top-level registers.
	var tops []*Register
	end := 0
	for _, spec := range specs {
		if spec.Parent != "" {
			continue
		}
		if spec.Size <= 0 {
			return nil, errors.Errorf("invalid size %d of register %q", spec.Size, spec.Name)
		}
		r := &Register{
			ID:     RegID(len(tops)),
			Name:   spec.Name,
			Offset: align(end+spec.Pad, spec.Size),
			Size:   spec.Size,
			Parent: NoReg,
		}
		tops = append(tops, r)
		end = r.End()
	}
	for _, r := range tops {
		if err := c.add(r); err != nil {
			return nil, errors.WithStack(err)
		}
	}
	c.numTop = len(tops)
	c.size = align(end, 16)
	// Sub-registers.
	for _, spec := range specs {
		if spec.Parent == "" {
			continue
		}
		parent, ok := c.byName[spec.Parent]
		if !ok {
			return nil, errors.Errorf("unable to locate parent %q of register %q", spec.Parent, spec.Name)
		}
		r := &Register{
			ID:     RegID(len(c.regs)),
			Name:   spec.Name,
			Offset: parent.Offset + spec.Rel,
			Size:   spec.Size,
			Parent: parent.ID,
		}
		if spec.Size <= 0 || r.Offset < parent.Offset || r.End() > parent.End() {
			return nil, errors.Errorf("register %q not contained in parent %q", spec.Name, spec.Parent)
		}
		if err := c.add(r); err != nil {
			return nil, errors.WithStack(err)
		}
	}
	// Byte ownership.
	c.owner = make([]RegID, c.size)
	for i := range c.owner {
		c.owner[i] = NoReg
	}
	for _, r := range tops {
		for off := r.Offset; off < r.End(); off++ {
			c.owner[off] = r.ID
		}
	}
	return c, nil
}

// MustCatalog is like NewCatalog but panics on error. It is intended for
// package-level catalog definitions.
func MustCatalog(specs []RegSpec) *Catalog {
	c, err := NewCatalog(specs)
	if err != nil {
		panic(err)
	}
	return c
}

// add adds the given register to the catalog.
func (c *Catalog) add(r *Register) error {
	if _, ok := c.byName[r.Name]; ok {
		return errors.Errorf("register %q already present", r.Name)
	}
	c.regs = append(c.regs, r)
	c.byName[r.Name] = r
	return nil
}

// Lookup returns the register with the given identifier.
func (c *Catalog) Lookup(id RegID) (*Register, bool) {
	if id < 0 || int(id) >= len(c.regs) {
		return nil, false
	}
	return c.regs[id], true
}

// Reg returns the register with the given identifier, which must be valid.
func (c *Catalog) Reg(id RegID) *Register {
	return c.regs[id]
}

// ByName returns the register with the given name.
func (c *Catalog) ByName(name string) (*Register, bool) {
	r, ok := c.byName[name]
	return r, ok
}

// Root returns the top-level register containing the given register.
func (c *Catalog) Root(id RegID) RegID {
	for c.regs[id].Parent != NoReg {
		id = c.regs[id].Parent
	}
	return id
}

// Owner returns the top-level register owning the byte at the given offset of
// the machine state record, or NoReg for padding.
func (c *Catalog) Owner(offset int) RegID {
	if offset < 0 || offset >= len(c.owner) {
		return NoReg
	}
	return c.owner[offset]
}

// NumTop returns the number of top-level registers.
func (c *Catalog) NumTop() int {
	return c.numTop
}

// Size returns the size in bytes of the machine state record.
func (c *Catalog) Size() int {
	return c.size
}

// Registers returns every register of the catalog, top-level registers first.
func (c *Catalog) Registers() []*Register {
	return c.regs
}

// Tops returns the top-level registers in offset order.
func (c *Catalog) Tops() []*Register {
	return c.regs[:c.numTop]
}

// ### [ Helper functions ] ####################################################

// align rounds x up to a multiple of n.
func align(x, n int) int {
	if n <= 1 {
		return x
	}
	if n > 16 {
		n = 16
	}
	return (x + n - 1) / n * n
}
