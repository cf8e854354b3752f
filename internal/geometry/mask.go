package geometry

// MaskRef points at a hosted mask image; pixels of Color belong to the instance.
type MaskRef struct {
	URI   string
	Color []int
}

// RLE is a run-length encoded mask over an image of Size = (height, width).
type RLE struct {
	Counts []int
	Size   []int
}

// Mask is a segmentation mask. Exactly one of Ref or RLE is set.
type Mask struct {
	Ref *MaskRef
	RLE *RLE
}

// NewMaskRef builds a mask referencing a hosted image and an rgb color.
func NewMaskRef(uri string, rgb ...int) (Mask, error) {
	m := Mask{Ref: &MaskRef{URI: uri, Color: append([]int(nil), rgb...)}}
	return m, m.Validate()
}

// NewMaskRLE builds a run-length encoded mask.
func NewMaskRLE(counts []int, height, width int) (Mask, error) {
	m := Mask{RLE: &RLE{Counts: append([]int(nil), counts...), Size: []int{height, width}}}
	return m, m.Validate()
}

func (Mask) Kind() Kind { return KindMask }

func (m Mask) Validate() error {
	switch {
	case m.Ref != nil && m.RLE != nil:
		return invalid("mask", "exactly one of reference or rle must be set")
	case m.Ref != nil:
		return m.Ref.validate()
	case m.RLE != nil:
		return m.RLE.validate()
	}
	return invalid("mask", "exactly one of reference or rle must be set")
}

func (r *MaskRef) validate() error {
	if r.URI == "" {
		return invalid("mask.instanceURI", "must not be empty")
	}
	if len(r.Color) != 3 {
		return invalid("mask.colorRGB", "must have 3 components, got %d", len(r.Color))
	}
	for _, c := range r.Color {
		if c < 0 || c > maxColorChannel {
			return invalid("mask.colorRGB", "components must be in [0, 255], got %v", r.Color)
		}
	}
	return nil
}

func (r *RLE) validate() error {
	if len(r.Size) != 2 {
		return invalid("mask.size", "must be [height, width], got %v", r.Size)
	}
	if r.Size[0] <= 0 || r.Size[1] <= 0 {
		return invalid("mask.size", "must be positive, got %v", r.Size)
	}
	if len(r.Counts) == 0 {
		return invalid("mask.counts", "must not be empty")
	}
	for i, c := range r.Counts {
		if c < 0 {
			return invalid("mask.counts", "count %d is negative (%d)", i, c)
		}
	}
	return nil
}
