// Package geometry holds the spatial and span values annotations attach to a
// data row. Values are plain data; constructors check their invariants and
// fail with errs.InvalidGeometry.
package geometry

import (
	"math"

	"github.com/ppiankov/labelwire/internal/errs"
)

// Kind identifies a geometry variant.
type Kind string

const (
	KindPoint              Kind = "point"
	KindLine               Kind = "line"
	KindRectangle          Kind = "rectangle"
	KindPolygon            Kind = "polygon"
	KindMask               Kind = "mask"
	KindTextEntity         Kind = "text_entity"
	KindDocumentRectangle  Kind = "document_rectangle"
	KindConversationEntity Kind = "conversation_entity"
)

const (
	minLinePoints    = 2
	minPolygonPoints = 3
	maxColorChannel  = 255
)

// Value is implemented by every geometry variant.
type Value interface {
	Kind() Kind
	// Validate re-checks the constructor invariants. Values built as struct
	// literals (e.g. by a decoder) are only trusted after Validate.
	Validate() error
}

func invalid(field, format string, args ...any) error {
	return errs.New(errs.InvalidGeometry, format, args...).WithOp("geometry").WithField(field)
}

// Point is a 2D coordinate.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (Point) Kind() Kind { return KindPoint }

func (p Point) Validate() error {
	if !finite(p.X) || !finite(p.Y) {
		return invalid("point", "coordinates must be finite, got (%v, %v)", p.X, p.Y)
	}
	return nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// Line is an open polyline.
type Line struct {
	Points []Point
}

// NewLine builds a line from at least two points.
func NewLine(points ...Point) (Line, error) {
	l := Line{Points: clonePoints(points)}
	return l, l.Validate()
}

func (Line) Kind() Kind { return KindLine }

func (l Line) Validate() error {
	if len(l.Points) < minLinePoints {
		return invalid("line", "needs at least %d points, got %d", minLinePoints, len(l.Points))
	}
	return validatePoints("line", l.Points)
}

// Polygon is a closed shape; closure is implicit.
type Polygon struct {
	Points []Point
}

// NewPolygon builds a polygon from at least three points.
func NewPolygon(points ...Point) (Polygon, error) {
	p := Polygon{Points: clonePoints(points)}
	return p, p.Validate()
}

func (Polygon) Kind() Kind { return KindPolygon }

func (p Polygon) Validate() error {
	if len(p.Points) < minPolygonPoints {
		return invalid("polygon", "needs at least %d points, got %d", minPolygonPoints, len(p.Points))
	}
	return validatePoints("polygon", p.Points)
}

func validatePoints(field string, points []Point) error {
	for _, pt := range points {
		if err := pt.Validate(); err != nil {
			if e, ok := errs.As(err); ok {
				e.Field = field
			}
			return err
		}
	}
	return nil
}

func clonePoints(points []Point) []Point {
	if points == nil {
		return nil
	}
	out := make([]Point, len(points))
	copy(out, points)
	return out
}

// Rectangle is an axis-aligned box from Start (top-left) to End (bottom-right).
type Rectangle struct {
	Start Point
	End   Point
}

// NewRectangle builds a rectangle from its top-left and bottom-right corners.
func NewRectangle(start, end Point) (Rectangle, error) {
	r := Rectangle{Start: start, End: end}
	return r, r.Validate()
}

// NewRectangleFromBBox builds a rectangle from the wire bbox form.
func NewRectangleFromBBox(top, left, height, width float64) (Rectangle, error) {
	return NewRectangle(Point{X: left, Y: top}, Point{X: left + width, Y: top + height})
}

// BBox returns the rectangle as top, left, height, width.
func (r Rectangle) BBox() (top, left, height, width float64) {
	return r.Start.Y, r.Start.X, r.End.Y - r.Start.Y, r.End.X - r.Start.X
}

func (Rectangle) Kind() Kind { return KindRectangle }

func (r Rectangle) Validate() error {
	if err := validatePoints("bbox", []Point{r.Start, r.End}); err != nil {
		return err
	}
	top, left, height, width := r.BBox()
	switch {
	case top < 0:
		return invalid("bbox.top", "must be >= 0, got %v", top)
	case left < 0:
		return invalid("bbox.left", "must be >= 0, got %v", left)
	case height < 0:
		return invalid("bbox.height", "must be >= 0, got %v", height)
	case width < 0:
		return invalid("bbox.width", "must be >= 0, got %v", width)
	}
	return nil
}

// Unit is the coordinate unit of a document rectangle.
type Unit string

const (
	UnitInches Unit = "INCHES"
	UnitPixels Unit = "PIXELS"
	UnitPoints Unit = "POINTS"
)

// Valid reports whether u is a known unit.
func (u Unit) Valid() bool {
	switch u {
	case UnitInches, UnitPixels, UnitPoints:
		return true
	}
	return false
}

// DocumentRectangle is a rectangle on a page of a document.
type DocumentRectangle struct {
	Rectangle
	Page int
	Unit Unit
}

// NewDocumentRectangle builds a rectangle on the given page.
func NewDocumentRectangle(r Rectangle, page int, unit Unit) (DocumentRectangle, error) {
	d := DocumentRectangle{Rectangle: r, Page: page, Unit: unit}
	return d, d.Validate()
}

func (DocumentRectangle) Kind() Kind { return KindDocumentRectangle }

func (d DocumentRectangle) Validate() error {
	if err := d.Rectangle.Validate(); err != nil {
		return err
	}
	if d.Page < 0 {
		return invalid("page", "must be >= 0, got %d", d.Page)
	}
	if !d.Unit.Valid() {
		return invalid("unit", "must be one of INCHES, PIXELS, POINTS, got %q", d.Unit)
	}
	return nil
}

// TextEntity is a half-open character span [Start, End).
type TextEntity struct {
	Start int
	End   int
}

// NewTextEntity builds a span with 0 <= start < end.
func NewTextEntity(start, end int) (TextEntity, error) {
	t := TextEntity{Start: start, End: end}
	return t, t.Validate()
}

func (TextEntity) Kind() Kind { return KindTextEntity }

func (t TextEntity) Validate() error {
	if t.Start < 0 {
		return invalid("location.start", "must be >= 0, got %d", t.Start)
	}
	if t.Start >= t.End {
		return invalid("location", "start %d must be less than end %d", t.Start, t.End)
	}
	return nil
}

// ConversationEntity is a text span inside one message of a conversation.
type ConversationEntity struct {
	TextEntity
	MessageID string
}

// NewConversationEntity builds a span inside the given message.
func NewConversationEntity(messageID string, start, end int) (ConversationEntity, error) {
	c := ConversationEntity{TextEntity: TextEntity{Start: start, End: end}, MessageID: messageID}
	return c, c.Validate()
}

func (ConversationEntity) Kind() Kind { return KindConversationEntity }

func (c ConversationEntity) Validate() error {
	if c.MessageID == "" {
		return invalid("messageId", "must not be empty")
	}
	return c.TextEntity.Validate()
}
