// Package rect provides Rect, the four-field record carried by addRectInOut.
package rect

import (
	"fmt"

	"github.com/pkg/errors"

	"mini-binder/codec"
)

// Rect is an immutable rectangle. Its wire form is left, top, right, bottom,
// each an int32.
type Rect struct {
	left, top, right, bottom int32
}

// Type is the record type of Rect. Field order is the wire order.
var Type = &codec.RecordType{
	Name: "Rect",
	Fields: []codec.Field{
		{Name: "left", Shape: codec.Int32},
		{Name: "top", Shape: codec.Int32},
		{Name: "right", Shape: codec.Int32},
		{Name: "bottom", Shape: codec.Int32},
	},
}

// Shape is the codec shape of a Rect argument.
var Shape = codec.RecordShape(Type)

func init() {
	Type.Build = func(v []any) (codec.Record, error) {
		if len(v) != 4 {
			return nil, errors.Errorf("rect: want 4 fields, got %d", len(v))
		}
		var f [4]int32
		for i := range f {
			x, ok := v[i].(int32)
			if !ok {
				return nil, errors.Errorf("rect: field %d is %T", i, v[i])
			}
			f[i] = x
		}
		return New(f[0], f[1], f[2], f[3]), nil
	}
}

func New(left, top, right, bottom int32) Rect {
	return Rect{left: left, top: top, right: right, bottom: bottom}
}

func (r Rect) Left() int32   { return r.left }
func (r Rect) Top() int32    { return r.top }
func (r Rect) Right() int32  { return r.right }
func (r Rect) Bottom() int32 { return r.bottom }

// Width and Height may be negative when the edges are inverted.
func (r Rect) Width() int32  { return r.right - r.left }
func (r Rect) Height() int32 { return r.bottom - r.top }

// Offset returns a copy of r moved by dx, dy.
func (r Rect) Offset(dx, dy int32) Rect {
	return New(r.left+dx, r.top+dy, r.right+dx, r.bottom+dy)
}

func (r Rect) RecordType() *codec.RecordType { return Type }

func (r Rect) RecordFields() []any {
	return []any{r.left, r.top, r.right, r.bottom}
}

func (r Rect) String() string {
	return fmt.Sprintf("Record[left:%d,top:%d,right:%d,bottom:%d]", r.left, r.top, r.right, r.bottom)
}
