package tensor

import (
	"errors"
	"fmt"
)

// Role tags what part a tensor binding plays in a lowered pipeline.
type Role int

const (
	RoleInvalid Role = iota
	RoleStationary
	RoleMoving
	RoleResult
	RoleBias
)

func (r Role) String() string {
	switch r {
	case RoleStationary:
		return "stationary"
	case RoleMoving:
		return "moving"
	case RoleResult:
		return "result"
	case RoleBias:
		return "bias"
	default:
		return "invalid"
	}
}

// ArrayDims are the canonical contraction dimensions every lowering reduces
// its operation to. N rows of the stationary operand, K the contraction
// extent, M columns of the moving operand, Batch independent repetitions.
type ArrayDims struct {
	Batch int `json:"batch"`
	N     int `json:"n"`
	K     int `json:"k"`
	M     int `json:"m"`
}

func (d ArrayDims) Validate() error {
	if d.Batch < 1 || d.N < 1 || d.K < 1 || d.M < 1 {
		return fmt.Errorf("array dims must be positive, got batch=%d n=%d k=%d m=%d",
			d.Batch, d.N, d.K, d.M)
	}
	return nil
}

// View is a dense row-major tensor the feeders read and the collector writes.
// Data always holds float32 scalars; VecWidth declares how many consecutive
// scalars form one wire word, so len(Data) must be a multiple of VecWidth.
type View struct {
	Name     string
	Shape    []int
	DType    DType
	VecWidth int
	Data     []float32
}

// NewView allocates a zeroed view with the given shape.
func NewView(name string, shape []int, dtype DType, vecWidth int) (*View, error) {
	v := &View{
		Name:     name,
		Shape:    append([]int(nil), shape...),
		DType:    dtype,
		VecWidth: vecWidth,
	}
	if err := v.validateShape(); err != nil {
		return nil, err
	}
	v.Data = make([]float32, v.NumElements())
	return v, nil
}

// WrapView adopts an existing backing slice without copying.
func WrapView(name string, shape []int, dtype DType, vecWidth int, data []float32) (*View, error) {
	v := &View{
		Name:     name,
		Shape:    append([]int(nil), shape...),
		DType:    dtype,
		VecWidth: vecWidth,
		Data:     data,
	}
	if err := v.validateShape(); err != nil {
		return nil, err
	}
	if len(data) != v.NumElements() {
		return nil, fmt.Errorf("tensor %q: data length %d does not match shape %v",
			name, len(data), shape)
	}
	return v, nil
}

func (v *View) validateShape() error {
	if len(v.Shape) == 0 {
		return errors.New("tensor shape must have at least one dimension")
	}
	for _, dim := range v.Shape {
		if dim < 1 {
			return fmt.Errorf("tensor %q: non-positive dimension in shape %v", v.Name, v.Shape)
		}
	}
	if v.VecWidth < 1 {
		return fmt.Errorf("tensor %q: vector width must be at least 1, got %d", v.Name, v.VecWidth)
	}
	if v.DType != Float32 && v.DType != Float16 {
		return fmt.Errorf("tensor %q: unsupported element type %s", v.Name, v.DType)
	}
	innermost := v.Shape[len(v.Shape)-1]
	if innermost%v.VecWidth != 0 {
		return fmt.Errorf("tensor %q: innermost dimension %d is not a multiple of vector width %d",
			v.Name, innermost, v.VecWidth)
	}
	return nil
}

// Rank returns the number of dimensions.
func (v *View) Rank() int {
	return len(v.Shape)
}

// NumElements returns the total scalar element count.
func (v *View) NumElements() int {
	num := 1
	for _, dim := range v.Shape {
		num *= dim
	}
	return num
}

func (v *View) flatIndex(indices []int) int {
	if len(indices) != len(v.Shape) {
		panic(fmt.Sprintf("tensor %q: %d indices for rank-%d view", v.Name, len(indices), len(v.Shape)))
	}
	flat := 0
	for i, idx := range indices {
		if idx < 0 || idx >= v.Shape[i] {
			panic(fmt.Sprintf("tensor %q: index %d out of range [0,%d) on axis %d",
				v.Name, idx, v.Shape[i], i))
		}
		flat = flat*v.Shape[i] + idx
	}
	return flat
}

// At reads a single scalar element.
func (v *View) At(indices ...int) float32 {
	return v.Data[v.flatIndex(indices)]
}

// Set writes a single scalar element.
func (v *View) Set(value float32, indices ...int) {
	v.Data[v.flatIndex(indices)] = value
}

// AtFlat reads by row-major linear offset with bounds checking.
func (v *View) AtFlat(offset int) float32 {
	return v.Data[offset]
}

// SetFlat writes by row-major linear offset with bounds checking.
func (v *View) SetFlat(offset int, value float32) {
	v.Data[offset] = value
}
