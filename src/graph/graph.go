package graph

import (
	"encoding/json"
	"fmt"
	"os"

	"sysarray/src/tensor"
)

// Placement selects the physical storage a channel is mapped to. It is
// pass-through configuration chosen by the lowering that declares the
// channel, never derived from the channel depth.
type Placement int

const (
	PlaceRegisters Placement = iota
	PlaceBlockMemory
)

func (p Placement) String() string {
	switch p {
	case PlaceRegisters:
		return "registers"
	case PlaceBlockMemory:
		return "block_memory"
	default:
		return "invalid"
	}
}

// ChannelSpec declares one FIFO channel of the dataflow graph.
type ChannelSpec struct {
	Name      string       `json:"name"`
	DType     tensor.DType `json:"dtype"`
	VecWidth  int          `json:"vec_width"`
	Depth     int          `json:"depth"`
	Placement Placement    `json:"placement"`
}

// AccessSpec records the two access escape hatches a binding may carry:
// dynamic access (reads/writes issued conditionally) and out-of-bounds
// tolerance for statically-proven-safe patch extraction.
type AccessSpec struct {
	Dynamic          bool `json:"dynamic"`
	AllowOutOfBounds bool `json:"allow_out_of_bounds"`
}

// BufferSpec declares one block of component-local storage, such as a PE's
// partial-sum accumulator. Unlike a channel it has no FIFO semantics; it is
// recorded for the downstream synthesis step only.
type BufferSpec struct {
	Name      string       `json:"name"`
	DType     tensor.DType `json:"dtype"`
	VecWidth  int          `json:"vec_width"`
	Depth     int          `json:"depth"`
	Placement Placement    `json:"placement"`
}

// TensorBinding names one external tensor of the lowered kernel.
type TensorBinding struct {
	Name     string       `json:"name"`
	Role     tensor.Role  `json:"role"`
	Shape    []int        `json:"shape"`
	DType    tensor.DType `json:"dtype"`
	VecWidth int          `json:"vec_width"`
	Access   AccessSpec   `json:"access"`
}

// Graph is the declared dataflow description of one lowered kernel plus the
// live channels the simulation runs over. The declared part serializes to
// JSON for the downstream synthesis step.
type Graph struct {
	Kernel   string           `json:"kernel"`
	Dims     tensor.ArrayDims `json:"dims"`
	Channels []ChannelSpec    `json:"channels"`
	Buffers  []BufferSpec     `json:"buffers"`
	Bindings []TensorBinding  `json:"bindings"`

	fifos map[string]*Fifo
}

// NewGraph creates an empty graph for the named kernel.
func NewGraph(kernel string, dims tensor.ArrayDims) *Graph {
	return &Graph{
		Kernel: kernel,
		Dims:   dims,
		fifos:  make(map[string]*Fifo),
	}
}

// DeclareChannel records the spec and instantiates its FIFO.
func (g *Graph) DeclareChannel(spec ChannelSpec) (*Fifo, error) {
	if spec.Name == "" {
		return nil, fmt.Errorf("channel name must not be empty")
	}
	if _, ok := g.fifos[spec.Name]; ok {
		return nil, fmt.Errorf("channel %q declared twice", spec.Name)
	}
	if spec.Depth < 1 {
		return nil, fmt.Errorf("channel %q: depth must be at least 1, got %d", spec.Name, spec.Depth)
	}
	if spec.VecWidth < 1 {
		return nil, fmt.Errorf("channel %q: vector width must be at least 1, got %d", spec.Name, spec.VecWidth)
	}

	fifo := NewFifo(spec.Name, spec.Depth)
	g.Channels = append(g.Channels, spec)
	g.fifos[spec.Name] = fifo
	return fifo, nil
}

// DeclareBuffer records one component-local storage block.
func (g *Graph) DeclareBuffer(spec BufferSpec) error {
	if spec.Name == "" {
		return fmt.Errorf("buffer name must not be empty")
	}
	for _, existing := range g.Buffers {
		if existing.Name == spec.Name {
			return fmt.Errorf("buffer %q declared twice", spec.Name)
		}
	}
	if spec.Depth < 1 {
		return fmt.Errorf("buffer %q: depth must be at least 1, got %d", spec.Name, spec.Depth)
	}
	if spec.VecWidth < 1 {
		return fmt.Errorf("buffer %q: vector width must be at least 1, got %d", spec.Name, spec.VecWidth)
	}
	g.Buffers = append(g.Buffers, spec)
	return nil
}

// BindTensor records one external tensor binding.
func (g *Graph) BindTensor(binding TensorBinding) error {
	if binding.Name == "" {
		return fmt.Errorf("tensor binding name must not be empty")
	}
	for _, existing := range g.Bindings {
		if existing.Name == binding.Name {
			return fmt.Errorf("tensor %q bound twice", binding.Name)
		}
	}
	g.Bindings = append(g.Bindings, binding)
	return nil
}

// Channel returns the live FIFO for a declared channel, or nil.
func (g *Graph) Channel(name string) *Fifo {
	return g.fifos[name]
}

// SaveJson writes the declared graph for the downstream synthesis step.
func (g *Graph) SaveJson(path string) error {
	bytes, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, bytes, 0644)
}

// LoadJson reads a declared graph back. The loaded graph carries no live
// channels; it is inspection-only.
func LoadJson(path string) (*Graph, error) {
	bytes, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	g := &Graph{fifos: make(map[string]*Fifo)}
	if err := json.Unmarshal(bytes, g); err != nil {
		return nil, err
	}
	return g, nil
}
