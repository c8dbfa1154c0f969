package collect

import (
	"sysarray/src/graph"
	"sysarray/src/lowering/plan"
	"sysarray/src/tensor"
)

// WriteFunc stores one finished output scalar. row and col are the logical
// result coordinates; the lowering decides the destination layout.
type WriteFunc func(b, row, col int, value float32)

// BiasFunc resolves the bias addend for one output scalar, or is nil when
// the operation carries no bias.
type BiasFunc func(b, row, col int) float32

// Collector pops the tail of the result chain in strict (b, n0, tm, n1, m)
// order, which thanks to the stationary channel reversal is ascending row
// order within every tile, adds the bias, inverts the tiling arithmetic and
// writes the destination. Words for rows past N or columns past M are
// consumed and discarded.
type Collector struct {
	cfg  plan.PEConfig
	dims tensor.ArrayDims
	in   *graph.Fifo

	write WriteFunc
	bias  BiasFunc

	b, n0, tm, n1, m int
	received         int
	done             bool

	rowBlocks int
	tiles     int
}

// NewCollector wires the collector to the last result channel.
func NewCollector(cfg plan.PEConfig, dims tensor.ArrayDims, in *graph.Fifo, write WriteFunc, bias BiasFunc) *Collector {
	return &Collector{
		cfg:       cfg,
		dims:      dims,
		in:        in,
		write:     write,
		bias:      bias,
		rowBlocks: cfg.RowBlocks(dims),
		tiles:     cfg.Tiles(dims),
	}
}

// Done reports whether every word has been collected.
func (c *Collector) Done() bool {
	return c.done
}

// Received returns the number of words consumed so far.
func (c *Collector) Received() int {
	return c.received
}

// Tick consumes one word when available and reports progress.
func (c *Collector) Tick() bool {
	if c.done || !c.in.CanPop() {
		return false
	}

	word := c.in.Pop()
	c.received++

	row := c.n0*c.cfg.P + c.n1
	if row < c.dims.N {
		base := (c.tm*c.cfg.TVec + c.m) * c.cfg.VecWidth
		for lane := 0; lane < c.cfg.VecWidth; lane++ {
			col := base + lane
			if col >= c.dims.M {
				break
			}
			value := word[lane]
			if c.bias != nil {
				value += c.bias(c.b, row, col)
			}
			c.write(c.b, row, col, value)
		}
	}

	c.m++
	if c.m < c.cfg.TVec {
		return true
	}
	c.m = 0
	c.n1++
	if c.n1 < c.cfg.P {
		return true
	}
	c.n1 = 0
	c.tm++
	if c.tm < c.tiles {
		return true
	}
	c.tm = 0
	c.n0++
	if c.n0 < c.rowBlocks {
		return true
	}
	c.n0 = 0
	c.b++
	if c.b < c.dims.Batch {
		return true
	}
	c.done = true
	return true
}
