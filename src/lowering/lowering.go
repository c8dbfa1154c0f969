package lowering

import (
	"fmt"

	"sysarray/src/graph"
	"sysarray/src/lowering/collect"
	"sysarray/src/lowering/feed"
	"sysarray/src/lowering/pipeline"
	"sysarray/src/lowering/plan"
	"sysarray/src/tensor"
)

// Options control one lowering build. Zero values mean derive automatically:
// P from the row extent and the hardware ceiling, T from the column extent,
// VecWidth from the moving operand.
type Options struct {
	P        int
	T        int
	VecWidth int
	Profile  plan.Profile
}

// DefaultProfile returns the stock hardware profile.
func DefaultProfile() plan.Profile {
	return plan.Profile{
		ParallelismCeiling: 16,
		ScalarLatency:      11,
		VectorLatency:      16,
		MinPartialDepth:    24,
	}
}

// component is any always-active process of the pipeline: it is ticked once
// per cycle and decides itself whether it can make progress.
type component interface {
	Tick() bool
	Done() bool
}

// Pipeline is one fully wired systolic kernel instance: feeders, the PE
// array, the collector, the channels between them and the declared graph.
type Pipeline struct {
	cfg  plan.PEConfig
	dims tensor.ArrayDims
	g    *graph.Graph

	stationary *feed.StationaryFeeder
	moving     component
	array      *pipeline.Array
	collector  *collect.Collector

	output *tensor.View
	cycles int
}

// Graph returns the declared dataflow graph.
func (p *Pipeline) Graph() *graph.Graph {
	return p.g
}

// Config returns the validated sizing.
func (p *Pipeline) Config() plan.PEConfig {
	return p.cfg
}

// Dims returns the canonical contraction dimensions.
func (p *Pipeline) Dims() tensor.ArrayDims {
	return p.dims
}

// Output returns the destination tensor the collector writes.
func (p *Pipeline) Output() *tensor.View {
	return p.output
}

// Cycles returns the wall-clock cycles simulated so far.
func (p *Pipeline) Cycles() int {
	return p.cycles
}

// Steps returns the logical steps the PE array has executed so far.
func (p *Pipeline) Steps() int {
	return p.array.State().Step
}

// ExpectedSteps returns the statically known logical step count.
func (p *Pipeline) ExpectedSteps() int {
	return p.cfg.LogicalSteps(p.dims)
}

// Stalls returns the cycles the PE array spent waiting on channels.
func (p *Pipeline) Stalls() int {
	return p.array.Stalls()
}

// IsFinished reports whether every component has drained.
func (p *Pipeline) IsFinished() bool {
	return p.stationary.Done() && p.moving.Done() && p.array.Done() && p.collector.Done()
}

// Cycle advances every component by one clock, in feed-to-drain order so a
// word can traverse producer and consumer in the same cycle, and reports
// whether anything moved.
func (p *Pipeline) Cycle() bool {
	progressed := false
	if p.stationary.Tick() {
		progressed = true
	}
	if p.moving.Tick() {
		progressed = true
	}
	if p.array.Tick() {
		progressed = true
	}
	if p.collector.Tick() {
		progressed = true
	}
	p.cycles++
	return progressed
}

// Run cycles the pipeline to completion. A cycle in which no component makes
// progress means the construction is inconsistent, never a data-dependent
// fault, and aborts the run.
func (p *Pipeline) Run() error {
	for !p.IsFinished() {
		if !p.Cycle() {
			return fmt.Errorf("%s: no component can make progress at cycle %d (step %d of %d)",
				p.g.Kernel, p.cycles, p.Steps(), p.ExpectedSteps())
		}
	}
	return nil
}

// Dump prints a one-screen report of the finished run.
func (p *Pipeline) Dump() {
	fmt.Printf("kernel: %s\n", p.g.Kernel)
	fmt.Printf("dims: batch=%d n=%d k=%d m=%d\n", p.dims.Batch, p.dims.N, p.dims.K, p.dims.M)
	fmt.Printf("pes: %d, tile: %d elements (%d vectors of %d), delay: %d\n",
		p.cfg.P, p.cfg.T, p.cfg.TVec, p.cfg.VecWidth, p.cfg.L)
	fmt.Printf("steps: %d of %d expected\n", p.Steps(), p.ExpectedSteps())
	fmt.Printf("cycles: %d, stalls: %d\n", p.cycles, p.Stalls())
	fmt.Printf("channels: %d, buffers: %d, bindings: %d\n",
		len(p.g.Channels), len(p.g.Buffers), len(p.g.Bindings))
}

// buildSpec is everything a lowering hands to assemble.
type buildSpec struct {
	op       string
	cfg      plan.PEConfig
	dims     tensor.ArrayDims
	ceiling  int
	bindings []graph.TensorBinding

	stationaryDType tensor.DType
	movingDType     tensor.DType

	readA  feed.StationaryRead
	moving func(out *graph.Fifo) component
	write  collect.WriteFunc
	bias   collect.BiasFunc
	output *tensor.View
}

// assemble declares the channels, wires feeders, PE array and collector, and
// returns the runnable pipeline.
func assemble(spec buildSpec) (*Pipeline, error) {
	g := graph.NewGraph(spec.op, spec.dims)

	for _, binding := range spec.bindings {
		if err := g.BindTensor(binding); err != nil {
			return nil, WrapError(ErrConfigurationInvalid, spec.op, err, "binding tensors")
		}
	}

	aPipes := make([]*graph.Fifo, spec.cfg.P)
	bPipes := make([]*graph.Fifo, spec.cfg.P)
	yPipes := make([]*graph.Fifo, spec.cfg.P)
	for i := 0; i < spec.cfg.P; i++ {
		var err error
		aPipes[i], err = g.DeclareChannel(graph.ChannelSpec{
			Name:      fmt.Sprintf("a_pipe_%d", i),
			DType:     spec.stationaryDType,
			VecWidth:  1,
			Depth:     spec.cfg.P,
			Placement: graph.PlaceRegisters,
		})
		if err != nil {
			return nil, WrapError(ErrConfigurationInvalid, spec.op, err, "declaring channels")
		}
		bPipes[i], err = g.DeclareChannel(graph.ChannelSpec{
			Name:      fmt.Sprintf("b_pipe_%d", i),
			DType:     spec.movingDType,
			VecWidth:  spec.cfg.VecWidth,
			Depth:     2,
			Placement: graph.PlaceRegisters,
		})
		if err != nil {
			return nil, WrapError(ErrConfigurationInvalid, spec.op, err, "declaring channels")
		}
		yPipes[i], err = g.DeclareChannel(graph.ChannelSpec{
			Name:      fmt.Sprintf("y_pipe_%d", i),
			DType:     spec.movingDType,
			VecWidth:  spec.cfg.VecWidth,
			Depth:     spec.cfg.TVec,
			Placement: graph.PlaceBlockMemory,
		})
		if err != nil {
			return nil, WrapError(ErrConfigurationInvalid, spec.op, err, "declaring channels")
		}
		err = g.DeclareBuffer(graph.BufferSpec{
			Name:      fmt.Sprintf("partial_%d", i),
			DType:     spec.movingDType,
			VecWidth:  spec.cfg.VecWidth,
			Depth:     spec.cfg.PartialDepth(),
			Placement: graph.PlaceBlockMemory,
		})
		if err != nil {
			return nil, WrapError(ErrConfigurationInvalid, spec.op, err, "declaring buffers")
		}
	}

	burst := spec.cfg.BurstSend(spec.ceiling)
	stationary := feed.NewStationaryFeeder(spec.cfg, spec.dims, spec.readA, aPipes, burst)
	moving := spec.moving(bPipes[0])
	array := pipeline.NewArray(spec.cfg, spec.dims, aPipes, bPipes, yPipes)
	collector := collect.NewCollector(spec.cfg, spec.dims, yPipes[spec.cfg.P-1], spec.write, spec.bias)

	return &Pipeline{
		cfg:        spec.cfg,
		dims:       spec.dims,
		g:          g,
		stationary: stationary,
		moving:     moving,
		array:      array,
		collector:  collector,
		output:     spec.output,
	}, nil
}
