package feed

import (
	"testing"

	"sysarray/src/graph"
	"sysarray/src/lowering/plan"
	"sysarray/src/tensor"
)

func testConfig(t *testing.T, dims tensor.ArrayDims, p, tile, vecWidth, rowWidth int) plan.PEConfig {
	t.Helper()
	cfg, err := plan.New(plan.Request{
		Dims:     dims,
		VecWidth: vecWidth,
		P:        p,
		T:        tile,
		RowWidth: rowWidth,
	}, plan.Profile{ParallelismCeiling: 16, ScalarLatency: 2, VectorLatency: 2, MinPartialDepth: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return cfg
}

func drainFeeder(t *testing.T, tick func() bool, done func() bool) {
	t.Helper()
	idle := 0
	for !done() {
		if tick() {
			idle = 0
			continue
		}
		idle++
		if idle > 1 {
			t.Fatalf("feeder made no progress")
		}
	}
}

func TestStationaryReversalAndOrder(t *testing.T) {
	dims := tensor.ArrayDims{Batch: 1, N: 2, K: 3, M: 2}
	cfg := testConfig(t, dims, 2, 2, 1, 0)

	out := []*graph.Fifo{
		graph.NewFifo("a_pipe_0", dims.K*cfg.P),
		graph.NewFifo("a_pipe_1", dims.K*cfg.P),
	}
	read := func(_, row, k int) float32 {
		return float32(10*row + k)
	}

	feeder := NewStationaryFeeder(cfg, dims, read, out, false)
	drainFeeder(t, feeder.Tick, feeder.Done)

	// Row 0 goes to the last channel, row 1 to the first, once per k.
	for k := 0; k < dims.K; k++ {
		if got := out[1].Pop()[0]; got != float32(k) {
			t.Fatalf("k=%d: expected row 0 value %d on the last channel, got %v", k, k, got)
		}
		if got := out[0].Pop()[0]; got != float32(10+k) {
			t.Fatalf("k=%d: expected row 1 value %d on the first channel, got %v", k, 10+k, got)
		}
	}
}

func TestStationaryRaggedZeroInjection(t *testing.T) {
	dims := tensor.ArrayDims{Batch: 1, N: 3, K: 2, M: 2}
	cfg := testConfig(t, dims, 2, 2, 1, 0)

	out := []*graph.Fifo{
		graph.NewFifo("a_pipe_0", 64),
		graph.NewFifo("a_pipe_1", 64),
	}
	read := func(_, row, k int) float32 {
		if row >= dims.N {
			t.Fatalf("read issued for row %d past the operand", row)
		}
		return 1
	}

	feeder := NewStationaryFeeder(cfg, dims, read, out, false)
	drainFeeder(t, feeder.Tick, feeder.Done)

	// Second row block holds rows 2 and 3; row 3 is ragged and must be zero.
	// Channel 0 carries rows 1 and 3, K values per block each.
	for k := 0; k < dims.K; k++ {
		if got := out[0].Pop()[0]; got != 1 {
			t.Fatalf("expected row 1 data in the first block, got %v", got)
		}
	}
	for k := 0; k < dims.K; k++ {
		if got := out[0].Pop()[0]; got != 0 {
			t.Fatalf("expected zero for the ragged row, got %v", got)
		}
	}
}

func TestStationaryBurstSendsWholeBlock(t *testing.T) {
	dims := tensor.ArrayDims{Batch: 1, N: 4, K: 4, M: 1}
	cfg := testConfig(t, dims, 4, 1, 1, 0)

	out := make([]*graph.Fifo, cfg.P)
	for i := range out {
		out[i] = graph.NewFifo("a", 16)
	}
	read := func(_, row, k int) float32 { return float32(row) }

	feeder := NewStationaryFeeder(cfg, dims, read, out, true)
	if !feeder.Tick() {
		t.Fatalf("expected the first burst to go through")
	}
	for i, fifo := range out {
		if fifo.Len() != 1 {
			t.Fatalf("channel %d: expected one word after one burst cycle, got %d", i, fifo.Len())
		}
	}
}

func TestMovingOrderAndReplication(t *testing.T) {
	dims := tensor.ArrayDims{Batch: 1, N: 4, K: 2, M: 4}
	cfg := testConfig(t, dims, 2, 2, 1, 0)

	out := graph.NewFifo("b_pipe_0", 1024)
	read := func(_, k, col int) float32 {
		return float32(10*k + col)
	}

	feeder := NewMovingFeeder(cfg, dims, read, out)
	drainFeeder(t, feeder.Tick, feeder.Done)

	// 2 row blocks x 2 tiles x 2 contractions x 2 words, replicated streams.
	if out.Len() != 16 {
		t.Fatalf("expected 16 words, got %d", out.Len())
	}
	for n0 := 0; n0 < 2; n0++ {
		for tm := 0; tm < 2; tm++ {
			for k := 0; k < 2; k++ {
				for m := 0; m < 2; m++ {
					want := float32(10*k + tm*2 + m)
					if got := out.Pop()[0]; got != want {
						t.Fatalf("n0=%d tm=%d k=%d m=%d: expected %v, got %v", n0, tm, k, m, want, got)
					}
				}
			}
		}
	}
}

func TestMovingRaggedColumnsAreZero(t *testing.T) {
	dims := tensor.ArrayDims{Batch: 1, N: 2, K: 2, M: 3}
	cfg := testConfig(t, dims, 2, 2, 1, 0)

	out := graph.NewFifo("b_pipe_0", 1024)
	read := func(_, k, col int) float32 {
		if col >= dims.M {
			t.Fatalf("read issued for column %d past the operand", col)
		}
		return 1
	}

	feeder := NewMovingFeeder(cfg, dims, read, out)
	drainFeeder(t, feeder.Tick, feeder.Done)

	// Tiles are (0,1) and (2,3); column 3 is ragged.
	expected := []float32{1, 1, 1, 1, 1, 0, 1, 0}
	for i, want := range expected {
		if got := out.Pop()[0]; got != want {
			t.Fatalf("word %d: expected %v, got %v", i, want, got)
		}
	}
}

func TestIm2colMatchesDirectGather(t *testing.T) {
	geom := ConvGeom{
		Channels: 2,
		KernelH:  3,
		KernelW:  3,
		InH:      4,
		InW:      4,
		OutH:     4,
		OutW:     4,
		Pad:      1,
	}
	dims := tensor.ArrayDims{
		Batch: 1,
		N:     2,
		K:     geom.Channels * geom.KernelArea(),
		M:     geom.OutH * geom.OutW,
	}
	cfg := testConfig(t, dims, 2, 3*geom.OutW, 1, geom.OutW)

	x, err := tensor.NewView("X", []int{1, geom.Channels, geom.InH, geom.InW}, tensor.Float32, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := range x.Data {
		x.Data[i] = float32(i + 1)
	}

	out := graph.NewFifo("b_pipe_0", 1<<16)
	feeder := NewIm2colFeeder(cfg, dims, geom, x, out)
	drainFeeder(t, feeder.Tick, feeder.Done)

	rowBlocks := cfg.RowBlocks(dims)
	tiles := cfg.Tiles(dims)
	for n0 := 0; n0 < rowBlocks; n0++ {
		for tm := 0; tm < tiles; tm++ {
			for k := 0; k < dims.K; k++ {
				for m := 0; m < cfg.TVec; m++ {
					col := tm*cfg.T + m
					var want float32
					if col < dims.M {
						c := k / geom.KernelArea()
						ky := (k % geom.KernelArea()) / geom.KernelW
						kx := k % geom.KernelW
						inY := col/geom.OutW + ky - geom.Pad
						inX := col%geom.OutW + kx - geom.Pad
						if inY >= 0 && inY < geom.InH && inX >= 0 && inX < geom.InW {
							want = x.At(0, c, inY, inX)
						}
					}
					if got := out.Pop()[0]; got != want {
						t.Fatalf("n0=%d tm=%d k=%d m=%d: expected %v, got %v", n0, tm, k, m, want, got)
					}
				}
			}
		}
	}
}

func TestIm2colVectorizedMatchesScalar(t *testing.T) {
	geom := ConvGeom{
		Channels: 1,
		KernelH:  3,
		KernelW:  3,
		InH:      8,
		InW:      8,
		OutH:     8,
		OutW:     8,
		Pad:      1,
	}
	dims := tensor.ArrayDims{Batch: 1, N: 1, K: geom.KernelArea(), M: geom.OutH * geom.OutW}

	build := func(vecWidth int) []float32 {
		cfg := testConfig(t, dims, 1, geom.OutW*6, vecWidth, geom.OutW)
		x, err := tensor.NewView("X", []int{1, 1, geom.InH, geom.InW}, tensor.Float32, vecWidth)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		for i := range x.Data {
			x.Data[i] = float32(i%13) - 6
		}

		out := graph.NewFifo("b_pipe_0", 1<<16)
		feeder := NewIm2colFeeder(cfg, dims, geom, x, out)
		drainFeeder(t, feeder.Tick, feeder.Done)

		values := make([]float32, 0, out.Len()*vecWidth)
		for out.CanPop() {
			values = append(values, out.Pop()...)
		}
		return values
	}

	scalar := build(1)
	vectorized := build(4)
	if len(scalar) != len(vectorized) {
		t.Fatalf("expected equal stream lengths, got %d vs %d", len(scalar), len(vectorized))
	}
	for i := range scalar {
		if scalar[i] != vectorized[i] {
			t.Fatalf("lane %d: expected %v, got %v", i, scalar[i], vectorized[i])
		}
	}
}
