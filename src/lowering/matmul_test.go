package lowering

import (
	"math"
	"math/rand"
	"testing"

	"sysarray/src/lowering/plan"
	"sysarray/src/reference"
	"sysarray/src/tensor"
)

func testOptions(p, tile, vecWidth int) Options {
	return Options{
		P:        p,
		T:        tile,
		VecWidth: vecWidth,
		Profile: plan.Profile{
			ParallelismCeiling: 16,
			ScalarLatency:      3,
			VectorLatency:      4,
			MinPartialDepth:    4,
		},
	}
}

func randomView(t *testing.T, name string, shape []int, vecWidth int, seed int64) *tensor.View {
	t.Helper()
	view, err := tensor.NewView(name, shape, tensor.Float32, vecWidth)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	random := rand.New(rand.NewSource(seed))
	for i := range view.Data {
		view.Data[i] = random.Float32()*2 - 1
	}
	return view
}

func runPipeline(t *testing.T, p *Pipeline) {
	t.Helper()
	if err := p.Run(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Steps() != p.ExpectedSteps() {
		t.Fatalf("expected %d logical steps, got %d", p.ExpectedSteps(), p.Steps())
	}
}

func checkClose(t *testing.T, got, want *tensor.View) {
	t.Helper()
	if len(got.Data) != len(want.Data) {
		t.Fatalf("expected %d outputs, got %d", len(want.Data), len(got.Data))
	}
	// Every sizing in the suite keeps the contraction extent inside one cache
	// block of the oracle, so both sides accumulate in ascending contraction
	// order and the tight bound is safe.
	for i := range got.Data {
		diff := math.Abs(float64(got.Data[i]) - float64(want.Data[i]))
		limit := 1e-6 * (1 + math.Abs(float64(want.Data[i])))
		if diff > limit {
			t.Fatalf("element %d: expected %v, got %v", i, want.Data[i], got.Data[i])
		}
	}
}

func TestMatMulAgainstReference(t *testing.T) {
	a := randomView(t, "A", []int{6, 6}, 1, 1)
	b := randomView(t, "B", []int{6, 6}, 1, 2)
	want, err := reference.MatMul(a, b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sizings := []struct{ p, tile int }{
		{1, 0},
		{2, 0},
		{3, 0},
		{6, 0},
		{2, 4},
		{3, 2},
	}
	for _, sizing := range sizings {
		pipeline, buildErr := BuildMatMul(testOptions(sizing.p, sizing.tile, 0), a, b)
		if buildErr != nil {
			t.Fatalf("p=%d t=%d: unexpected error: %v", sizing.p, sizing.tile, buildErr)
		}
		runPipeline(t, pipeline)
		checkClose(t, pipeline.Output(), want)
	}
}

func TestMatMulRejectsOversizedPeCount(t *testing.T) {
	a := randomView(t, "A", []int{8, 4}, 1, 1)
	b := randomView(t, "B", []int{4, 8}, 1, 2)

	_, err := BuildMatMul(testOptions(5, 0, 0), a, b)
	if err == nil {
		t.Fatalf("expected an error for pe count above the contraction extent")
	}
	if !IsConfigurationInvalid(err) {
		t.Fatalf("expected configuration_invalid, got %v", err)
	}
}

func TestMatMulRaggedExtents(t *testing.T) {
	a := randomView(t, "A", []int{5, 3}, 1, 3)
	b := randomView(t, "B", []int{3, 7}, 1, 4)
	want, err := reference.MatMul(a, b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	pipeline, buildErr := BuildMatMul(testOptions(3, 4, 0), a, b)
	if buildErr != nil {
		t.Fatalf("unexpected error: %v", buildErr)
	}
	runPipeline(t, pipeline)
	checkClose(t, pipeline.Output(), want)
}

func TestMatMulBatched(t *testing.T) {
	a := randomView(t, "A", []int{2, 4, 3}, 1, 5)
	b := randomView(t, "B", []int{2, 3, 4}, 1, 6)
	want, err := reference.MatMul(a, b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	pipeline, buildErr := BuildMatMul(testOptions(0, 0, 0), a, b)
	if buildErr != nil {
		t.Fatalf("unexpected error: %v", buildErr)
	}
	runPipeline(t, pipeline)
	checkClose(t, pipeline.Output(), want)
}

func TestMatMulBatchedSharedB(t *testing.T) {
	a := randomView(t, "A", []int{3, 4, 4}, 1, 7)
	b := randomView(t, "B", []int{4, 4}, 1, 8)
	want, err := reference.MatMul(a, b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	pipeline, buildErr := BuildMatMul(testOptions(2, 0, 0), a, b)
	if buildErr != nil {
		t.Fatalf("unexpected error: %v", buildErr)
	}
	runPipeline(t, pipeline)
	checkClose(t, pipeline.Output(), want)
}

func TestMatMulVectorizedBitIdentical(t *testing.T) {
	a := randomView(t, "A", []int{4, 4}, 1, 9)
	scalarB := randomView(t, "B", []int{4, 8}, 1, 10)
	vectorB, err := tensor.WrapView("B", []int{4, 8}, tensor.Float32, 4, scalarB.Data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	scalar, buildErr := BuildMatMul(testOptions(0, 0, 0), a, scalarB)
	if buildErr != nil {
		t.Fatalf("unexpected error: %v", buildErr)
	}
	runPipeline(t, scalar)

	vectorized, buildErr := BuildMatMul(testOptions(0, 0, 0), a, vectorB)
	if buildErr != nil {
		t.Fatalf("unexpected error: %v", buildErr)
	}
	runPipeline(t, vectorized)

	for i := range scalar.Output().Data {
		if scalar.Output().Data[i] != vectorized.Output().Data[i] {
			t.Fatalf("element %d: expected bit-identical results, got %v vs %v",
				i, scalar.Output().Data[i], vectorized.Output().Data[i])
		}
	}
}

func TestMatMulDeterministicConstruction(t *testing.T) {
	a := randomView(t, "A", []int{6, 4}, 1, 11)
	b := randomView(t, "B", []int{4, 6}, 1, 12)

	first, err := BuildMatMul(testOptions(2, 4, 0), a, b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	runPipeline(t, first)

	second, err := BuildMatMul(testOptions(2, 4, 0), a, b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	runPipeline(t, second)

	if first.Config() != second.Config() {
		t.Fatalf("expected identical configs, got %+v vs %+v", first.Config(), second.Config())
	}
	if first.Cycles() != second.Cycles() || first.Stalls() != second.Stalls() {
		t.Fatalf("expected identical cycle counts, got %d/%d vs %d/%d",
			first.Cycles(), first.Stalls(), second.Cycles(), second.Stalls())
	}
	for i := range first.Output().Data {
		if first.Output().Data[i] != second.Output().Data[i] {
			t.Fatalf("element %d: expected identical outputs", i)
		}
	}
	if len(first.Graph().Channels) != len(second.Graph().Channels) {
		t.Fatalf("expected identical channel declarations")
	}
}

func TestMatMulBurstStationarySend(t *testing.T) {
	options := Options{
		Profile: plan.Profile{ParallelismCeiling: 16, ScalarLatency: 1, VectorLatency: 1, MinPartialDepth: 1},
		P:       8,
		T:       1,
	}
	a := randomView(t, "A", []int{8, 8}, 1, 13)
	b := randomView(t, "B", []int{8, 1}, 1, 14)
	want, err := reference.MatMul(a, b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	pipeline, buildErr := BuildMatMul(options, a, b)
	if buildErr != nil {
		t.Fatalf("unexpected error: %v", buildErr)
	}
	if !pipeline.Config().BurstSend(16) {
		t.Fatalf("expected this sizing to use the burst send")
	}
	runPipeline(t, pipeline)
	checkClose(t, pipeline.Output(), want)
}

func TestMatMulGraphDeclaration(t *testing.T) {
	a := randomView(t, "A", []int{4, 4}, 1, 22)
	b := randomView(t, "B", []int{4, 8}, 1, 23)

	pipeline, err := BuildMatMul(testOptions(2, 0, 0), a, b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	g := pipeline.Graph()
	cfg := pipeline.Config()
	if got := len(g.Channels); got != 3*cfg.P {
		t.Fatalf("expected %d channels, got %d", 3*cfg.P, got)
	}
	if got := len(g.Buffers); got != cfg.P {
		t.Fatalf("expected %d partial-sum buffers, got %d", cfg.P, got)
	}
	for _, buffer := range g.Buffers {
		if buffer.Depth != cfg.PartialDepth() {
			t.Fatalf("buffer %s: expected depth %d, got %d", buffer.Name, cfg.PartialDepth(), buffer.Depth)
		}
	}
	if got := len(g.Bindings); got != 3 {
		t.Fatalf("expected 3 tensor bindings, got %d", got)
	}
	for _, name := range []string{"a_pipe_0", "b_pipe_1", "y_pipe_1"} {
		if g.Channel(name) == nil {
			t.Fatalf("expected channel %s declared", name)
		}
	}
}

func TestCanApplyMatMulRejections(t *testing.T) {
	a2 := randomView(t, "A", []int{4, 4}, 1, 15)
	b2 := randomView(t, "B", []int{4, 4}, 1, 16)

	fourD := randomView(t, "A", []int{2, 2, 4, 4}, 1, 17)
	if err := CanApplyMatMul(fourD, b2); !IsUnsupportedShape(err) {
		t.Fatalf("expected unsupported_shape for a 4D operand, got %v", err)
	}

	mismatched := randomView(t, "B", []int{5, 4}, 1, 18)
	if err := CanApplyMatMul(a2, mismatched); !IsUnsupportedShape(err) {
		t.Fatalf("expected unsupported_shape for a contraction mismatch, got %v", err)
	}

	batchMismatchA := randomView(t, "A", []int{2, 4, 4}, 1, 19)
	batchMismatchB := randomView(t, "B", []int{3, 4, 4}, 1, 20)
	if err := CanApplyMatMul(batchMismatchA, batchMismatchB); !IsUnsupportedShape(err) {
		t.Fatalf("expected unsupported_shape for a batch mismatch, got %v", err)
	}

	vectorizedA := randomView(t, "A", []int{4, 4}, 4, 21)
	if err := CanApplyMatMul(vectorizedA, b2); !IsConfigurationInvalid(err) {
		t.Fatalf("expected configuration_invalid for a vectorized stationary operand, got %v", err)
	}

	if err := CanApplyMatMul(a2, b2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
