package lowering

import (
	"testing"

	"sysarray/src/reference"
)

func TestGemmAgainstReference(t *testing.T) {
	a := randomView(t, "A", []int{4, 5}, 1, 30)
	b := randomView(t, "B", []int{6, 5}, 1, 31)
	c := randomView(t, "C", []int{6}, 1, 32)
	want, err := reference.Gemm(a, b, c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	pipeline, buildErr := BuildGemm(testOptions(0, 0, 0), a, b, c, GemmAttrs{Alpha: 1, Beta: 1, TransB: true})
	if buildErr != nil {
		t.Fatalf("unexpected error: %v", buildErr)
	}
	runPipeline(t, pipeline)
	checkClose(t, pipeline.Output(), want)
}

func TestGemmWithoutBias(t *testing.T) {
	a := randomView(t, "A", []int{4, 4}, 1, 33)
	b := randomView(t, "B", []int{4, 4}, 1, 34)
	want, err := reference.Gemm(a, b, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	pipeline, buildErr := BuildGemm(testOptions(2, 0, 0), a, b, nil, GemmAttrs{Alpha: 1, Beta: 1, TransB: true})
	if buildErr != nil {
		t.Fatalf("unexpected error: %v", buildErr)
	}
	runPipeline(t, pipeline)
	checkClose(t, pipeline.Output(), want)

	if got := len(pipeline.Graph().Bindings); got != 3 {
		t.Fatalf("expected 3 tensor bindings without a bias, got %d", got)
	}
}

func TestGemmVectorizedOutput(t *testing.T) {
	a := randomView(t, "A", []int{4, 4}, 1, 35)
	b := randomView(t, "B", []int{8, 4}, 1, 36)
	c := randomView(t, "C", []int{8}, 1, 37)

	scalar, err := BuildGemm(testOptions(0, 0, 1), a, b, c, GemmAttrs{Alpha: 1, Beta: 1, TransB: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	runPipeline(t, scalar)

	vectorized, err := BuildGemm(testOptions(0, 0, 4), a, b, c, GemmAttrs{Alpha: 1, Beta: 1, TransB: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	runPipeline(t, vectorized)

	if vectorized.Output().VecWidth != 4 {
		t.Fatalf("expected the output to keep vector width 4, got %d", vectorized.Output().VecWidth)
	}
	for i := range scalar.Output().Data {
		if scalar.Output().Data[i] != vectorized.Output().Data[i] {
			t.Fatalf("element %d: expected bit-identical results, got %v vs %v",
				i, scalar.Output().Data[i], vectorized.Output().Data[i])
		}
	}
}

func TestCanApplyGemmRejections(t *testing.T) {
	a := randomView(t, "A", []int{4, 4}, 1, 38)
	b := randomView(t, "B", []int{4, 4}, 1, 39)
	c := randomView(t, "C", []int{4}, 1, 40)

	tests := []struct {
		name  string
		attrs GemmAttrs
	}{
		{"alpha", GemmAttrs{Alpha: 2, Beta: 1, TransB: true}},
		{"beta", GemmAttrs{Alpha: 1, Beta: 0, TransB: true}},
		{"transA", GemmAttrs{Alpha: 1, Beta: 1, TransA: true, TransB: true}},
		{"no transB", GemmAttrs{Alpha: 1, Beta: 1}},
	}
	for _, test := range tests {
		if err := CanApplyGemm(a, b, c, test.attrs); !IsApplicabilityRejected(err) {
			t.Fatalf("%s: expected applicability_rejected, got %v", test.name, err)
		}
	}

	threeD := randomView(t, "A", []int{2, 4, 4}, 1, 41)
	if err := CanApplyGemm(threeD, b, c, GemmAttrs{Alpha: 1, Beta: 1, TransB: true}); !IsUnsupportedShape(err) {
		t.Fatalf("expected unsupported_shape for a 3D operand, got %v", err)
	}

	badBias := randomView(t, "C", []int{5}, 1, 42)
	if err := CanApplyGemm(a, b, badBias, GemmAttrs{Alpha: 1, Beta: 1, TransB: true}); !IsUnsupportedShape(err) {
		t.Fatalf("expected unsupported_shape for a bias length mismatch, got %v", err)
	}

	vectorizedB := randomView(t, "B", []int{4, 4}, 4, 43)
	if err := CanApplyGemm(a, vectorizedB, c, GemmAttrs{Alpha: 1, Beta: 1, TransB: true}); !IsConfigurationInvalid(err) {
		t.Fatalf("expected configuration_invalid for a vectorized transposed operand, got %v", err)
	}

	if err := CanApplyGemm(a, b, nil, GemmAttrs{Alpha: 1, Beta: 1, TransB: true}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestGemmRejectsIndivisibleVectorWidth(t *testing.T) {
	a := randomView(t, "A", []int{4, 4}, 1, 44)
	b := randomView(t, "B", []int{6, 4}, 1, 45)

	_, err := BuildGemm(testOptions(0, 0, 4), a, b, nil, GemmAttrs{Alpha: 1, Beta: 1, TransB: true})
	if !IsConfigurationInvalid(err) {
		t.Fatalf("expected configuration_invalid for a width that does not divide the output, got %v", err)
	}
}
