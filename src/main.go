package main

import (
	"fmt"
	"math/rand"
	"os"

	"sysarray/src/lowering"
	"sysarray/src/lowering/plan"
	"sysarray/src/misc"
	"sysarray/src/reference"
	"sysarray/src/tensor"
)

func main() {
	command_line_parser := InitCommandLineParser()
	command_line_parser.Parse(os.Args)

	if command_line_parser.IsArgSet("help") {
		fmt.Printf("%s\n", command_line_parser.StringifyHelpMsgs())
		return
	}

	command_line_validator := new(misc.CommandLineValidator)
	command_line_validator.Init(command_line_parser)
	command_line_validator.Validate()

	misc.ConfigureRuntime(command_line_parser)

	config_loader := new(misc.ConfigLoader)
	config_loader.Init()

	profile := plan.Profile{
		ParallelismCeiling: config_loader.ParallelismCeiling(),
		ScalarLatency:      config_loader.ScalarLatency(),
		VectorLatency:      config_loader.VectorLatency(),
		MinPartialDepth:    config_loader.MinPartialDepth(),
	}

	options := lowering.Options{
		P:        int(command_line_parser.IntParameter("num_pes")),
		T:        int(command_line_parser.IntParameter("tile_size")),
		VecWidth: int(command_line_parser.IntParameter("vec_width")),
		Profile:  profile,
	}

	random := rand.New(rand.NewSource(command_line_parser.IntParameter("seed")))

	pipeline, build_err := BuildPipeline(command_line_parser, options, random)
	if build_err != nil {
		if lowering.IsRecoverable(build_err) {
			fmt.Printf("lowering rejected, falling back to the host kernel: %v\n", build_err)
			RunReference(command_line_parser)
			return
		}
		panic(build_err)
	}

	for !pipeline.IsFinished() {
		if !pipeline.Cycle() {
			panic(fmt.Errorf("pipeline made no progress at cycle %d", pipeline.Cycles()))
		}
	}

	pipeline.Dump()

	graph_path := command_line_parser.StringParameter("graph_path")
	if graph_path != "" {
		if save_err := pipeline.Graph().SaveJson(graph_path); save_err != nil {
			panic(save_err)
		}
		fmt.Printf("graph written to %s\n", graph_path)
	}
}

func BuildPipeline(
	command_line_parser *misc.CommandLineParser,
	options lowering.Options,
	random *rand.Rand,
) (*lowering.Pipeline, error) {
	kernel := command_line_parser.StringParameter("kernel")
	batch := int(command_line_parser.IntParameter("batch"))
	vec_width := int(command_line_parser.IntParameter("vec_width"))

	switch kernel {
	case "matmul":
		n := int(command_line_parser.IntParameter("n"))
		k := int(command_line_parser.IntParameter("k"))
		m := int(command_line_parser.IntParameter("m"))

		a_shape := []int{n, k}
		b_shape := []int{k, m}
		if batch > 1 {
			a_shape = []int{batch, n, k}
			b_shape = []int{batch, k, m}
		}

		a := RandomView("A", a_shape, 1, random)
		b := RandomView("B", b_shape, vec_width, random)
		return lowering.BuildMatMul(options, a, b)

	case "gemm":
		n := int(command_line_parser.IntParameter("n"))
		k := int(command_line_parser.IntParameter("k"))
		m := int(command_line_parser.IntParameter("m"))

		a := RandomView("A", []int{n, k}, 1, random)
		b := RandomView("B", []int{m, k}, 1, random)
		c := RandomView("C", []int{m}, 1, random)
		return lowering.BuildGemm(options, a, b, c, lowering.GemmAttrs{
			Alpha:  1,
			Beta:   1,
			TransB: true,
		})

	case "conv":
		channels := int(command_line_parser.IntParameter("channels"))
		height := int(command_line_parser.IntParameter("height"))
		width := int(command_line_parser.IntParameter("width"))
		filters := int(command_line_parser.IntParameter("filters"))
		kernel_size := int(command_line_parser.IntParameter("kernel_size"))
		padding := int(command_line_parser.IntParameter("padding"))

		x := RandomView("X", []int{batch, channels, height, width}, vec_width, random)
		w := RandomView("W", []int{filters, channels, kernel_size, kernel_size}, 1, random)
		bias := RandomView("B", []int{filters}, 1, random)
		return lowering.BuildConv(options, x, w, bias, lowering.ConvParams{
			Pads: [4]int{padding, padding, padding, padding},
		})

	default:
		panic(fmt.Errorf("kernel %s is not supported", kernel))
	}
}

func RunReference(command_line_parser *misc.CommandLineParser) {
	kernel := command_line_parser.StringParameter("kernel")
	batch := int(command_line_parser.IntParameter("batch"))
	random := rand.New(rand.NewSource(command_line_parser.IntParameter("seed")))

	var y *tensor.View
	var err error
	switch kernel {
	case "matmul":
		n := int(command_line_parser.IntParameter("n"))
		k := int(command_line_parser.IntParameter("k"))
		m := int(command_line_parser.IntParameter("m"))
		a_shape := []int{n, k}
		b_shape := []int{k, m}
		if batch > 1 {
			a_shape = []int{batch, n, k}
			b_shape = []int{batch, k, m}
		}
		y, err = reference.MatMul(
			RandomView("A", a_shape, 1, random),
			RandomView("B", b_shape, 1, random),
		)
	case "gemm":
		n := int(command_line_parser.IntParameter("n"))
		k := int(command_line_parser.IntParameter("k"))
		m := int(command_line_parser.IntParameter("m"))
		y, err = reference.Gemm(
			RandomView("A", []int{n, k}, 1, random),
			RandomView("B", []int{m, k}, 1, random),
			RandomView("C", []int{m}, 1, random),
		)
	case "conv":
		channels := int(command_line_parser.IntParameter("channels"))
		height := int(command_line_parser.IntParameter("height"))
		width := int(command_line_parser.IntParameter("width"))
		filters := int(command_line_parser.IntParameter("filters"))
		kernel_size := int(command_line_parser.IntParameter("kernel_size"))
		padding := int(command_line_parser.IntParameter("padding"))
		y, err = reference.Conv2D(
			RandomView("X", []int{batch, channels, height, width}, 1, random),
			RandomView("W", []int{filters, channels, kernel_size, kernel_size}, 1, random),
			RandomView("B", []int{filters}, 1, random),
			padding,
		)
	}
	if err != nil {
		panic(err)
	}

	var checksum float64
	for _, value := range y.Data {
		checksum += float64(value)
	}
	fmt.Printf("host kernel done: %d outputs, checksum %.6f\n", len(y.Data), checksum)
}

func RandomView(name string, shape []int, vec_width int, random *rand.Rand) *tensor.View {
	view, err := tensor.NewView(name, shape, tensor.Float32, vec_width)
	if err != nil {
		panic(err)
	}
	for i := range view.Data {
		view.Data[i] = random.Float32()*2 - 1
	}
	return view
}

func InitCommandLineParser() *misc.CommandLineParser {
	command_line_parser := new(misc.CommandLineParser)
	command_line_parser.Init()

	command_line_parser.AddOption(misc.STRING, "help", "", "print this help message")

	command_line_parser.AddOption(misc.STRING, "kernel", "matmul",
		"kernel to lower (matmul|gemm|conv)")

	command_line_parser.AddOption(misc.INT, "num_pes", "0",
		"number of processing elements (0 derives it from the row extent)")
	command_line_parser.AddOption(misc.INT, "tile_size", "0",
		"output-column tile width in elements (0 derives it from the column extent)")
	command_line_parser.AddOption(misc.INT, "vec_width", "1",
		"vector width of the moving operand and the result")

	command_line_parser.AddOption(misc.INT, "batch", "1", "batch extent")
	command_line_parser.AddOption(misc.INT, "n", "16", "rows of the stationary operand")
	command_line_parser.AddOption(misc.INT, "k", "16", "contraction extent")
	command_line_parser.AddOption(misc.INT, "m", "16", "columns of the moving operand")

	command_line_parser.AddOption(misc.INT, "channels", "3", "convolution input channels")
	command_line_parser.AddOption(misc.INT, "height", "8", "convolution input height")
	command_line_parser.AddOption(misc.INT, "width", "8", "convolution input width")
	command_line_parser.AddOption(misc.INT, "filters", "8", "convolution filter count")
	command_line_parser.AddOption(misc.INT, "kernel_size", "3", "convolution kernel size")
	command_line_parser.AddOption(misc.INT, "padding", "1", "convolution symmetric padding")

	command_line_parser.AddOption(misc.STRING, "profile_path", "",
		"path to a hardware profile JSON overriding the defaults")
	command_line_parser.AddOption(misc.STRING, "graph_path", "",
		"path to write the declared graph JSON to")

	command_line_parser.AddOption(misc.INT, "seed", "0", "seed for the generated operand data")

	return command_line_parser
}
