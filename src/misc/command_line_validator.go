package misc

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

type CommandLineValidator struct {
	command_line_parser *CommandLineParser
}

func (this *CommandLineValidator) Init(command_line_parser *CommandLineParser) {
	this.command_line_parser = command_line_parser
}

func (this *CommandLineValidator) Validate() {
	kernel := this.command_line_parser.StringParameter("kernel")
	if kernel != "matmul" && kernel != "gemm" && kernel != "conv" {
		err := fmt.Errorf("kernel %s is not supported", kernel)
		panic(err)
	}

	if this.command_line_parser.IntParameter("num_pes") < 0 {
		err := errors.New("num_pes < 0")
		panic(err)
	}

	if this.command_line_parser.IntParameter("tile_size") < 0 {
		err := errors.New("tile_size < 0")
		panic(err)
	}

	if this.command_line_parser.IntParameter("vec_width") <= 0 {
		err := errors.New("vec_width <= 0")
		panic(err)
	}

	if this.command_line_parser.IntParameter("batch") <= 0 {
		err := errors.New("batch <= 0")
		panic(err)
	}

	if kernel == "matmul" || kernel == "gemm" {
		if this.command_line_parser.IntParameter("n") <= 0 {
			err := errors.New("n <= 0")
			panic(err)
		}

		if this.command_line_parser.IntParameter("k") <= 0 {
			err := errors.New("k <= 0")
			panic(err)
		}

		if this.command_line_parser.IntParameter("m") <= 0 {
			err := errors.New("m <= 0")
			panic(err)
		}
	}

	if kernel == "conv" {
		if this.command_line_parser.IntParameter("channels") <= 0 {
			err := errors.New("channels <= 0")
			panic(err)
		}

		if this.command_line_parser.IntParameter("height") <= 0 {
			err := errors.New("height <= 0")
			panic(err)
		}

		if this.command_line_parser.IntParameter("width") <= 0 {
			err := errors.New("width <= 0")
			panic(err)
		}

		if this.command_line_parser.IntParameter("filters") <= 0 {
			err := errors.New("filters <= 0")
			panic(err)
		}

		if this.command_line_parser.IntParameter("kernel_size") <= 0 {
			err := errors.New("kernel_size <= 0")
			panic(err)
		}

		if this.command_line_parser.IntParameter("padding") < 0 {
			err := errors.New("padding < 0")
			panic(err)
		}
	}

	profile_path := strings.TrimSpace(this.command_line_parser.StringParameter("profile_path"))
	if profile_path != "" {
		if _, stat_err := os.Stat(profile_path); os.IsNotExist(stat_err) {
			err := fmt.Errorf("profile_path %s does not exist", profile_path)
			panic(err)
		}
	}

	if this.command_line_parser.IntParameter("seed") < 0 {
		err := errors.New("seed < 0")
		panic(err)
	}
}
