package misc

import (
	"encoding/json"
	"os"
	"strings"
)

type ConfigLoader struct{}

type hardwareProfile struct {
	ParallelismCeiling int `json:"parallelism_ceiling"`
	ScalarLatency      int `json:"scalar_latency"`
	VectorLatency      int `json:"vector_latency"`
	MinPartialDepth    int `json:"min_partial_depth"`
}

var globalProfile = hardwareProfile{
	ParallelismCeiling: 16,
	ScalarLatency:      11,
	VectorLatency:      16,
	MinPartialDepth:    24,
}

// ConfigureRuntime applies an optional JSON profile override named by the
// profile_path option. Fields absent from the file keep their defaults.
func ConfigureRuntime(parser *CommandLineParser) {
	if parser == nil {
		return
	}

	profile_path := strings.TrimSpace(parser.StringParameter("profile_path"))
	if profile_path == "" {
		return
	}

	bytes, read_err := os.ReadFile(profile_path)
	if read_err != nil {
		panic(read_err)
	}

	if unmarshal_err := json.Unmarshal(bytes, &globalProfile); unmarshal_err != nil {
		panic(unmarshal_err)
	}

	if globalProfile.ParallelismCeiling <= 0 ||
		globalProfile.ScalarLatency <= 0 ||
		globalProfile.VectorLatency <= 0 ||
		globalProfile.MinPartialDepth <= 0 {
		panic("hardware profile values must be positive")
	}
}

func (this *ConfigLoader) Init() {}

func (this *ConfigLoader) ParallelismCeiling() int {
	return globalProfile.ParallelismCeiling
}

func (this *ConfigLoader) ScalarLatency() int {
	return globalProfile.ScalarLatency
}

func (this *ConfigLoader) VectorLatency() int {
	return globalProfile.VectorLatency
}

func (this *ConfigLoader) MinPartialDepth() int {
	return globalProfile.MinPartialDepth
}
