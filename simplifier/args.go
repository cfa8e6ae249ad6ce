package simplifier

import "github.com/akila/mesh-simplifier/models"

// Flags understood by the vcg-simplifier CLI. The binary matches them by
// exact spelling.
const (
	FlagInput            = "-i"
	FlagOutput           = "-o"
	FlagRatio            = "-r"
	FlagTargetCount      = "-tc"
	FlagQuality          = "-q"
	FlagTextureWeight    = "-tw"
	FlagBoundaryWeight   = "-bw"
	FlagPreserveBoundary = "-pb"
	FlagPreserveTopology = "-pt"
)

// ArgCount is the length of every argument vector BuildArgs returns.
const ArgCount = 19

// BuildArgs lays out the command line for one job: executable first, then
// flag/value pairs in a fixed order. Values are not validated; the
// simplifier is the only judge of what it accepts.
func BuildArgs(exe, input, output string, p models.Params) []string {
	return []string{
		exe,
		FlagInput, input,
		FlagOutput, output,
		FlagRatio, p.Ratio,
		FlagTargetCount, p.TargetCount,
		FlagQuality, p.Quality,
		FlagTextureWeight, p.TextureWeight,
		FlagBoundaryWeight, p.BoundaryWeight,
		FlagPreserveBoundary, boolArg(p.PreserveBoundary),
		FlagPreserveTopology, boolArg(p.PreserveTopology),
	}
}

func boolArg(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
