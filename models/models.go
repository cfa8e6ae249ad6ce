package models

import (
	"mime/multipart"
	"time"
)

// Form field names accepted by the simplify endpoint.
const (
	FieldFile             = "file"
	FieldRatio            = "ratio"
	FieldTargetCount      = "target_count"
	FieldQuality          = "quality"
	FieldTextureWeight    = "texture_weight"
	FieldBoundaryWeight   = "boundary_weight"
	FieldPreserveBoundary = "preserve_boundary"
	FieldPreserveTopology = "preserve_topology"
)

// Defaults applied when a form field is absent.
const (
	DefaultRatio          = "0.5"
	DefaultTargetCount    = "0"
	DefaultQuality        = "0.3"
	DefaultTextureWeight  = "1.0"
	DefaultBoundaryWeight = "1.0"
)

// FlagTrue is the only form value that turns a boolean flag on.
const FlagTrue = "true"

// Params are the simplification settings of one job. Numeric settings keep the
// caller's text so the simplifier binary sees exactly what was submitted.
type Params struct {
	Ratio            string `json:"ratio"`
	TargetCount      string `json:"target_count"`
	Quality          string `json:"quality"`
	TextureWeight    string `json:"texture_weight"`
	BoundaryWeight   string `json:"boundary_weight"`
	PreserveBoundary bool   `json:"preserve_boundary"`
	PreserveTopology bool   `json:"preserve_topology"`
}

// DefaultParams returns the settings used when the request sets nothing.
func DefaultParams() Params {
	return Params{
		Ratio:          DefaultRatio,
		TargetCount:    DefaultTargetCount,
		Quality:        DefaultQuality,
		TextureWeight:  DefaultTextureWeight,
		BoundaryWeight: DefaultBoundaryWeight,
	}
}

// ParseFlag maps a form value onto a bool. Only "true" is true; any other
// value, including "on" and "1", is false.
func ParseFlag(v string) bool {
	return v == FlagTrue
}

// ParseParams builds Params from submitted form values. A field that is present
// is used verbatim even when empty; only missing fields fall back to defaults.
func ParseParams(values map[string][]string) Params {
	p := DefaultParams()
	p.Ratio = formValue(values, FieldRatio, p.Ratio)
	p.TargetCount = formValue(values, FieldTargetCount, p.TargetCount)
	p.Quality = formValue(values, FieldQuality, p.Quality)
	p.TextureWeight = formValue(values, FieldTextureWeight, p.TextureWeight)
	p.BoundaryWeight = formValue(values, FieldBoundaryWeight, p.BoundaryWeight)
	p.PreserveBoundary = ParseFlag(formValue(values, FieldPreserveBoundary, ""))
	p.PreserveTopology = ParseFlag(formValue(values, FieldPreserveTopology, ""))
	return p
}

func formValue(values map[string][]string, key, def string) string {
	vs, ok := values[key]
	if !ok || len(vs) == 0 {
		return def
	}
	return vs[0]
}

// JobRequest is one upload plus the settings it was submitted with.
type JobRequest struct {
	ID        string
	File      multipart.File
	Filename  string
	Extension string
	Params    Params
}

// Entry is the pair of workspace paths owned by one request.
type Entry struct {
	ID         string
	InputPath  string
	OutputPath string
}

// JobResult is what the runner observed from one simplifier process.
type JobResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Success reports whether the process exited cleanly.
func (r *JobResult) Success() bool {
	return r != nil && r.ExitCode == 0
}

// Artifact is the file produced by a successful simplification.
type Artifact struct {
	Path     string
	Duration time.Duration
}
