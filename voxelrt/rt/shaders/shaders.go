// Package shaders embeds the worldgen compute shaders, one
// go:embed constant per shader, for the two-pass SDF/brush generation
// pipeline.
package shaders

import (
	_ "embed"
)

//go:embed worldgen_sdf.wgsl
var WorldgenSDFWGSL string

//go:embed worldgen_brush.wgsl
var WorldgenBrushWGSL string
