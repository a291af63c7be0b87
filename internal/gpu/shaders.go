//go:build !nogpu

package gpu

import (
	_ "embed"
	"encoding/binary"
	"fmt"

	"github.com/gogpu/naga"
)

//go:embed shaders/stencil.wgsl
var stencilShaderWGSL string

// compileStencilShader compiles the stencil shader to SPIR-V words.
func compileStencilShader() ([]uint32, error) {
	return compileSPIRV(stencilShaderWGSL)
}

// compileSPIRV compiles WGSL source with naga and returns the module as
// little-endian 32-bit words.
func compileSPIRV(wgsl string) ([]uint32, error) {
	spirv, err := naga.Compile(wgsl)
	if err != nil {
		return nil, fmt.Errorf("compile shader: %w", err)
	}
	if len(spirv)%4 != 0 {
		return nil, fmt.Errorf("compile shader: SPIR-V length %d is not a multiple of 4", len(spirv))
	}

	code := make([]uint32, len(spirv)/4)
	for i := range code {
		code[i] = binary.LittleEndian.Uint32(spirv[i*4:])
	}
	return code, nil
}
