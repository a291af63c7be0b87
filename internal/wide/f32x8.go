package wide

// Lanes is the number of lanes in an F32x8.
const Lanes = 8

// F32x8 represents 8 float32 values for SIMD-style operations.
type F32x8 [Lanes]float32

// SplatF32 creates an F32x8 with all elements set to n.
func SplatF32(n float32) F32x8 {
	var result F32x8
	for i := range result {
		result[i] = n
	}
	return result
}

// Add performs element-wise addition.
func (v F32x8) Add(other F32x8) F32x8 {
	var result F32x8
	for i := range v {
		result[i] = v[i] + other[i]
	}
	return result
}

// Mul performs element-wise multiplication.
func (v F32x8) Mul(other F32x8) F32x8 {
	var result F32x8
	for i := range v {
		result[i] = v[i] * other[i]
	}
	return result
}

// MulAdd returns v + a*b element-wise. It is the accumulate step of a
// weighted sum.
func (v F32x8) MulAdd(a, b F32x8) F32x8 {
	return v.Add(a.Mul(b))
}
