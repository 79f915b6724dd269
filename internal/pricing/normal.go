package pricing

import "gonum.org/v1/gonum/stat/distuv"

// normCDF is the standard normal cumulative distribution function.
func normCDF(x float64) float64 {
	return distuv.UnitNormal.CDF(x)
}

// normPDF is the standard normal density.
func normPDF(x float64) float64 {
	return distuv.UnitNormal.Prob(x)
}

// normInv is the standard normal quantile. It panics when p is outside
// [0,1]; callers range-check first.
func normInv(p float64) float64 {
	return distuv.UnitNormal.Quantile(p)
}
