package priors

// ZTF returns the default priors for the Zwicky Transient Facility g and r
// bands, with r as the reference band. Log-scaled quantities are given in
// log10 units.
func ZTF() *MultibandPriors {
	r := CurvePriors{
		Amp:        {Low: 1.0, High: 6.0, Mean: 3.0, Std: 1.0},
		Beta:       {Low: 0.0, High: 0.03, Mean: 0.0052, Std: 0.0035},
		Gamma:      {Low: -2.0, High: 2.5, Mean: 1.1482, Std: 0.4},
		T0:         {Low: -100.0, High: 100.0, Mean: -5.0, Std: 10.0},
		TauRise:    {Low: -1.0, High: 1.57, Mean: 0.5, Std: 0.5},
		TauFall:    {Low: 0.5, High: 3.0, Mean: 1.4, Std: 0.3},
		ExtraSigma: {Low: -5.0, High: -0.5, Mean: -1.6, Std: 0.3},
	}
	g := CurvePriors{
		Amp:        {Low: -1.0, High: 1.0, Mean: 0.0, Std: 0.1},
		Beta:       {Low: -0.02, High: 0.02, Mean: 0.0, Std: 0.005},
		Gamma:      {Low: -0.3, High: 0.3, Mean: 0.0, Std: 0.05},
		T0:         {Low: -10.0, High: 10.0, Mean: 0.0, Std: 2.0},
		TauRise:    {Low: -0.5, High: 0.5, Mean: 0.0, Std: 0.1},
		TauFall:    {Low: -0.5, High: 0.5, Mean: 0.0, Std: 0.1},
		ExtraSigma: {Low: -1.0, High: 1.0, Mean: 0.0, Std: 0.3},
	}
	mp, err := NewMultibandPriors("r", []BandPriors{{Band: "r", Priors: r}, {Band: "g", Priors: g}})
	if err != nil {
		// Static table; failure here is a programming error.
		panic(err)
	}
	return mp
}
