package typhoon

import "math"

// Estimator tracks TYPHOON's round-trip estimate using the same smoothed
// moving-average construction TCP uses for its retransmission timer
// (Jacobson/Karels): an exponentially weighted mean (srtt) and an
// exponentially weighted mean absolute deviation (rttvar). Not safe for
// concurrent use — callers hold the client's lock around every access.
type Estimator struct {
	alpha, beta                float64
	minRTT, maxRTT             float64
	rttMult                    float64
	minTimeout, maxTimeout     float64
	defaultRTT, defaultTimeout float64
	srtt, rttvar               float64
	hasSample                  bool
}

// NewEstimator builds an Estimator from the TYPHOON tunables, all expressed
// in milliseconds.
func NewEstimator(alpha, beta, minRTT, maxRTT, rttMult, minTimeout, maxTimeout, defaultRTT, defaultTimeout float64) *Estimator {
	return &Estimator{
		alpha: alpha, beta: beta,
		minRTT: minRTT, maxRTT: maxRTT,
		rttMult:        rttMult,
		minTimeout:     minTimeout,
		maxTimeout:     maxTimeout,
		defaultRTT:     defaultRTT,
		defaultTimeout: defaultTimeout,
	}
}

func clamp(value, min, max float64) float64 {
	return math.Max(min, math.Min(max, value))
}

// Sample folds a freshly observed round-trip time (ms) into the estimate.
func (e *Estimator) Sample(rttMs float64) {
	if !e.hasSample {
		e.srtt = rttMs
		e.rttvar = rttMs / 2
		e.hasSample = true
		return
	}
	// rttvar's deviation term uses the smoothed estimate from before this
	// sample is folded in.
	newRTTVar := (1-e.beta)*e.rttvar + e.beta*math.Abs(e.srtt-rttMs)
	e.srtt = (1-e.alpha)*e.srtt + e.alpha*rttMs
	e.rttvar = newRTTVar
}

// EstimatedRTT returns the clamped current round-trip estimate in
// milliseconds, falling back to defaultRTT before the first sample.
func (e *Estimator) EstimatedRTT() float64 {
	srtt := e.defaultRTT
	if e.hasSample {
		srtt = e.srtt
	}
	return clamp(srtt, e.minRTT, e.maxRTT)
}

// Timeout returns the clamped retransmission timeout in milliseconds.
func (e *Estimator) Timeout() float64 {
	if !e.hasSample {
		return clamp(e.defaultTimeout, e.minTimeout, e.maxTimeout)
	}
	return clamp(e.srtt+e.rttMult*e.rttvar, e.minTimeout, e.maxTimeout)
}
