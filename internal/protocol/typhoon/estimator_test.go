package typhoon

import "testing"

func newTestEstimator() *Estimator {
	return NewEstimator(0.125, 0.25, 1000, 8000, 4, 4000, 32000, 5000, 30000)
}

func TestEstimatorClampsRTT(t *testing.T) {
	e := newTestEstimator()

	e.Sample(50)
	if e.EstimatedRTT() != 1000 {
		t.Errorf("estimated RTT = %v, want floor 1000", e.EstimatedRTT())
	}

	for i := 0; i < 100; i++ {
		e.Sample(60000)
	}
	if e.EstimatedRTT() != 8000 {
		t.Errorf("estimated RTT = %v, want ceiling 8000", e.EstimatedRTT())
	}
}

func TestEstimatorClampsTimeout(t *testing.T) {
	e := newTestEstimator()
	if e.Timeout() != 30000 {
		t.Errorf("default timeout = %v, want 30000", e.Timeout())
	}

	e.Sample(100)
	if e.Timeout() != 4000 {
		t.Errorf("timeout = %v, want floor 4000", e.Timeout())
	}

	for i := 0; i < 100; i++ {
		e.Sample(60000)
	}
	if e.Timeout() != 32000 {
		t.Errorf("timeout = %v, want ceiling 32000", e.Timeout())
	}
}

func TestEstimatorSmoothing(t *testing.T) {
	e := newTestEstimator()
	e.Sample(2000)
	e.Sample(4000)

	wantSRTT := 0.875*2000 + 0.125*4000
	if e.EstimatedRTT() != wantSRTT {
		t.Errorf("smoothed RTT = %v, want %v", e.EstimatedRTT(), wantSRTT)
	}

	// rttvar's deviation term uses the srtt from before the second sample
	// (2000, giving |2000-4000| = 2000), not the updated 2250.
	wantRTTVar := 0.75*1000 + 0.25*2000
	if got := e.Timeout(); got != wantSRTT+4*wantRTTVar {
		t.Errorf("timeout = %v, want srtt %v + 4*rttvar %v", got, wantSRTT, wantRTTVar)
	}
}
