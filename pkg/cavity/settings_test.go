package cavity

import (
	"errors"
	"math"
	"testing"
)

const tol = 1e-12

func TestAbsRelConversion(t *testing.T) {
	s := New(1, 3, Phi0Abs, 352.2, 704.4)
	s.SetPhiRF(1)
	rel, err := s.Phi0Rel()
	if err != nil {
		t.Fatalf("phi_0_rel: %v", err)
	}
	if math.Abs(rel-4) > tol {
		t.Fatalf("phi_0_rel = %v, want 4", rel)
	}

	r := New(1, 3, Phi0Rel, 352.2, 704.4)
	r.SetPhiRF(1)
	abs, err := r.Phi0Abs()
	if err != nil {
		t.Fatalf("phi_0_abs: %v", err)
	}
	if math.Abs(abs-2) > tol {
		t.Fatalf("phi_0_abs = %v, want 2", abs)
	}
}

func TestConversionWrapsIntoRange(t *testing.T) {
	if v := AbsToRel(6, 1); v < 0 || v >= 2*math.Pi || math.Abs(v-(7-2*math.Pi)) > tol {
		t.Fatalf("AbsToRel(6, 1) = %v", v)
	}
	if v := RelToAbs(0.5, 1); math.Abs(v-(2*math.Pi-0.5)) > tol {
		t.Fatalf("RelToAbs(0.5, 1) = %v", v)
	}
}

func TestMissingPhiRF(t *testing.T) {
	s := New(1, 3, Phi0Abs, 352.2, 352.2)
	if _, err := s.Phi0Rel(); !errors.Is(err, ErrMissingAttribute) {
		t.Fatalf("expected ErrMissingAttribute, got %v", err)
	}
	if err := s.SetReference(Phi0Rel); !errors.Is(err, ErrMissingAttribute) {
		t.Fatalf("expected ErrMissingAttribute from SetReference, got %v", err)
	}
	if s.Reference() != Phi0Abs || s.Phase() != 3 {
		t.Fatalf("failed SetReference must not change state: %v", s)
	}
	if _, err := s.PhiS(); !errors.Is(err, ErrMissingAttribute) {
		t.Fatalf("phi_s without integration: %v", err)
	}
}

func TestReferenceRoundTrip(t *testing.T) {
	s := New(1, 1.2, Phi0Abs, 352.2, 352.2)
	s.SetPhiRF(5.5)
	want, _ := s.Phi0Abs()
	rel, _ := s.Phi0Rel()

	if err := s.SetReference(Phi0Rel); err != nil {
		t.Fatalf("to rel: %v", err)
	}
	if math.Abs(s.Phase()-rel) > tol {
		t.Fatalf("phase after switch = %v, want %v", s.Phase(), rel)
	}
	if err := s.SetReference(Phi0Abs); err != nil {
		t.Fatalf("to abs: %v", err)
	}
	got, _ := s.Phi0Abs()
	if math.Abs(got-want) > 1e-10 {
		t.Fatalf("round trip gave %v, want %v", got, want)
	}
}

func TestSetPhiRFInvalidatesMemo(t *testing.T) {
	s := New(1, 0.5, Phi0Abs, 352.2, 352.2)
	s.SetPhiRF(1)
	first, _ := s.Phi0Rel()
	s.SetPhiRF(2)
	second, _ := s.Phi0Rel()
	if math.Abs(second-first-1) > tol {
		t.Fatalf("memo not invalidated: %v then %v", first, second)
	}
}

func TestSyncPhaseReference(t *testing.T) {
	calls := 0
	sync := func(phi0Rel float64) (float64, error) {
		calls++
		return phi0Rel - math.Pi, nil
	}
	s := New(1, -0.5, PhiS, 352.2, 352.2)
	if _, err := s.Phi0Rel(); !errors.Is(err, ErrMissingAttribute) {
		t.Fatalf("phi_s reference without solver: %v", err)
	}
	s.SetSyncPhaseFunc(sync)
	rel, err := s.Phi0Rel()
	if err != nil {
		t.Fatalf("solve: %v", err)
	}
	if math.Abs(rel-(math.Pi-0.5)) > 1e-8 {
		t.Fatalf("phi_0_rel = %v, want %v", rel, math.Pi-0.5)
	}
	n := calls
	if _, err := s.Phi0Rel(); err != nil || calls != n {
		t.Fatalf("second call should be memoised (calls %d -> %d, err %v)", n, calls, err)
	}
	s.SetPhiRF(1)
	abs, err := s.Phi0Abs()
	if err != nil {
		t.Fatalf("phi_0_abs: %v", err)
	}
	if math.Abs(abs-RelToAbs(math.Pi-0.5, 1)) > 1e-8 {
		t.Fatalf("phi_0_abs = %v", abs)
	}
}

func TestSyncPhaseUnreachable(t *testing.T) {
	s := New(1, 2.5, PhiS, 352.2, 352.2)
	s.SetSyncPhaseFunc(func(x float64) (float64, error) { return 0.1 * math.Sin(x), nil })
	if _, err := s.Phi0Rel(); err == nil {
		t.Fatal("expected an error for an unreachable synchronous phase")
	}
}

func TestSetCavityParameters(t *testing.T) {
	s := New(1, 0.5, Phi0Rel, 352.2, 352.2)
	if !math.IsNaN(s.VCav()) {
		t.Fatalf("VCav before integration = %v", s.VCav())
	}
	s.SetCavityParameters(1.5, -0.3)
	phiS, err := s.PhiS()
	if err != nil || phiS != -0.3 || s.VCav() != 1.5 {
		t.Fatalf("cavity parameters = %v %v %v", s.VCav(), phiS, err)
	}
	s.SetKE(2)
	if _, err := s.PhiS(); !errors.Is(err, ErrMissingAttribute) {
		t.Fatalf("phi_s must be dropped after SetKE, got %v", err)
	}
}

func TestFailedCavityHasZeroAmplitude(t *testing.T) {
	s := New(1.3, 0.5, Phi0Rel, 352.2, 352.2)
	s.SetStatus(Failed)
	if s.EffectiveKE() != 0 || s.KE() != 1.3 {
		t.Fatalf("effective k_e = %v, k_e = %v", s.EffectiveKE(), s.KE())
	}
}

func TestFrequencyConversion(t *testing.T) {
	s := New(1, 0, Phi0Rel, 352.2, 704.4)
	if v := s.RFPhaseToBunchPhase(2); math.Abs(v-1) > tol {
		t.Fatalf("rf to bunch = %v", v)
	}
	if v := s.BunchPhaseToRFPhase(1); math.Abs(v-2) > tol {
		t.Fatalf("bunch to rf = %v", v)
	}
}

func TestParseStatusAndReference(t *testing.T) {
	st, err := ParseStatus("compensate (ok)")
	if err != nil || st != CompensateOK {
		t.Fatalf("ParseStatus = %v, %v", st, err)
	}
	if _, err := ParseStatus("broken"); err == nil {
		t.Fatal("expected error for unknown status")
	}
	ref, err := ParseReference("phi_s")
	if err != nil || ref != PhiS {
		t.Fatalf("ParseReference = %v, %v", ref, err)
	}
}

func TestSetCloneAndMerge(t *testing.T) {
	base := Set{
		3: New(1, 0.1, Phi0Rel, 352.2, 352.2),
		7: New(1, 0.2, Phi0Rel, 352.2, 352.2),
	}
	c := base.Clone()
	c[3].SetKE(2)
	if base[3].KE() != 1 {
		t.Fatal("clone aliases the original settings")
	}

	fix := Set{7: New(1.2, 0.4, Phi0Rel, 352.2, 352.2)}
	fix[7].SetStatus(CompensateOK)
	m := base.Merge(fix)
	if len(m) != 2 || m[7].KE() != 1.2 || m[3].KE() != 1 {
		t.Fatalf("merge = %v", m)
	}
	if got := m.WithStatus(CompensateOK); len(got) != 1 || got[0] != 7 {
		t.Fatalf("WithStatus = %v", got)
	}
	if idx := m.Indices(); idx[0] != 3 || idx[1] != 7 {
		t.Fatalf("Indices = %v", idx)
	}
}
