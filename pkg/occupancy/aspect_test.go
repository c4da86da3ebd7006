package occupancy

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func time1(seconds int) time.Duration { return time.Duration(seconds) * time.Second }

func TestThresholdPolicy_Buckets(t *testing.T) {
	p := DefaultAspectPolicy()
	tests := []struct {
		wait time.Duration
		want Aspect
	}{
		{0, Proceed},
		{-time.Second, Proceed},
		{3 * time.Second, ProceedWithCaution},
		{5 * time.Second, ProceedWithCaution},
		{15 * time.Second, Caution},
		{30 * time.Second, Caution},
		{60 * time.Second, Stop},
	}
	for _, tt := range tests {
		if got := p.Aspect(tt.wait); got != tt.want {
			t.Errorf("Aspect(%v) = %v, want %v", tt.wait, got, tt.want)
		}
	}
}

func TestThresholdPolicy_Monotone(t *testing.T) {
	p := DefaultAspectPolicy()
	properties := gopter.NewProperties(nil)

	properties.Property("longer waits are never less restrictive", prop.ForAll(
		func(a, b int64) bool {
			if a > b {
				a, b = b, a
			}
			return p.Aspect(time.Duration(a)*time.Millisecond) <= p.Aspect(time.Duration(b)*time.Millisecond)
		},
		gen.Int64Range(0, 120_000),
		gen.Int64Range(0, 120_000),
	))
	properties.TestingRun(t)
}

func TestAspectFuncOverride(t *testing.T) {
	strict := AspectFunc(func(wait time.Duration) Aspect {
		if wait > 0 {
			return Stop
		}
		return Proceed
	})
	if strict.Aspect(time.Millisecond) != Stop {
		t.Error("Custom policy should be honoured")
	}
}

func TestParseAspect(t *testing.T) {
	for a := Proceed; a <= Stop; a++ {
		got, err := ParseAspect(a.String())
		if err != nil || got != a {
			t.Errorf("ParseAspect(%q) = %v, %v", a, got, err)
		}
	}
	if _, err := ParseAspect("green"); err == nil {
		t.Error("Expected unknown aspect to fail")
	}
	if MoreRestrictive(Caution, ProceedWithCaution) != Caution {
		t.Error("MoreRestrictive should pick the stricter aspect")
	}
}

func TestAuthorityPolicy(t *testing.T) {
	p := DefaultAuthorityPolicy() // b = 1, factor 2

	// v = 4 -> braking distance 8
	if d := p.BrakingDistance(4); d != 8 {
		t.Fatalf("BrakingDistance(4) = %v, want 8", d)
	}
	tests := []struct {
		authority float64
		want      Aspect
	}{
		{0, Stop},
		{7, Stop},
		{8, Caution},
		{15, Caution},
		{16, ProceedWithCaution},
		{32, Proceed},
	}
	for _, tt := range tests {
		if got := p.Aspect(4, tt.authority); got != tt.want {
			t.Errorf("Aspect(4, %v) = %v, want %v", tt.authority, got, tt.want)
		}
	}
	if got := p.Aspect(0, 1); got != Proceed {
		t.Errorf("A standing train with authority should proceed, got %v", got)
	}
}
