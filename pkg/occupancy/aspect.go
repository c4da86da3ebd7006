package occupancy

import (
	"fmt"
	"strings"
	"time"

	"github.com/dd0wney/cluso-dispatch/pkg/validation"
)

// Aspect is a signal advisory, ordered from least to most restrictive.
type Aspect int

const (
	Proceed Aspect = iota
	ProceedWithCaution
	Caution
	Stop
)

var aspectNames = [...]string{"proceed", "proceed_with_caution", "caution", "stop"}

func (a Aspect) String() string {
	if a < Proceed || a > Stop {
		return fmt.Sprintf("aspect(%d)", int(a))
	}
	return aspectNames[a]
}

// ParseAspect accepts the names produced by String, case-insensitively.
func ParseAspect(s string) (Aspect, error) {
	for i, name := range aspectNames {
		if strings.EqualFold(s, name) {
			return Aspect(i), nil
		}
	}
	return Stop, fmt.Errorf("%w: unknown aspect %q", validation.ErrInvalidArgument, s)
}

// MoreRestrictive returns the stricter of a and b.
func MoreRestrictive(a, b Aspect) Aspect { return max(a, b) }

// AspectPolicy maps an estimated wait to an aspect. Implementations must be
// monotone: a longer wait never yields a less restrictive aspect.
type AspectPolicy interface {
	Aspect(wait time.Duration) Aspect
}

// AspectFunc adapts a function to AspectPolicy.
type AspectFunc func(wait time.Duration) Aspect

func (f AspectFunc) Aspect(wait time.Duration) Aspect { return f(wait) }

// ThresholdPolicy buckets waits: <=0 Proceed, <=ProceedWithCaution,
// <=Caution, otherwise Stop.
type ThresholdPolicy struct {
	ProceedWithCaution time.Duration `yaml:"proceed_with_caution" validate:"gte=0"`
	Caution            time.Duration `yaml:"caution" validate:"gtefield=ProceedWithCaution"`
}

// DefaultAspectPolicy returns the 5s / 30s thresholds.
func DefaultAspectPolicy() ThresholdPolicy {
	return ThresholdPolicy{ProceedWithCaution: 5 * time.Second, Caution: 30 * time.Second}
}

// Aspect implements AspectPolicy.
func (p ThresholdPolicy) Aspect(wait time.Duration) Aspect {
	switch {
	case wait <= 0:
		return Proceed
	case wait <= p.ProceedWithCaution:
		return ProceedWithCaution
	case wait <= p.Caution:
		return Caution
	default:
		return Stop
	}
}

// AuthorityPolicy is an advisory that compares the movement authority left
// to a train with its braking distance v²/2b. It is not a kinematics model.
type AuthorityPolicy struct {
	// Deceleration in blocks per second squared.
	Deceleration float64 `validate:"gt=0"`
	// CautionFactor scales braking distance; authority below it is Caution.
	CautionFactor float64 `validate:"gte=1"`
}

// DefaultAuthorityPolicy returns a policy with 1 block/s² braking and a
// 2x caution envelope.
func DefaultAuthorityPolicy() AuthorityPolicy {
	return AuthorityPolicy{Deceleration: 1, CautionFactor: 2}
}

// BrakingDistance returns v²/2b in blocks.
func (p AuthorityPolicy) BrakingDistance(speed float64) float64 {
	if speed <= 0 || p.Deceleration <= 0 {
		return 0
	}
	return speed * speed / (2 * p.Deceleration)
}

// Aspect maps remaining authority at the given speed to an aspect.
func (p AuthorityPolicy) Aspect(speed, authority float64) Aspect {
	braking := p.BrakingDistance(speed)
	switch {
	case authority <= 0:
		return Stop
	case authority < braking:
		return Stop
	case authority < braking*p.CautionFactor:
		return Caution
	case authority < braking*p.CautionFactor*2:
		return ProceedWithCaution
	default:
		return Proceed
	}
}
