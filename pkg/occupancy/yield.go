package occupancy

// YieldPolicy decides whether a train should hold back for contenders, the
// other trains holding or queued on the resources it wants.
type YieldPolicy interface {
	ShouldYield(req Request, contenders []string) bool
}

// NeverYield is the default policy.
type NeverYield struct{}

func (NeverYield) ShouldYield(Request, []string) bool { return false }

// PriorityYield yields to any contender with a strictly higher priority.
type PriorityYield struct {
	Priority func(trainID string) int
}

func (p PriorityYield) ShouldYield(req Request, contenders []string) bool {
	if p.Priority == nil {
		return false
	}
	mine := p.Priority(req.TrainID)
	for _, c := range contenders {
		if p.Priority(c) > mine {
			return true
		}
	}
	return false
}
