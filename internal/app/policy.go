package app

// QualityPolicy decides the room-wide media-quality directive from the
// active headcount. The orchestrator only owns the recompute hook; the
// actual heuristic is pluggable.
type QualityPolicy interface {
	Directive(activeCount int) string
}

type SimpleQualityPolicy struct{}

func (SimpleQualityPolicy) Directive(activeCount int) string {
	switch {
	case activeCount <= 2:
		return "high"
	case activeCount <= 8:
		return "medium"
	default:
		return "low"
	}
}
