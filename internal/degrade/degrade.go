// Package degrade derives the service degradation level from circuit breaker
// states and decides which capabilities stay on at each level.
package degrade

// Level orders service capability from everything to cache-only.
type Level int

const (
	Full Level = iota
	Degraded
	Minimal
	Emergency
)

func (l Level) String() string {
	switch l {
	case Full:
		return "full"
	case Degraded:
		return "degraded"
	case Minimal:
		return "minimal"
	case Emergency:
		return "emergency"
	}
	return "unknown"
}

// FromStates maps per-backend breaker states ("closed", "half-open", "open")
// onto a level. Half-open counts as available: probes are already flowing.
//
//	full       every breaker closed or probing
//	degraded   a non-core backend is open (market, embed)
//	minimal    a retrieval backend or the LM is open; fast rule-based
//	           answers only
//	emergency  the LM and both retrieval backends are open; serve cache
func FromStates(states map[string]string) Level {
	open := func(name string) bool { return states[name] == "open" }

	if open("lm") && open("graph") && open("search") {
		return Emergency
	}
	if open("lm") || (open("graph") && open("search")) {
		return Minimal
	}
	if open("graph") || open("search") || open("market") || open("embed") {
		return Degraded
	}
	return Full
}

// DeepAllowed reports whether the deep pipeline may run at this level.
func (l Level) DeepAllowed() bool { return l <= Degraded }

// RetrievalAllowed reports whether live backend retrieval may run.
func (l Level) RetrievalAllowed() bool { return l < Emergency }
