// Package stage enumerates the ordered node-interview pipeline.
package stage

// Stage is one step of a node's interview. Order matters: Next returns the
// following stage in the fixed sequence.
type Stage int

const (
	None Stage = iota
	ProtocolInfo
	Probe
	WakeUp
	NodeInfo
	NodePlusInfo
	ManufacturerSpecific1
	Versions
	Instances
	Static
	Security
	CacheLoad
	Associations
	Neighbors
	Session
	Dynamic
	Configuration
	Complete
)

var ordered = []Stage{
	None, ProtocolInfo, Probe, WakeUp, NodeInfo, NodePlusInfo,
	ManufacturerSpecific1, Versions, Instances, Static, Security,
	CacheLoad, Associations, Neighbors, Session, Dynamic, Configuration,
	Complete,
}

var names = map[Stage]string{
	None:                  "None",
	ProtocolInfo:          "ProtocolInfo",
	Probe:                 "Probe",
	WakeUp:                "WakeUp",
	NodeInfo:              "NodeInfo",
	NodePlusInfo:          "NodePlusInfo",
	ManufacturerSpecific1: "ManufacturerSpecific1",
	Versions:              "Versions",
	Instances:             "Instances",
	Static:                "Static",
	Security:              "Security",
	CacheLoad:             "CacheLoad",
	Associations:          "Associations",
	Neighbors:             "Neighbors",
	Session:               "Session",
	Dynamic:               "Dynamic",
	Configuration:         "Configuration",
	Complete:              "Complete",
}

func (s Stage) String() string {
	if n, ok := names[s]; ok {
		return n
	}
	return "Unknown"
}

// Next returns the stage following s in the fixed interview order. Calling
// Next(Complete) returns Complete.
func Next(s Stage) Stage {
	for i, cur := range ordered {
		if cur == s && i+1 < len(ordered) {
			return ordered[i+1]
		}
	}
	return Complete
}

// Before reports whether a occurs strictly earlier than b in interview
// order.
func Before(a, b Stage) bool {
	ia, ib := indexOf(a), indexOf(b)
	return ia < ib
}

// AtLeast reports whether s has reached or passed target. Used by the
// cache to gate serialization on CacheLoad.
func AtLeast(s, target Stage) bool {
	return indexOf(s) >= indexOf(target)
}

func indexOf(s Stage) int {
	for i, cur := range ordered {
		if cur == s {
			return i
		}
	}
	return -1
}
