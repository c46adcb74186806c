// Package notification implements the ~30-variant
// notification tagged union and the watcher bus that delivers it.
package notification

import "zwavehost/value"

// Kind tags a Notification's variant (glossary "Notification").
type Kind int

const (NodeAdded Kind = iota
	NodeRemoved
	NodeReset
	NodeQueriesComplete
	AllNodesQueried
	AllNodesQueriedSomeDead
	AwakeNodesQueried
	DriverReady
	DriverFailed
	DriverReset
	DriverRemoved
	ValueAdded
	ValueChanged
	ValueRefreshed
	ValueRemoved
	Group
	PollingEnabled
	PollingDisabled
	ControllerCommand
	NoOperation
	Timeout
	NotificationCode
	NodeSleep
	NodeAwake
	NodeDead
	NodeAlive
	ManufacturerSpecificDBReady
	CreateButton
	DeleteButton
	ButtonOn
	ButtonOff
	UserAlert)

func (k Kind) String() string {
	names := [...]string{
		"NodeAdded", "NodeRemoved", "NodeReset", "NodeQueriesComplete",
		"AllNodesQueried", "AllNodesQueriedSomeDead", "AwakeNodesQueried",
		"DriverReady", "DriverFailed", "DriverReset", "DriverRemoved",
		"ValueAdded", "ValueChanged", "ValueRefreshed", "ValueRemoved",
		"Group", "PollingEnabled", "PollingDisabled", "ControllerCommand",
		"NoOperation", "Timeout", "NotificationCode", "NodeSleep", "NodeAwake",
		"NodeDead", "NodeAlive", "ManufacturerSpecificDBReady",
		"CreateButton", "DeleteButton", "ButtonOn", "ButtonOff", "UserAlert",
	}
	if int(k) >= 0 && int(k) < len(names) {
		return names[k]
	}
	return "Unknown"
}

// UserAlertKind distinguishes the sub-kinds of a UserAlert notification
// (glossary: "UserAlert sub-kinds").
type UserAlertKind int

const (UserAlertNone UserAlertKind = iota
	UserAlertMsgComplete
	UserAlertConfigFileDownload
	UserAlertDNSError
	UserAlertNonceGenerationFailed
	UserAlertKeySetupFailed)

// Notification is one tagged-union event. Only the fields relevant to
// Kind are meaningful; the rest are zero.
type Notification struct {
	Kind Kind
	HomeID uint32
	NodeID byte
	ValueID value.ID
	UserAlert UserAlertKind
	Comment string
	ButtonID byte
}
