// Package ctlcmd defines ControllerCommand, the multi-step
// network-management command: its kind, state machine, and the
// argument/protocol-info payload carried between steps.
package ctlcmd

// Kind enumerates the controller-command family ("enum of
// ~16").
type Kind int

const (AddDevice Kind = iota
	RemoveDevice
	RemoveFailedNode
	ReplaceFailedNode
	HasNodeFailed
	RequestNodeNeighborUpdate
	AssignReturnRoute
	DeleteAllReturnRoutes
	SendNodeInformation
	ReplicationSend
	CreateNewPrimary
	TransferPrimaryRole
	ReceiveConfiguration
	RequestNetworkUpdate
	RequestNodeNeighbors
	AssignSUCReturnRoute
	EnableSUC
	SetSUCNodeID
	SetLearnMode)

// State is the lifecycle a ControllerCommand moves through.
type State int

const (Normal State = iota
	Waiting
	InProgress
	Completed
	Failed
	Error
	Cancel
	NodeOK
	NodeFailed
	Sleeping)

func (s State) String() string {
	switch s {
	case Normal:
		return "Normal"
	case Waiting:
		return "Waiting"
	case InProgress:
		return "InProgress"
	case Completed:
		return "Completed"
	case Failed:
		return "Failed"
	case Error:
		return "Error"
	case Cancel:
		return "Cancel"
	case NodeOK:
		return "NodeOK"
	case NodeFailed:
		return "NodeFailed"
	case Sleeping:
		return "Sleeping"
	default:
		return "Unknown"
	}
}

// cancelSupported lists kinds that support a cancel/stop frame; commands
// that don't support cancel return cancel-not-supported instead.
var cancelSupported = map[Kind]bool{
	AddDevice: true,
	RemoveDevice: true,
	CreateNewPrimary: true,
	TransferPrimaryRole: true,
	ReceiveConfiguration: true,
	SetLearnMode: true,
}

// SupportsCancel reports whether k can be cancelled mid-flight.
func SupportsCancel(k Kind) bool { return cancelSupported[k] }

// Command is one in-flight or queued controller command.
type Command struct {
	Kind Kind
	State State
	Target byte // node id argument, where applicable
	Arg int // e.g. button id or secure-add flag

	Done chan State

	// ProtocolInfo is the blob collected from
	// ADD_NODE_STATUS_ADDING_SLAVE/CONTROLLER so InitNode can start the
	// interview without re-fetching ProtocolInfo.
	ProtocolInfo []byte

	// Saved is set when the command was deferred to a sleeping target's
	// wake-up queue; its state flips to Sleeping and it is resumed on
	// the next wake-up beam.
	Saved bool
}

// New() creates a Command in its initial Normal state.
func New(kind Kind, target byte, arg int) *Command {
	return &Command{Kind: kind, State: Normal, Target: target, Arg: arg, Done: make(chan State, 1)}
}

// SetState transitions the command and, for terminal states, notifies Done.
func (c *Command) SetState(s State) {
	c.State = s
	switch s {
	case Completed, Failed, Error, Cancel, NodeOK, NodeFailed:
		select {
		case c.Done <- s:
		default:
		}
	}
}
