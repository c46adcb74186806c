// Package controller implements the multi-step
// network-management exchanges (add/remove/replace/route) that a
// ctlcmd.Command represents. It builds each kind's initiating frame and
// advances the command's state from the status bytes the controller sends
// back. The status byte values are fixed by the Serial API wire format, so
// they are reproduced verbatim rather than renumbered.
package controller

import ("zwavehost/ctlcmd"
	"zwavehost/message"
	"zwavehost/serialapi")

// Add/RemoveNode status bytes: ADD_NODE_STATUS_* and REMOVE_NODE_STATUS_*
// share the same numeric values in the Serial API.
const (statusLearnReady = 0x01
	statusNodeFound = 0x02
	statusAddingSlave = 0x03
	statusAddingController = 0x04
	statusProtocolDone = 0x05
	statusDone = 0x06
	statusFailed = 0x07)

// FailedNode status bytes returned by IS_FAILED_NODE_ID/REMOVE_FAILED_NODE_ID.
const (FailedNodeOK = 0x00
	FailedNodeRemoved = 0x01
	FailedNodeNotRemoved = 0x02
	FailedNodeReplaceWaiting = 0x03
	FailedNodeReplaceDone = 0x04
	FailedNodeReplaceFailed = 0x05
	FailedNodeNotFound = 0x06
	FailedNodeRemoveProcessBusy = 0x07
	FailedNodeRemoveFail = 0x08
	FailedNodeNotPrimaryController = 0x09)

// AddMode/RemoveMode bits for the ADD_NODE_TO_NETWORK/REMOVE_NODE_FROM_NETWORK
// payload's mode byte.
const (ModeAny byte = 0x01
	ModeStop byte = 0x05
	ModeStopFailed byte = 0x06)

// secureAddFlag marks a Command's Arg as requesting a Security-CC
// inclusion ("the add-device path").
const secureAddFlag = 1

// Outcome reports what a status frame changed about cmd, so the driver
// knows whether to start a node interview or resume a sleeping command.
type Outcome struct {
	// StartInterview is set when the command collected enough protocol
	// info to begin InitNode without re-querying it ("the
	// protocol-info blob... is fed directly to InitNode").
	StartInterview bool
	NodeID byte
	ProtocolInfo []byte

	// Stopped indicates BuildStop's frame should now be sent (the
	// PROTOCOL_DONE/FAILED transitions ask the controller to leave the
	// add/remove window automatically).
	Stopped bool
}

// BuildStart returns the initiating Serial API message for cmd.Kind.
func BuildStart(cmd *ctlcmd.Command) *message.Message {
	switch cmd.Kind {
	case ctlcmd.AddDevice:
		mode := ModeAny
		return message.New(0xFF, serialapi.FuncAddNodeToNetwork, []byte{mode})
	case ctlcmd.RemoveDevice:
		return message.New(0xFF, serialapi.FuncRemoveNodeFromNetwork, []byte{ModeAny})
	case ctlcmd.RemoveFailedNode:
		return message.New(0xFF, serialapi.FuncRemoveFailedNodeID, []byte{cmd.Target})
	case ctlcmd.HasNodeFailed:
		return message.New(0xFF, serialapi.FuncIsFailedNodeID, []byte{cmd.Target})
	case ctlcmd.ReplaceFailedNode:
		return message.New(0xFF, serialapi.FuncReplaceFailedNode, []byte{cmd.Target})
	case ctlcmd.RequestNodeNeighborUpdate, ctlcmd.RequestNodeNeighbors:
		return message.New(cmd.Target, serialapi.FuncRequestNodeNeighborUpdate, []byte{cmd.Target})
	case ctlcmd.AssignReturnRoute:
		return message.New(cmd.Target, serialapi.FuncAssignReturnRoute, []byte{cmd.Target, byte(cmd.Arg)})
	case ctlcmd.AssignSUCReturnRoute:
		return message.New(cmd.Target, serialapi.FuncAssignReturnRoute, []byte{cmd.Target, 0xFE})
	case ctlcmd.DeleteAllReturnRoutes:
		return message.New(cmd.Target, serialapi.FuncDeleteReturnRoute, []byte{cmd.Target})
	case ctlcmd.SendNodeInformation:
		return message.New(cmd.Target, serialapi.FuncSendNodeInformation, []byte{cmd.Target})
	case ctlcmd.RequestNetworkUpdate:
		return message.New(0xFF, serialapi.FuncRequestNetworkUpdate, nil)
	case ctlcmd.CreateNewPrimary:
		return message.New(0xFF, serialapi.FuncCreateNewPrimary, []byte{ModeAny})
	case ctlcmd.TransferPrimaryRole, ctlcmd.ReceiveConfiguration:
		return message.New(0xFF, serialapi.FuncControllerChange, []byte{ModeAny})
	case ctlcmd.SetLearnMode:
		return message.New(0xFF, serialapi.FuncSetLearnMode, []byte{ModeAny})
	case ctlcmd.EnableSUC:
		return message.New(0xFF, serialapi.FuncEnableSUC, []byte{0x01})
	case ctlcmd.SetSUCNodeID:
		return message.New(0xFF, serialapi.FuncSetSUCNodeID, []byte{cmd.Target, 0x01})
	case ctlcmd.ReplicationSend:
		return message.New(cmd.Target, serialapi.FuncSendData, nil)
	default:
		return message.New(0xFF, serialapi.FuncGetVersion, nil)
	}
}

// BuildStop returns the cancel/"stop" frame for a cancellable cmd, or
// (nil, false) if cmd.Kind doesn't support cancellation (// "commands that don't support cancel... return cancel-not-supported").
func BuildStop(cmd *ctlcmd.Command) (*message.Message, bool) {
	if !ctlcmd.SupportsCancel(cmd.Kind) {
		return nil, false
	}
	switch cmd.Kind {
	case ctlcmd.AddDevice:
		return message.New(0xFF, serialapi.FuncAddNodeToNetwork, []byte{ModeStop}), true
	case ctlcmd.RemoveDevice:
		return message.New(0xFF, serialapi.FuncRemoveNodeFromNetwork, []byte{ModeStop}), true
	case ctlcmd.CreateNewPrimary:
		return message.New(0xFF, serialapi.FuncCreateNewPrimary, []byte{ModeStop}), true
	case ctlcmd.TransferPrimaryRole, ctlcmd.ReceiveConfiguration:
		return message.New(0xFF, serialapi.FuncControllerChange, []byte{ModeStop}), true
	case ctlcmd.SetLearnMode:
		return message.New(0xFF, serialapi.FuncSetLearnMode, []byte{0x00}), true
	default:
		return nil, false
	}
}

// HandleAddRemoveStatus advances cmd from one ADD_NODE_STATUS_*/
// REMOVE_NODE_STATUS_* byte (the two families share numeric values in the
// Serial API and are dispatched through the same switch). data is the
// REQUEST payload following the function id: data[0] is the status byte;
// for ADDING_SLAVE/ADDING_CONTROLLER, data[1] is the new node id and
// data[2:] is its protocol-info blob.
func HandleAddRemoveStatus(cmd *ctlcmd.Command, data []byte) Outcome {
	if len(data) == 0 {
		return Outcome{}
	}
	switch data[0] {
	case statusLearnReady:
		cmd.State = ctlcmd.Waiting
	case statusNodeFound:
		cmd.State = ctlcmd.InProgress
	case statusAddingSlave, statusAddingController:
		cmd.State = ctlcmd.InProgress
		if len(data) > 1 {
			cmd.Target = data[1]
		}
		if len(data) > 2 {
			n := len(data) - 2
			if n > 254 {
				n = 254
			}
			cmd.ProtocolInfo = append([]byte(nil), data[2:2+n]...)
		}
	case statusProtocolDone:
		return Outcome{Stopped: true}
	case statusDone:
		cmd.State = ctlcmd.Completed
		if cmd.Target != 0 && cmd.Target != 0xFF {
			return Outcome{StartInterview: true, NodeID: cmd.Target, ProtocolInfo: cmd.ProtocolInfo}
		}
	case statusFailed:
		cmd.State = ctlcmd.Failed
		return Outcome{Stopped: true}
	}
	return Outcome{}
}

// HandleFailedNodeStatus advances a RemoveFailedNode/ReplaceFailedNode/
// HasNodeFailed command from its single-byte reply.
func HandleFailedNodeStatus(cmd *ctlcmd.Command, status byte) {
	switch status {
	case FailedNodeOK, FailedNodeRemoved, FailedNodeReplaceDone:
		cmd.State = ctlcmd.Completed
	case FailedNodeNotRemoved, FailedNodeReplaceFailed, FailedNodeNotFound,
		FailedNodeRemoveProcessBusy, FailedNodeRemoveFail, FailedNodeNotPrimaryController:
		cmd.State = ctlcmd.Failed
	case FailedNodeReplaceWaiting:
		cmd.State = ctlcmd.Waiting
	}
}

// IsSecureAdd reports whether cmd requests Security-CC inclusion (it
// "secure-add flag").
func IsSecureAdd(cmd *ctlcmd.Command) bool { return cmd.Arg == secureAddFlag }
