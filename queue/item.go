// Package queue implements the seven-priority FIFO
// scheduler and the MsgQueueItem tagged union it carries.
package queue

import ("zwavehost/ctlcmd"
	"zwavehost/message"
	"zwavehost/stage"
	"zwavehost/value")

// ItemKind tags which variant of MsgQueueItem an Item holds.
type ItemKind int

const (ItemSendMsg ItemKind = iota
	ItemQueryStageComplete
	ItemController
	ItemReloadNode
	ItemPollValue)

// Item is its MsgQueueItem: a tagged union over the five kinds of
// work the scheduler moves between queues.
type Item struct {
	Kind ItemKind

	Msg *message.Message

	NodeID byte
	Stage stage.Stage

	Command *ctlcmd.Command

	ValueID value.ID
}

// SendMsg wraps a Message for the scheduler.
func SendMsg(m *message.Message) Item { return Item{Kind: ItemSendMsg, Msg: m, NodeID: m.NodeID} }

// QueryStageComplete records that nodeID finished stage st.
func QueryStageComplete(nodeID byte, st stage.Stage) Item {
	return Item{Kind: ItemQueryStageComplete, NodeID: nodeID, Stage: st}
}

// ControllerItem wraps a network-management command.
func ControllerItem(cmd *ctlcmd.Command) Item {
	return Item{Kind: ItemController, NodeID: cmd.Target, Command: cmd}
}

// ReloadNode requests a full re-interview of nodeID.
func ReloadNode(nodeID byte) Item { return Item{Kind: ItemReloadNode, NodeID: nodeID} }

// PollValue requests a Poll-priority refresh of id (step 5).
func PollValue(id value.ID) Item { return Item{Kind: ItemPollValue, NodeID: id.NodeID, ValueID: id} }
