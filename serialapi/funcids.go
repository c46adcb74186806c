package serialapi

// Serial API function identifiers consumed by the core. Names
// mirror the Sigma Designs Serial API exactly; values are bit-exact.
const (FuncGetVersion byte = 0x15
	FuncGetControllerCapabilities byte = 0x05
	FuncSerialAPIGetCapabilities byte = 0x07
	FuncSoftReset byte = 0x08
	FuncSendData byte = 0x13
	FuncReplicationSendData byte = 0x15
	FuncRequestNodeInfo byte = 0x60
	FuncApplicationCommandHandler byte = 0x04
	FuncApplicationUpdate byte = 0x49
	FuncMemoryGetID byte = 0x20
	FuncSerialAPIGetInitData byte = 0x02
	FuncGetNodeProtocolInfo byte = 0x41
	FuncGetRoutingInfo byte = 0x80
	FuncAddNodeToNetwork byte = 0x4A
	FuncRemoveNodeFromNetwork byte = 0x4B
	FuncRemoveFailedNodeID byte = 0x61
	FuncIsFailedNodeID byte = 0x62
	FuncReplaceFailedNode byte = 0x63
	FuncSetLearnMode byte = 0x50
	FuncRequestNetworkUpdate byte = 0x53
	FuncAssignReturnRoute byte = 0x46
	FuncDeleteReturnRoute byte = 0x47
	FuncSendNodeInformation byte = 0x12
	FuncRequestNodeNeighborUpdate byte = 0x48
	FuncRequestNodeNeighborUpdate2 byte = 0x5A
	FuncGetSUCNodeID byte = 0x56
	FuncEnableSUC byte = 0x52
	FuncSetSUCNodeID byte = 0x54
	FuncGetRandom byte = 0x1C
	FuncSerialAPISetup byte = 0x0B
	FuncSetDefault byte = 0x42
	FuncControllerChange byte = 0x4D
	FuncCreateNewPrimary byte = 0x4C
	FuncSendSlaveNodeInfo byte = 0x54
	FuncSetSlaveLearnMode byte = 0x54
	FuncGetVirtualNodes byte = 0x55)

// TransmitOption bits for SEND_DATA's options byte.
const (TransmitOptionACK byte = 0x01
	TransmitOptionAutoRoute byte = 0x04
	TransmitOptionExplore byte = 0x20)

// noSourceFuncs lists replies that inherently don't carry a source node id;
// the transaction engine's isExpectedSource treats these as always-matching regardless of the
// expected node ("Expected-source matching").
var noSourceFuncs = map[byte]bool{
	FuncGetNodeProtocolInfo: true,
	FuncAssignReturnRoute: true,
	FuncSendData: true,
	FuncSendNodeInformation: true,
	FuncRequestNodeNeighborUpdate: true,
	FuncEnableSUC: true,
	FuncSetSUCNodeID: true,
	FuncGetRoutingInfo: true,
	FuncRequestNodeInfo: true,
}

// IsNoSourceFunc reports whether fn is a reply function id that never
// carries a distinguishable source node.
func IsNoSourceFunc(fn byte) bool { return noSourceFuncs[fn] }
