package security

import ("zwavehost/message"
	"zwavehost/serialapi")

// NonceGetMessage builds the callback-id-2 NonceGet message sent ahead of
// an encrypted payload (step 1). Its reply is awaited by the
// transaction engine via ExpectedReply, the same as any other message.
func NonceGetMessage(nodeID byte) *message.Message {
	m := message.New(nodeID, serialapi.FuncSendData, []byte{nodeID, 0x02, CommandClassID, CmdNonceGet})
	m.CallbackID = message.CallbackNonceGet
	m.ExpectedReply = serialapi.FuncSendData
	m.ExpectedCommandClassID = CommandClassID
	return m
}

// PrepareEncryptedSend consumes the nonce reported in a NonceReport and
// returns the SecurityCC::MessageEncap payload for plaintext, ready to be
// sent with an ordinary (non-reserved) callback id (step 2).
func PrepareEncryptedSend(keys Keys, nonces *NonceStore, controllerNodeID, targetNodeID byte, receiverNonceReportBytes []byte, plaintext []byte) ([]byte, error) {
	var receiverNonce [8]byte
	copy(receiverNonce[:], receiverNonceReportBytes)

	senderNonce, err := nonces.Generate()
	if err != nil {
		return nil, err
	}
	return Encapsulate(keys, senderNonce, receiverNonce, controllerNodeID, targetNodeID, plaintext)
}
