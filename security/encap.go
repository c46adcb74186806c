package security

import ("errors"
	"fmt")

// ErrFrameTooShort is returned when a received MessageEncap payload is too
// small to contain its fixed fields.
var ErrFrameTooShort = errors.New("security: frame too short")

// ErrAuthenticationFailed is returned when a received frame's MAC does not
// match the recomputed one ("AuthenticationFailed").
var ErrAuthenticationFailed = errors.New("security: authentication failed")

// Encapsulated is a decoded SecurityCC::MessageEncap payload.
type Encapsulated struct {
	SenderNonce [8]byte
	ReceiverNonceID byte
	SequenceByte byte
	Plaintext []byte
}

// Encapsulate builds a SecurityCC::MessageEncap payload carrying plaintext,
// encrypted under keys with the IV formed from senderNonce and
// receiverNonce (step 2). The authentication header is the MessageEncap
// command id, senderNodeID, receiverNodeID and a zero sequence byte,
// binding the tag to the specific source and destination.
func Encapsulate(keys Keys, senderNonce, receiverNonce [8]byte, senderNodeID, receiverNodeID byte, plaintext []byte) ([]byte, error) {
	iv := IV(senderNonce, receiverNonce)
	ciphertext, err := EncryptOFB(keys.EncryptKey, iv, plaintext)
	if err != nil {
		return nil, err
	}

	const sequenceByte = 0x00
	header := []byte{CmdMessageEncap, senderNodeID, receiverNodeID, sequenceByte}
	authData := append(append([]byte{}, ciphertext...), receiverNonce[0])
	tag, err := Authenticate(keys.AuthKey, iv, header, authData)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, 8+len(ciphertext)+1+MACSize)
	out = append(out, senderNonce[:]...)
	out = append(out, ciphertext...)
	out = append(out, receiverNonce[0])
	out = append(out, tag[:]...)
	return out, nil
}

// Decapsulate parses and authenticates a received SecurityCC::MessageEncap
// payload ("Receive path"). receiverNonce is the nonce this
// driver generated and previously sent via NonceReport, looked up by the
// ReceiverNonceID byte embedded in the frame.
func Decapsulate(keys Keys, receiverNonce [8]byte, senderNodeID, receiverNodeID byte, payload []byte) (Encapsulated, error) {
	var out Encapsulated
	if len(payload) < 8+1+MACSize {
		return out, ErrFrameTooShort
	}

	var senderNonce [8]byte
	copy(senderNonce[:], payload[:8])
	receiverNonceID := payload[len(payload)-MACSize-1]
	ciphertext := payload[8 : len(payload)-MACSize-1]
	var gotTag [MACSize]byte
	copy(gotTag[:], payload[len(payload)-MACSize:])

	iv := IV(senderNonce, receiverNonce)
	header := []byte{CmdMessageEncap, senderNodeID, receiverNodeID, 0x00}
	authData := append(append([]byte{}, ciphertext...), receiverNonceID)
	wantTag, err := Authenticate(keys.AuthKey, iv, header, authData)
	if err != nil {
		return out, err
	}
	if wantTag != gotTag {
		return out, ErrAuthenticationFailed
	}

	plaintext, err := EncryptOFB(keys.EncryptKey, iv, ciphertext)
	if err != nil {
		return out, fmt.Errorf("security: decrypt: %w", err)
	}

	out.SenderNonce = senderNonce
	out.ReceiverNonceID = receiverNonceID
	out.Plaintext = plaintext
	return out, nil
}
