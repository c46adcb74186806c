package security

import "testing"

func TestDeriveKeysDeterministic(t *testing.T) {
	var networkKey [16]byte
	for i := range networkKey {
		networkKey[i] = byte(i)
	}
	k1, err := DeriveKeys(networkKey)
	if err != nil {
		t.Fatalf("DeriveKeys: %v", err)
	}
	k2, err := DeriveKeys(networkKey)
	if err != nil {
		t.Fatalf("DeriveKeys: %v", err)
	}
	if k1 != k2 {
		t.Fatal("DeriveKeys is not deterministic for the same network key")
	}
	if k1.EncryptKey == k1.AuthKey {
		t.Fatal("EncryptKey and AuthKey must differ")
	}
}

func TestDeriveKeysTemporaryInclusionKey(t *testing.T) {
	k, err := DeriveKeys(TemporaryInclusionKey)
	if err != nil {
		t.Fatalf("DeriveKeys(temp key): %v", err)
	}
	var zero [16]byte
	if k.EncryptKey == zero || k.AuthKey == zero {
		t.Fatal("derived keys from the all-zero key should not themselves be all-zero")
	}
}

// TestS5EncryptedSendRoundTrip checks that a two-round nonce exchange
// producing a ciphertext frame decapsulates back to the original
// plaintext payload.
func TestS5EncryptedSendRoundTrip(t *testing.T) {
	var networkKey [16]byte
	for i := range networkKey {
		networkKey[i] = byte(0x10 + i)
	}
	keys, err := DeriveKeys(networkKey)
	if err != nil {
		t.Fatalf("DeriveKeys: %v", err)
	}

	nonces := NewNonceStore()
	receiverNonce, err := nonces.Generate()
	if err != nil {
		t.Fatalf("generate receiver nonce: %v", err)
	}

	plaintext := []byte{0x62, 0x01, 0x01} // DoorLock::Set(locked)
	const controllerNodeID, targetNodeID byte = 1, 9

	// Round 1: we asked the target for a nonce and it reported
	// receiverNonce (generated above by a store standing in for the
	// target). Round 2: we build the ciphertext frame using that nonce as
	// the receiver nonce in the IV.
	frame, err := PrepareEncryptedSend(keys, NewNonceStore(), controllerNodeID, targetNodeID, receiverNonce[:], plaintext)
	if err != nil {
		t.Fatalf("PrepareEncryptedSend: %v", err)
	}

	decoded, err := Decapsulate(keys, receiverNonce, controllerNodeID, targetNodeID, frame)
	if err != nil {
		t.Fatalf("Decapsulate: %v", err)
	}
	if string(decoded.Plaintext) != string(plaintext) {
		t.Fatalf("round trip mismatch: got % x want % x", decoded.Plaintext, plaintext)
	}
}

func TestDecapsulateRejectsTamperedCiphertext(t *testing.T) {
	var networkKey [16]byte
	keys, _ := DeriveKeys(networkKey)
	nonces := NewNonceStore()
	receiverNonce, _ := nonces.Generate()

	frame, err := PrepareEncryptedSend(keys, NewNonceStore(), 1, 9, receiverNonce[:], []byte{0x62, 0x01, 0x01})
	if err != nil {
		t.Fatalf("PrepareEncryptedSend: %v", err)
	}
	frame[10] ^= 0xFF // corrupt a ciphertext byte

	if _, err := Decapsulate(keys, receiverNonce, 1, 9, frame); err != ErrAuthenticationFailed {
		t.Fatalf("expected ErrAuthenticationFailed, got %v", err)
	}
}

func TestNonceStoreSingleUse(t *testing.T) {
	s := NewNonceStore()
	n, err := s.Generate()
	if err != nil {
		t.Fatalf("Generate(): %v", err)
	}
	got, ok := s.Take(n[0])
	if !ok || got != n {
		t.Fatalf("expected to retrieve the generated nonce, ok=%v got=% x want=% x", ok, got, n)
	}
	if _, ok := s.Take(n[0]); ok {
		t.Fatal("expected nonce to be single-use")
	}
}

func TestNonceStoreEvictsOverCapacity(t *testing.T) {
	s := NewNonceStore()
	first, err := s.Generate()
	if err != nil {
		t.Fatalf("Generate(): %v", err)
	}
	for i := 0; i < NonceTableSize; i++ {
		if _, err := s.Generate(); err != nil {
			t.Fatalf("Generate(): %v", err)
		}
	}
	if _, ok := s.Take(first[0]); ok {
		t.Fatal("expected the oldest nonce to have been evicted once the table overflowed")
	}
}
