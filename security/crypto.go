package security

import ("crypto/aes"
	"crypto/cipher"
	"fmt")

// MACSize is the length of the truncated authentication tag appended to
// every encrypted frame.
const MACSize = 8

// IV returns the 16-byte initialization vector used for both OFB encryption
// and the CBC-MAC: the sender's nonce followed by the receiver's, the
// product of the two-round nonce exchange.
func IV(senderNonce, receiverNonce [8]byte) [16]byte {
	var iv [16]byte
	copy(iv[:8], senderNonce[:])
	copy(iv[8:], receiverNonce[:])
	return iv
}

// EncryptOFB runs plaintext through AES-OFB under key and iv. OFB is its own
// inverse, so the same call decrypts ciphertext.
func EncryptOFB(key [16]byte, iv [16]byte, data []byte) ([]byte, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("security: ofb cipher: %w", err)
	}
	out := make([]byte, len(data))
	stream := cipher.NewOFB(block, iv[:])
	stream.XORKeyStream(out, data)
	return out, nil
}

// Authenticate computes the truncated CBC-MAC over header||data under
// authKey and iv: each 16-byte block (zero-padded on the final block) is
// XORed with the running MAC and AES-encrypted; the first MACSize bytes of
// the final block are the tag. This is the Security Command Class's own
// authentication scheme, not the NIST SP 800-38B CMAC construction.
func Authenticate(authKey [16]byte, iv [16]byte, header, data []byte) ([MACSize]byte, error) {
	var tag [MACSize]byte
	block, err := aes.NewCipher(authKey[:])
	if err != nil {
		return tag, fmt.Errorf("security: mac cipher: %w", err)
	}

	mac := iv
	encryptBlock := func(in [16]byte) [16]byte {
		var out [16]byte
		block.Encrypt(out[:], in[:])
		return out
	}
	mac = encryptBlock(mac)

	combined := make([]byte, 0, len(header)+len(data))
	combined = append(combined, header...)
	combined = append(combined, data...)

	for len(combined) > 0 {
		var block16 [16]byte
		n := copy(block16[:], combined)
		for i := 0; i < 16; i++ {
			block16[i] ^= mac[i]
		}
		mac = encryptBlock(block16)
		if n < len(combined) {
			combined = combined[16:]
		} else {
			combined = nil
		}
	}

	copy(tag[:], mac[:MACSize])
	return tag, nil
}
