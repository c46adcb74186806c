package txn

import "errors"

// Error taxonomy for the transaction engine ("Transaction" and
// "Acknowledgement" kinds).
var (ErrNakReceived = errors.New("txn: NAK received")
	ErrCanReceived = errors.New("txn: CAN received")
	ErrAckTimeout = errors.New("txn: ACK timeout")
	ErrTimeoutNoReply = errors.New("txn: timeout waiting for reply/callback")
	ErrMaxAttempts = errors.New("txn: max send attempts exceeded")
	ErrWriteShort = errors.New("txn: short write to transport")
	ErrDropped = errors.New("txn: message dropped"))
