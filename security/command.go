package security

// Security command class command ids. These are fixed by the Z-Wave
// Security Command Class and identify the first payload byte of a
// SecurityCC frame, not Serial API function ids.
const (CmdNonceGet = 0x40
	CmdNonceReport = 0x80
	CmdMessageEncap = 0x81
	CmdMessageEncapNonceGet = 0xC1
	CmdSchemeGet = 0x04
	CmdSchemeReport = 0x05
	CmdNetworkKeySet = 0x06
	CmdNetworkKeyVerify = 0x07)

// CommandClassID is the Security command class's 8-bit identifier.
const CommandClassID = 0x98
