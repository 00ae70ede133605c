// Package ntcip implements the dynamic message sign link protocol.
//
// Requests and responses carry CBOR-encoded variable bindings addressed by
// object identifier, framed as:
//
//	size(2) + CBOR body + CRC-16(2)
//
// The size field counts body and CRC. A response with a bad CRC is a
// checksum fault; a non-zero response status is a protocol fault reported
// by the sign controller.
//
// Each controller on a link is one sign. The Driver keeps an in-memory Sign
// proxy per controller holding the message operations last read
// from or wrote to it:
//
//   - NewQueryMessage reads the message source and only re-reads the full
//     message when the sign's CRC differs from the cached one.
//   - NewSendMessage stores, validates and activates a new message, then
//     sets the power-loss message.
package ntcip
