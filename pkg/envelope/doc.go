// Package envelope frames an opaque payload together with the instant it was enclosed.
//
// The frame is the protobuf encoding of:
//
//	message Envelope {
//	  google.protobuf.Timestamp enclosed_at = 1;
//	  bytes payload = 2;
//	}
//
// so frames interoperate with any protobuf implementation of that schema. Decoders skip
// unknown fields, which lets producers add optional metadata without breaking consumers.
//
// Both fields are required on decode. A frame without enclosed_at is rejected with a
// DecodeError of KindMissingField rather than defaulted to the epoch, and the encoder
// always writes both fields, including a zero-length payload.
//
// Codec values are safe for concurrent use. The only environmental input is the Clock,
// read once per Encode without an explicit timestamp and once per Decode to stamp the
// receipt time.
package envelope
