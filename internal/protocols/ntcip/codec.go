package ntcip

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/nerrad567/gray-logic-comm/internal/comm"
)

// encMode encodes deterministically so equal frames have equal CRCs.
var encMode cbor.EncMode

// decMode rejects trailing data and duplicate keys in a frame body.
var decMode cbor.DecMode

func init() {
	var err error

	encMode, err = cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
	}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create ntcip CBOR encoder mode: %v", err))
	}

	decMode, err = cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyEnforcedAPF,
		IndefLength: cbor.IndefLengthForbidden,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create ntcip CBOR decoder mode: %v", err))
	}
}

// valueCodec encodes a single object value as a CBOR data item.
func valueCodec[V any]() comm.Codec[V] {
	return comm.Codec[V]{
		Encode: func(v V) ([]byte, error) {
			return encMode.Marshal(v)
		},
		Decode: func(b []byte) (V, error) {
			var v V
			if err := decMode.Unmarshal(b, &v); err != nil {
				return v, fmt.Errorf("decode %T: %w", v, err)
			}
			return v, nil
		},
	}
}

// Codecs for the object value types.
var (
	IntCodec           = valueCodec[int]()
	StringCodec        = valueCodec[string]()
	MemoryTypeCodec    = valueCodec[MemoryType]()
	MessageStatusCodec = valueCodec[MessageStatus]()
	PriorityCodec      = valueCodec[MsgPriority]()
	MessageIDCodec     = valueCodec[MessageIDCode]()
	ActivationCodec    = valueCodec[ActivationCode]()
)

// object creates a stale property for oid.
func object[V any](codec comm.Codec[V], oid OID) *comm.Value[V] {
	return comm.NewValue(oid.String(), codec)
}

// objectOf creates a property holding v for a store request.
func objectOf[V any](codec comm.Codec[V], oid OID, v V) *comm.Value[V] {
	return comm.NewValueOf(oid.String(), codec, v)
}
