package knx

import (
	"fmt"
	"math"
	"strings"

	"github.com/nerrad567/gray-logic-comm/internal/comm"
)

const (
	dpt5MaxValue     = 255
	dpt5AngleMax     = 360
	dpt9MaxExponent  = 15
	dpt9MantissaMask = 0x07FF
	dpt9Invalid      = 0x7FFF
	dpt17MaxScene    = 63
	dpt17SceneMask   = 0x3F
	dptRGBBytes      = 3
)

// DPT is a KNX datapoint type identifier such as "9.001".
type DPT string

// Supported datapoint types.
const (
	DPTSwitch         DPT = "1.001"
	DPTBool           DPT = "1.002"
	DPTUpDown         DPT = "1.008"
	DPTDimmingControl DPT = "3.007"
	DPTPercentage     DPT = "5.001"
	DPTAngle          DPT = "5.003"
	DPTTemperature    DPT = "9.001"
	DPTLux            DPT = "9.004"
	DPTHumidity       DPT = "9.007"
	DPTSceneNumber    DPT = "17.001"
	DPTSceneControl   DPT = "18.001"
	DPTColourRGB      DPT = "232.600"
)

// Major returns the main number of the DPT ("9" for "9.001").
func (d DPT) Major() string {
	major, _, _ := strings.Cut(string(d), ".")
	return major
}

// EncodeDPT1 encodes a 1-bit boolean.
func EncodeDPT1(value bool) []byte {
	if value {
		return []byte{0x01}
	}
	return []byte{0x00}
}

// DecodeDPT1 decodes a 1-bit boolean.
func DecodeDPT1(data []byte) (bool, error) {
	if len(data) < 1 {
		return false, fmt.Errorf("%w: DPT1 requires 1 byte, got %d", ErrDecodingFailed, len(data))
	}
	return data[0]&0x01 != 0, nil
}

// Control is a DPT 3 step control: direction plus 0-7 steps (0 = stop).
type Control struct {
	Increase bool
	Steps    uint8
}

// EncodeDPT3 encodes a dimming or blind control value.
func EncodeDPT3(c Control) []byte {
	var value byte
	if c.Increase {
		value = 0x08
	}
	return []byte{value | c.Steps&0x07}
}

// DecodeDPT3 decodes a dimming or blind control value.
func DecodeDPT3(data []byte) (Control, error) {
	if len(data) < 1 {
		return Control{}, fmt.Errorf("%w: DPT3 requires 1 byte, got %d", ErrDecodingFailed, len(data))
	}
	return Control{Increase: data[0]&0x08 != 0, Steps: data[0] & 0x07}, nil
}

// EncodeDPT5 scales 0-100 % to 0-255. Out-of-range input is clamped.
func EncodeDPT5(percent float64) []byte {
	percent = math.Max(0, math.Min(100, percent))
	return []byte{uint8(math.Round(percent * dpt5MaxValue / 100))}
}

// DecodeDPT5 scales 0-255 to 0-100 %.
func DecodeDPT5(data []byte) (float64, error) {
	if len(data) < 1 {
		return 0, fmt.Errorf("%w: DPT5 requires 1 byte, got %d", ErrDecodingFailed, len(data))
	}
	return float64(data[0]) * 100 / dpt5MaxValue, nil
}

// EncodeDPT5Angle scales 0-360 degrees to 0-255.
func EncodeDPT5Angle(angle float64) []byte {
	angle = math.Max(0, math.Min(dpt5AngleMax, angle))
	return []byte{uint8(math.Round(angle * dpt5MaxValue / dpt5AngleMax))}
}

// DecodeDPT5Angle scales 0-255 to 0-360 degrees.
func DecodeDPT5Angle(data []byte) (float64, error) {
	if len(data) < 1 {
		return 0, fmt.Errorf("%w: DPT5 angle requires 1 byte, got %d", ErrDecodingFailed, len(data))
	}
	return float64(data[0]) * dpt5AngleMax / dpt5MaxValue, nil
}

// EncodeDPT9 encodes the KNX 2-byte float: SEEEEMMM MMMMMMMM with
// value = 0.01 * M * 2^E.
func EncodeDPT9(value float64) ([]byte, error) {
	if value < -671088.64 || value > 670760.96 {
		return nil, fmt.Errorf("%w: DPT9 value out of range: %.2f", ErrEncodingFailed, value)
	}

	var sign uint16
	if value < 0 {
		sign = 0x8000
		value = -value
	}

	exp := 0
	mantissa := value * 100
	for mantissa > 2047 {
		mantissa /= 2
		exp++
	}
	if exp > dpt9MaxExponent {
		return nil, fmt.Errorf("%w: DPT9 exponent overflow for value %.2f", ErrEncodingFailed, value)
	}

	m := int16(mantissa)
	if sign != 0 {
		m = -m
	}

	encoded := sign | uint16(exp)<<11 | uint16(m)&dpt9MantissaMask //nolint:gosec // exp bounded by 15
	return []byte{byte(encoded >> 8), byte(encoded)}, nil
}

// DecodeDPT9 decodes the KNX 2-byte float. 0x7FFF marks invalid data.
func DecodeDPT9(data []byte) (float64, error) {
	if len(data) < 2 {
		return 0, fmt.Errorf("%w: DPT9 requires 2 bytes, got %d", ErrDecodingFailed, len(data))
	}

	raw := uint16(data[0])<<8 | uint16(data[1])
	if raw == dpt9Invalid {
		return 0, fmt.Errorf("%w: DPT9 invalid value 0x7FFF", ErrDecodingFailed)
	}

	exp := (raw >> 11) & 0x0F
	mantissa := int16(raw & dpt9MantissaMask) //nolint:gosec // 11-bit value
	if raw&0x8000 != 0 {
		mantissa |= -0x800
	}
	return float64(mantissa) * 0.01 * math.Pow(2, float64(exp)), nil
}

// EncodeDPT17 encodes a scene number 0-63.
func EncodeDPT17(scene uint8) ([]byte, error) {
	if scene > dpt17MaxScene {
		return nil, fmt.Errorf("%w: DPT17 scene must be 0-%d, got %d", ErrEncodingFailed, dpt17MaxScene, scene)
	}
	return []byte{scene}, nil
}

// DecodeDPT17 decodes a scene number.
func DecodeDPT17(data []byte) (uint8, error) {
	if len(data) < 1 {
		return 0, fmt.Errorf("%w: DPT17 requires 1 byte, got %d", ErrDecodingFailed, len(data))
	}
	return data[0] & dpt17SceneMask, nil
}

// SceneControl is a DPT 18 value: a scene number and the learn flag.
type SceneControl struct {
	Scene uint8
	Learn bool
}

// EncodeDPT18 encodes a scene recall or learn command.
func EncodeDPT18(sc SceneControl) ([]byte, error) {
	if sc.Scene > dpt17MaxScene {
		return nil, fmt.Errorf("%w: DPT18 scene must be 0-%d, got %d", ErrEncodingFailed, dpt17MaxScene, sc.Scene)
	}
	value := sc.Scene
	if sc.Learn {
		value |= 0x80
	}
	return []byte{value}, nil
}

// DecodeDPT18 decodes a scene control value.
func DecodeDPT18(data []byte) (SceneControl, error) {
	if len(data) < 1 {
		return SceneControl{}, fmt.Errorf("%w: DPT18 requires 1 byte, got %d", ErrDecodingFailed, len(data))
	}
	return SceneControl{Scene: data[0] & dpt17SceneMask, Learn: data[0]&0x80 != 0}, nil
}

// RGB is a DPT 232.600 colour.
type RGB struct {
	R uint8 `json:"r"`
	G uint8 `json:"g"`
	B uint8 `json:"b"`
}

// EncodeDPT232 encodes an RGB colour.
func EncodeDPT232(rgb RGB) []byte {
	return []byte{rgb.R, rgb.G, rgb.B}
}

// DecodeDPT232 decodes an RGB colour.
func DecodeDPT232(data []byte) (RGB, error) {
	if len(data) < dptRGBBytes {
		return RGB{}, fmt.Errorf("%w: DPT232 requires %d bytes, got %d", ErrDecodingFailed, dptRGBBytes, len(data))
	}
	return RGB{R: data[0], G: data[1], B: data[2]}, nil
}

// Typed codecs for comm properties.
var (
	BoolCodec = comm.Codec[bool]{
		Encode: func(v bool) ([]byte, error) { return EncodeDPT1(v), nil },
		Decode: DecodeDPT1,
	}
	PercentCodec = comm.Codec[float64]{
		Encode: func(v float64) ([]byte, error) { return EncodeDPT5(v), nil },
		Decode: DecodeDPT5,
	}
	FloatCodec = comm.Codec[float64]{
		Encode: EncodeDPT9,
		Decode: DecodeDPT9,
	}
)

// CodecFor returns an untyped codec for dpt, used when the datapoint type
// comes from configuration. Encode accepts the Go type Decode produces:
// bool, Control, float64, uint8, SceneControl or RGB.
func CodecFor(dpt DPT) (comm.Codec[any], error) {
	switch {
	case dpt == DPTAngle:
		return anyCodec(func(v float64) ([]byte, error) { return EncodeDPT5Angle(v), nil }, DecodeDPT5Angle), nil
	case dpt == DPTColourRGB:
		return anyCodec(func(v RGB) ([]byte, error) { return EncodeDPT232(v), nil }, DecodeDPT232), nil
	}

	switch dpt.Major() {
	case "1":
		return anyCodec(BoolCodec.Encode, BoolCodec.Decode), nil
	case "3":
		return anyCodec(func(v Control) ([]byte, error) { return EncodeDPT3(v), nil }, DecodeDPT3), nil
	case "5":
		return anyCodec(PercentCodec.Encode, PercentCodec.Decode), nil
	case "9":
		return anyCodec(FloatCodec.Encode, FloatCodec.Decode), nil
	case "17":
		return anyCodec(EncodeDPT17, DecodeDPT17), nil
	case "18":
		return anyCodec(EncodeDPT18, DecodeDPT18), nil
	default:
		return comm.Codec[any]{}, fmt.Errorf("%w: %q", ErrInvalidDPT, dpt)
	}
}

// anyCodec erases the value type of a typed encode/decode pair.
func anyCodec[V any](enc func(V) ([]byte, error), dec func([]byte) (V, error)) comm.Codec[any] {
	return comm.Codec[any]{
		Encode: func(v any) ([]byte, error) {
			typed, ok := v.(V)
			if !ok {
				var zero V
				return nil, fmt.Errorf("%w: want %T, got %T", ErrEncodingFailed, zero, v)
			}
			return enc(typed)
		},
		Decode: func(b []byte) (any, error) {
			return dec(b)
		},
	}
}
