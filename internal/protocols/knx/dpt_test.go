package knx

import (
	"errors"
	"math"
	"testing"
)

func TestDPT1RoundTrip(t *testing.T) {
	for _, v := range []bool{true, false} {
		got, err := DecodeDPT1(EncodeDPT1(v))
		if err != nil || got != v {
			t.Errorf("DPT1 round trip of %v = %v, %v", v, got, err)
		}
	}
	if _, err := DecodeDPT1(nil); !errors.Is(err, ErrDecodingFailed) {
		t.Errorf("DecodeDPT1(nil) error = %v, want ErrDecodingFailed", err)
	}
}

func TestDPT3(t *testing.T) {
	tests := []struct {
		name string
		in   Control
		want byte
	}{
		{"increase 4 steps", Control{Increase: true, Steps: 4}, 0x0C},
		{"decrease 1 step", Control{Steps: 1}, 0x01},
		{"stop", Control{Increase: true}, 0x08},
		{"steps masked", Control{Steps: 0x0F}, 0x07},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EncodeDPT3(tt.in)
			if got[0] != tt.want {
				t.Errorf("EncodeDPT3(%+v) = %02X, want %02X", tt.in, got[0], tt.want)
			}
		})
	}
}

func TestDPT5(t *testing.T) {
	tests := []struct {
		name    string
		percent float64
		want    byte
	}{
		{"zero", 0, 0x00},
		{"full", 100, 0xFF},
		{"half", 50, 0x80},
		{"clamped low", -10, 0x00},
		{"clamped high", 150, 0xFF},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EncodeDPT5(tt.percent)
			if got[0] != tt.want {
				t.Errorf("EncodeDPT5(%v) = %02X, want %02X", tt.percent, got[0], tt.want)
			}
		})
	}

	back, err := DecodeDPT5([]byte{0x80})
	if err != nil {
		t.Fatalf("DecodeDPT5() error = %v", err)
	}
	if math.Abs(back-50) > 0.5 {
		t.Errorf("DecodeDPT5(0x80) = %v, want about 50", back)
	}
}

func TestDPT5Angle(t *testing.T) {
	got, err := DecodeDPT5Angle(EncodeDPT5Angle(180))
	if err != nil {
		t.Fatalf("DecodeDPT5Angle() error = %v", err)
	}
	if math.Abs(got-180) > 1 {
		t.Errorf("angle round trip = %v, want about 180", got)
	}
}

func TestDPT9RoundTrip(t *testing.T) {
	tests := []float64{0, 21.5, -5, 0.5, 100, 1234.56, -273}

	for _, v := range tests {
		enc, err := EncodeDPT9(v)
		if err != nil {
			t.Fatalf("EncodeDPT9(%v) error = %v", v, err)
		}
		got, err := DecodeDPT9(enc)
		if err != nil {
			t.Fatalf("DecodeDPT9(%X) error = %v", enc, err)
		}
		// precision halves with every exponent step
		tolerance := math.Max(0.01, math.Abs(v)*0.001)
		if math.Abs(got-v) > tolerance {
			t.Errorf("DPT9 round trip of %v = %v", v, got)
		}
	}
}

func TestDPT9Errors(t *testing.T) {
	if _, err := EncodeDPT9(1e7); !errors.Is(err, ErrEncodingFailed) {
		t.Errorf("EncodeDPT9(1e7) error = %v, want ErrEncodingFailed", err)
	}
	if _, err := DecodeDPT9([]byte{0x7F, 0xFF}); !errors.Is(err, ErrDecodingFailed) {
		t.Errorf("DecodeDPT9(7FFF) error = %v, want ErrDecodingFailed", err)
	}
	if _, err := DecodeDPT9([]byte{0x0C}); !errors.Is(err, ErrDecodingFailed) {
		t.Errorf("DecodeDPT9(short) error = %v, want ErrDecodingFailed", err)
	}
}

func TestDPT17And18(t *testing.T) {
	if _, err := EncodeDPT17(64); !errors.Is(err, ErrEncodingFailed) {
		t.Errorf("EncodeDPT17(64) error = %v, want ErrEncodingFailed", err)
	}

	enc, err := EncodeDPT18(SceneControl{Scene: 12, Learn: true})
	if err != nil {
		t.Fatalf("EncodeDPT18() error = %v", err)
	}
	if enc[0] != 0x8C {
		t.Errorf("EncodeDPT18() = %02X, want 8C", enc[0])
	}
	sc, err := DecodeDPT18(enc)
	if err != nil || sc.Scene != 12 || !sc.Learn {
		t.Errorf("DecodeDPT18() = %+v, %v", sc, err)
	}
}

func TestDPT232(t *testing.T) {
	rgb, err := DecodeDPT232(EncodeDPT232(RGB{R: 255, G: 128, B: 1}))
	if err != nil || rgb != (RGB{R: 255, G: 128, B: 1}) {
		t.Errorf("DPT232 round trip = %+v, %v", rgb, err)
	}
}

func TestCodecFor(t *testing.T) {
	tests := []struct {
		dpt     DPT
		value   any
		wantErr bool
	}{
		{DPTSwitch, true, false},
		{DPTUpDown, false, false},
		{DPTDimmingControl, Control{Increase: true, Steps: 2}, false},
		{DPTPercentage, 75.0, false},
		{DPTAngle, 90.0, false},
		{DPTTemperature, 21.5, false},
		{DPTSceneNumber, uint8(5), false},
		{DPTSceneControl, SceneControl{Scene: 3}, false},
		{DPTColourRGB, RGB{R: 1, G: 2, B: 3}, false},
		{"99.001", nil, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.dpt), func(t *testing.T) {
			codec, err := CodecFor(tt.dpt)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidDPT) {
					t.Errorf("CodecFor(%s) error = %v, want ErrInvalidDPT", tt.dpt, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("CodecFor(%s) error = %v", tt.dpt, err)
			}

			enc, err := codec.Encode(tt.value)
			if err != nil {
				t.Fatalf("Encode(%v) error = %v", tt.value, err)
			}
			if _, err := codec.Decode(enc); err != nil {
				t.Errorf("Decode(%X) error = %v", enc, err)
			}
		})
	}
}

func TestCodecFor_WrongValueType(t *testing.T) {
	codec, err := CodecFor(DPTSwitch)
	if err != nil {
		t.Fatalf("CodecFor() error = %v", err)
	}
	if _, err := codec.Encode("on"); !errors.Is(err, ErrEncodingFailed) {
		t.Errorf("Encode(string) error = %v, want ErrEncodingFailed", err)
	}
}
