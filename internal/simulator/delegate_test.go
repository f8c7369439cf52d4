package simulator

import (
	"bytes"
	"context"
	"errors"
	"slices"
	"testing"
)

func TestBuildPDU(t *testing.T) {
	tests := []struct {
		name   string
		fc     byte
		fields map[string]any
		want   []byte
	}{
		{name: "read holding", fc: 0x03, fields: map[string]any{"address": 1.0, "count": 2.0}, want: []byte{0x03, 0x00, 0x01, 0x00, 0x02}},
		{name: "read coils default count", fc: 0x01, fields: map[string]any{}, want: []byte{0x01, 0x00, 0x00, 0x00, 0x01}},
		{name: "write coil on", fc: 0x05, fields: map[string]any{"address": "3", "values": "1"}, want: []byte{0x05, 0x00, 0x03, 0xFF, 0x00}},
		{name: "write register", fc: 0x06, fields: map[string]any{"values": []any{258.0}}, want: []byte{0x06, 0x00, 0x00, 0x01, 0x02}},
		{name: "write coils", fc: 0x0F, fields: map[string]any{"values": "1,0,1"}, want: []byte{0x0F, 0x00, 0x00, 0x00, 0x03, 0x01, 0x05}},
		{name: "write registers", fc: 0x10, fields: map[string]any{"address": 2.0, "values": []string{"1", "0x10"}}, want: []byte{0x10, 0x00, 0x02, 0x00, 0x02, 0x04, 0x00, 0x01, 0x00, 0x10}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := buildPDU(tt.fc, tt.fields)
			if err != nil {
				t.Fatalf("buildPDU() error = %v", err)
			}
			if !bytes.Equal(got, tt.want) {
				t.Errorf("buildPDU() = % x, want % x", got, tt.want)
			}
		})
	}
}

func TestBuildPDU_Errors(t *testing.T) {
	tests := []struct {
		name   string
		fc     byte
		fields map[string]any
	}{
		{name: "address too large", fc: 0x03, fields: map[string]any{"address": 70000.0}},
		{name: "fractional count", fc: 0x03, fields: map[string]any{"count": 1.5}},
		{name: "zero count", fc: 0x03, fields: map[string]any{"count": 0.0}},
		{name: "write without values", fc: 0x06, fields: map[string]any{}},
		{name: "coil value not a bit", fc: 0x0F, fields: map[string]any{"values": "2"}},
		{name: "register value too large", fc: 0x10, fields: map[string]any{"values": "65536"}},
		{name: "garbage value", fc: 0x06, fields: map[string]any{"values": "abc"}},
		{name: "unsupported function", fc: 0x2B, fields: map[string]any{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := buildPDU(tt.fc, tt.fields); !errors.Is(err, ErrBadRequest) {
				t.Errorf("buildPDU() error = %v, want ErrBadRequest", err)
			}
		})
	}
}

func TestIntList(t *testing.T) {
	got, err := intList(map[string]any{"values": " 1, 2 ,3 "}, "values", 1, 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(got, []int{1, 2, 3}) {
		t.Errorf("intList() = %v, want [1 2 3]", got)
	}
	if got, err := intList(map[string]any{"values": 4.0}, "values", 1, 0, 10); err != nil || !slices.Equal(got, []int{4}) {
		t.Errorf("intList(single) = %v, %v", got, err)
	}
}

func TestDelegate(t *testing.T) {
	s, err := New(Options{
		Config:   testConfig(t, 5020),
		Logger:   testLogger(),
		Registry: fakeRegistry(&fakeServer{}),
		Assets:   testAssets(),
	})
	if err != nil {
		t.Fatal(err)
	}
	d := delegate{s}
	ctx := context.Background()

	t.Run("general echo", func(t *testing.T) {
		got, err := d.General(ctx, map[string]any{"a": "b"})
		if err != nil {
			t.Fatal(err)
		}
		m := got.(map[string]any)
		if m["api"] != "general" || m["data"].(map[string]any)["a"] != "b" {
			t.Errorf("General() = %v", got)
		}
	})

	t.Run("data echo without type", func(t *testing.T) {
		got, err := d.Data(ctx, map[string]any{})
		if err != nil {
			t.Fatal(err)
		}
		if got.(map[string]any)["api"] != "data" {
			t.Errorf("Data() = %v", got)
		}
	})

	t.Run("data read", func(t *testing.T) {
		got, err := d.Data(ctx, map[string]any{"type": "hr", "address": "0", "count": "2"})
		if err != nil {
			t.Fatal(err)
		}
		values, ok := got.(map[string]any)["values"].([]uint16)
		if !ok || !slices.Equal(values, []uint16{7, 9}) {
			t.Errorf("Data() values = %v", got)
		}
	})

	t.Run("data read coils", func(t *testing.T) {
		got, err := d.Data(ctx, map[string]any{"type": "co", "count": 3.0})
		if err != nil {
			t.Fatal(err)
		}
		if values, ok := got.(map[string]any)["values"].([]bool); !ok || len(values) != 3 {
			t.Errorf("Data() values = %v", got)
		}
	})

	dataErrors := []map[string]any{
		{"type": "zz"},
		{"type": 3.0},
		{"type": "hr", "address": 1.0, "count": 5.0},
	}
	for _, fields := range dataErrors {
		if _, err := d.Data(ctx, fields); !errors.Is(err, ErrBadRequest) {
			t.Errorf("Data(%v) error = %v, want ErrBadRequest", fields, err)
		}
	}

	t.Run("request read", func(t *testing.T) {
		got, err := d.Request(ctx, map[string]any{"unit": 1.0, "function_code": 3.0, "address": 0.0, "count": 2.0})
		if err != nil {
			t.Fatal(err)
		}
		m := got.(map[string]any)
		if m["request"] != "0300000002" || m["response"] != "030400070009" {
			t.Errorf("Request() = %v", m)
		}
		if _, ok := m["exception"]; ok {
			t.Errorf("unexpected exception in %v", m)
		}
	})

	t.Run("request exception", func(t *testing.T) {
		got, err := d.Request(ctx, map[string]any{"function_code": 3.0, "address": 1.0, "count": 5.0})
		if err != nil {
			t.Fatal(err)
		}
		m := got.(map[string]any)
		if m["response"] != "8302" || m["exception"] != 2 {
			t.Errorf("Request() = %v, want illegal address exception", m)
		}
	})

	t.Run("raw pdu", func(t *testing.T) {
		got, err := d.Request(ctx, map[string]any{"pdu": "03 0000 0001"})
		if err != nil {
			t.Fatal(err)
		}
		if m := got.(map[string]any); m["response"] != "03020007" {
			t.Errorf("Request() = %v", m)
		}
	})

	requestErrors := []map[string]any{
		{},
		{"function_code": 3.0, "unit": 300.0},
		{"pdu": "zz"},
	}
	for _, fields := range requestErrors {
		if _, err := d.Request(ctx, fields); !errors.Is(err, ErrBadRequest) {
			t.Errorf("Request(%v) error = %v, want ErrBadRequest", fields, err)
		}
	}
}
