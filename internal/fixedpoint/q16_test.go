package fixedpoint

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"
)

// #region golden-vectors
type arithmeticVector struct {
	A           Q16  `json:"a"`
	B           Q16  `json:"b"`
	Add         Q16  `json:"add"`
	AddOverflow bool `json:"add_overflow"`
	Sub         Q16  `json:"sub"`
	SubOverflow bool `json:"sub_overflow"`
	Mul         Q16  `json:"mul"`
	MulOverflow bool `json:"mul_overflow"`
	Div         Q16  `json:"div"`
	DivOverflow bool `json:"div_overflow"`
}

type softmaxVector struct {
	In  []Q16 `json:"in"`
	Out []Q16 `json:"out"`
}

type vectorFile struct {
	Arithmetic []arithmeticVector `json:"arithmetic"`
	Softmax    []softmaxVector    `json:"softmax"`
}

func loadVectors(t *testing.T) vectorFile {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", "q16_vectors.json"))
	if err != nil {
		t.Fatalf("read vectors: %v", err)
	}
	var vf vectorFile
	if err := json.Unmarshal(data, &vf); err != nil {
		t.Fatalf("parse vectors: %v", err)
	}
	if len(vf.Arithmetic) == 0 || len(vf.Softmax) == 0 {
		t.Fatal("empty vector file")
	}
	return vf
}

// TestGoldenArithmetic checks every documented vector bit-for-bit.
func TestGoldenArithmetic(t *testing.T) {
	for i, v := range loadVectors(t).Arithmetic {
		check := func(op string, got Q16, gotOverflow bool, want Q16, wantOverflow bool) {
			if got != want || gotOverflow != wantOverflow {
				t.Errorf("vector %d %s(%d, %d): got (%d, %v), want (%d, %v)",
					i, op, v.A, v.B, got, gotOverflow, want, wantOverflow)
			}
		}
		r, o := Add(v.A, v.B)
		check("add", r, o, v.Add, v.AddOverflow)
		r, o = Sub(v.A, v.B)
		check("sub", r, o, v.Sub, v.SubOverflow)
		r, o = Mul(v.A, v.B)
		check("mul", r, o, v.Mul, v.MulOverflow)
		r, o = Div(v.A, v.B)
		check("div", r, o, v.Div, v.DivOverflow)
	}
}

func TestGoldenSoftmax(t *testing.T) {
	for i, v := range loadVectors(t).Softmax {
		got, _, err := Softmax(v.In)
		if err != nil {
			t.Fatalf("vector %d: %v", i, err)
		}
		if len(got) != len(v.Out) {
			t.Fatalf("vector %d: expected %d weights, got %d", i, len(v.Out), len(got))
		}
		for j := range got {
			if got[j] != v.Out[j] {
				t.Errorf("vector %d weight %d: got %d, want %d", i, j, got[j], v.Out[j])
			}
		}
	}
}

// #endregion golden-vectors

// #region overflow-properties
func TestAddNeverWraps(t *testing.T) {
	cases := []struct{ a, b Q16 }{
		{MaxQ16, 1}, {MaxQ16, MaxQ16}, {MinQ16, -1}, {MinQ16, MinQ16}, {MaxQ16, MinQ16},
	}
	for _, c := range cases {
		got, overflow := Add(c.a, c.b)
		exact := new(bigSum).add(int64(c.a), int64(c.b))
		if exact.fits() {
			if overflow || int64(got) != exact.v {
				t.Errorf("Add(%d,%d) = (%d,%v), expected exact %d", c.a, c.b, got, overflow, exact.v)
			}
			continue
		}
		if !overflow {
			t.Errorf("Add(%d,%d) should overflow", c.a, c.b)
		}
		if exact.negative() && got != MinQ16 || !exact.negative() && got != MaxQ16 {
			t.Errorf("Add(%d,%d) saturated to %d, wrong direction", c.a, c.b, got)
		}
	}
}

// bigSum tracks an int64 sum in two words so the test does not trust Int128.
type bigSum struct {
	v     int64
	carry int
}

func (s *bigSum) add(a, b int64) *bigSum {
	s.v = a + b
	switch {
	case a > 0 && b > 0 && s.v < 0:
		s.carry = 1
	case a < 0 && b < 0 && s.v >= 0:
		s.carry = -1
	}
	return s
}

func (s *bigSum) fits() bool     { return s.carry == 0 }
func (s *bigSum) negative() bool { return s.carry < 0 }

func TestMulMatchesFloatForSmallValues(t *testing.T) {
	vals := []float64{0, 1, -1, 0.5, -2.25, 3.75, 100.125, -0.0078125}
	for _, a := range vals {
		for _, b := range vals {
			qa, qb := MustFromFloat(a), MustFromFloat(b)
			got, overflow := Mul(qa, qb)
			if overflow {
				t.Fatalf("unexpected overflow for %v*%v", a, b)
			}
			want := MustFromFloat(math.Floor(a*b*65536) / 65536)
			if got != want {
				t.Errorf("Mul(%v,%v) = %d, want %d", a, b, got, want)
			}
		}
	}
}

func TestMulOverflowSaturates(t *testing.T) {
	big, _ := FromInt(1 << 40)
	got, overflow := Mul(big, big)
	if !overflow || got != MaxQ16 {
		t.Fatalf("expected saturated overflow, got (%d, %v)", got, overflow)
	}
	got, overflow = Mul(big, -big)
	if !overflow || got != MinQ16 {
		t.Fatalf("expected negative saturation, got (%d, %v)", got, overflow)
	}
}

func TestDivByZeroReportsOverflow(t *testing.T) {
	if got, overflow := Div(One, 0); !overflow || got != MaxQ16 {
		t.Fatalf("expected (MaxQ16, true), got (%d, %v)", got, overflow)
	}
	if got, overflow := Div(-One, 0); !overflow || got != MinQ16 {
		t.Fatalf("expected (MinQ16, true), got (%d, %v)", got, overflow)
	}
}

func TestFromIntOverflow(t *testing.T) {
	if q, overflow := FromInt(3); overflow || q != 3*One {
		t.Fatalf("FromInt(3) = (%d, %v)", q, overflow)
	}
	if _, overflow := FromInt(1 << 48); !overflow {
		t.Fatal("expected overflow for 2^48")
	}
}

func TestFromFloatSpecials(t *testing.T) {
	if q, overflow := FromFloat(math.NaN()); overflow || q != 0 {
		t.Fatalf("NaN: got (%d, %v)", q, overflow)
	}
	if q, overflow := FromFloat(math.Inf(1)); !overflow || q != MaxQ16 {
		t.Fatalf("+Inf: got (%d, %v)", q, overflow)
	}
	if q, overflow := FromFloat(math.Inf(-1)); !overflow || q != MinQ16 {
		t.Fatalf("-Inf: got (%d, %v)", q, overflow)
	}
	if q, _ := FromFloat(0.5); q != Half {
		t.Fatalf("0.5: got %d", q)
	}
	if q, _ := FromFloat(-1.5 / 65536); q != -2 {
		t.Fatalf("expected half away from zero, got %d", q)
	}
}

func TestAbsMinOverflows(t *testing.T) {
	if got, overflow := Abs(MinQ16); !overflow || got != MaxQ16 {
		t.Fatalf("Abs(MinQ16) = (%d, %v)", got, overflow)
	}
	if got, _ := Abs(-One); got != One {
		t.Fatalf("Abs(-One) = %d", got)
	}
}

// #endregion overflow-properties
