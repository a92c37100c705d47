package fserrors

import (
	"errors"
	"testing"
)

func TestNumeric_MatchesSpecTable(t *testing.T) {
	cases := []struct {
		code Code
		want int
	}{
		{CodeInvalidParam, 101},
		{CodeEcdsaEncrypt, 104},
		{CodeVerifySign, 108},
		{CodeVerifyHash, 109},
		{CodeInvalidDh, 110},
		{CodeInvalidKeyPair, 301},
		{CodeInvalidDeviceID, 401},
		{CodeInvalidSession, 402},
		{CodeDb, 500},
		{CodeHTTP, 600},
		{CodeMacAddr, 700},
		{CodeLogin, 701},
	}
	for _, tc := range cases {
		if got := Numeric(tc.code); got != tc.want {
			t.Errorf("Numeric(%q) = %d, want %d", tc.code, got, tc.want)
		}
	}
}

func TestNumeric_UnknownCodeIsZero(t *testing.T) {
	if got := Numeric(Code("not_a_code")); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
}

func TestWrap_UnwrapsAndFormats(t *testing.T) {
	inner := errors.New("boom")
	err := Wrap(PathHandshake, StageVerify, CodeVerifySign, inner)
	if !errors.Is(err, inner) {
		t.Fatalf("expected Is(inner) to hold")
	}
	msg := err.Error()
	if msg == "" {
		t.Fatalf("expected non-empty message")
	}
}

func TestError_NilReceiver(t *testing.T) {
	var e *Error
	if e.Error() != "<nil>" {
		t.Fatalf("expected <nil>, got %q", e.Error())
	}
}
