package sysutil

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestSetLogLevel(t *testing.T) {
	orig := zerolog.GlobalLevel()
	defer zerolog.SetGlobalLevel(orig)

	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"INFO", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
		{" warn ", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"fatal", zerolog.FatalLevel},
		{"panic", zerolog.PanicLevel},
		{"garbage", zerolog.InfoLevel},
	}
	for _, tc := range tests {
		SetLogLevel(tc.in)
		if got := zerolog.GlobalLevel(); got != tc.want {
			t.Errorf("SetLogLevel(%q): level = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestIsTruthy(t *testing.T) {
	for _, v := range []string{"1", "true", "TRUE", " yes ", "y", "on"} {
		if !IsTruthy(v) {
			t.Errorf("IsTruthy(%q) = false", v)
		}
	}
	for _, v := range []string{"", "0", "false", "off", "no", "maybe"} {
		if IsTruthy(v) {
			t.Errorf("IsTruthy(%q) = true", v)
		}
	}
}

func TestFirstNonEmpty(t *testing.T) {
	if got := FirstNonEmpty("", "  ", "a", "b"); got != "a" {
		t.Errorf("FirstNonEmpty = %q, want a", got)
	}
	if got := FirstNonEmpty("", "   "); got != "" {
		t.Errorf("FirstNonEmpty all blank = %q", got)
	}
	if got := FirstNonEmpty(); got != "" {
		t.Errorf("FirstNonEmpty no args = %q", got)
	}
}
