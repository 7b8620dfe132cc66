package envutil

import (
	"testing"
	"time"
)

func TestReaders(t *testing.T) {
	t.Setenv("ENVUTIL_INT", " 42 ")
	t.Setenv("ENVUTIL_BAD_INT", "forty")
	t.Setenv("ENVUTIL_BOOL", "off")
	t.Setenv("ENVUTIL_SECS", "9")
	t.Setenv("ENVUTIL_FLOAT", "0.25")

	if got := Int("ENVUTIL_INT", 1); got != 42 {
		t.Fatalf("Int: want=42 got=%d", got)
	}
	if got := Int("ENVUTIL_BAD_INT", 1); got != 1 {
		t.Fatalf("Int fallback: want=1 got=%d", got)
	}
	if got := Bool("ENVUTIL_BOOL", true); got {
		t.Fatalf("Bool: want=false got=%v", got)
	}
	if got := Bool("ENVUTIL_UNSET", true); !got {
		t.Fatalf("Bool default: want=true got=%v", got)
	}
	if got := Seconds("ENVUTIL_SECS", time.Second); got != 9*time.Second {
		t.Fatalf("Seconds: want=9s got=%s", got)
	}
	if got := Float("ENVUTIL_FLOAT", 0); got != 0.25 {
		t.Fatalf("Float: want=0.25 got=%v", got)
	}
	if got := String("ENVUTIL_UNSET", "x"); got != "x" {
		t.Fatalf("String default: want=x got=%q", got)
	}
}
