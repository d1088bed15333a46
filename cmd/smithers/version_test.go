package main

import (
	"strings"
	"testing"
)

func TestVersionLine(t *testing.T) {
	line := versionLine()
	if !strings.HasPrefix(line, "smithers version ") {
		t.Errorf("versionLine() = %q, want a smithers version prefix", line)
	}
}
