package commands

import (
	"testing"

	"ropgen/internal/arch"
)

func TestParseTargetAppliesConventionalABI(t *testing.T) {
	ar, abi, system, err := ParseTarget("x64-linux")
	if err != nil {
		t.Fatalf("ParseTarget: %v", err)
	}
	if ar.Name != "x64" || abi != arch.ABISystemV || system != arch.SystemLinux {
		t.Fatalf("ParseTarget(x64-linux) = %v, %v, %v", ar.Name, abi, system)
	}
}

func TestParseTargetDefaultsSystemWithoutSuffix(t *testing.T) {
	_, _, system, err := ParseTarget("x86")
	if err != nil {
		t.Fatalf("ParseTarget: %v", err)
	}
	if system != arch.SystemNone {
		t.Fatalf("system = %v, want SystemNone", system)
	}
}

func TestParseTargetRejectsUnknownArch(t *testing.T) {
	if _, _, _, err := ParseTarget("sparc64-linux"); err == nil {
		t.Fatalf("expected an unknown architecture to be rejected")
	}
}
