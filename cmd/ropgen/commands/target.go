// Package commands implements the ropgen CLI's subcommands.
package commands

import (
	"fmt"
	"strings"

	"ropgen/internal/arch"
)

// ParseTarget splits a combined CLI target spec such as "x64-linux"
// into its Arch and System, applying each arch's conventional default
// ABI. spec with no "-system" suffix defaults to SystemNone.
func ParseTarget(spec string) (*arch.Arch, arch.ABI, arch.System, error) {
	archName, systemName, _ := strings.Cut(spec, "-")

	ar, ok := arch.ByName(archName)
	if !ok {
		return nil, "", "", fmt.Errorf("unknown architecture %q", archName)
	}

	system := arch.SystemNone
	if systemName != "" {
		system = arch.System(strings.ToUpper(systemName))
	}

	var abi arch.ABI
	switch ar.Name {
	case "x86":
		abi = arch.ABICdecl
	case "x64":
		abi = arch.ABISystemV
	default:
		abi = arch.ABINone
	}

	return ar, abi, system, nil
}
