package il

import (
	"fmt"
	"strings"

	"ropgen/internal/arch"
)

// escapeString re-encodes s using only the escapes Parse understands:
// backslash, the delimiter, and \xHH for anything non-printable.
func escapeString(s string) string {
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		b := s[i]
		switch {
		case b == '\\':
			sb.WriteString(`\\`)
		case b == '"':
			sb.WriteString(`\"`)
		case b >= 0x20 && b < 0x7f:
			sb.WriteByte(b)
		default:
			fmt.Fprintf(&sb, `\x%02x`, b)
		}
	}
	return sb.String()
}

// Render produces the canonical textual form of instr: re-parsing it with
// the same Arch yields a structurally identical Instr.
func Render(ar *arch.Arch, instr *Instr) string {
	reg := ar.RegisterName
	hex := func(v int64) string {
		if v < 0 {
			return fmt.Sprintf("-0x%x", -v)
		}
		return fmt.Sprintf("0x%x", v)
	}
	mem := func(base int, off int64) string {
		if base == arch.NoReg {
			return fmt.Sprintf("mem(%s)", hex(off))
		}
		if off == 0 {
			return fmt.Sprintf("mem(%s)", reg(base))
		}
		if off > 0 {
			return fmt.Sprintf("mem(%s + %s)", reg(base), hex(off))
		}
		return fmt.Sprintf("mem(%s - %s)", reg(base), hex(-off))
	}
	args := func(a []Arg) string {
		parts := make([]string, len(a))
		for i, x := range a {
			if x.IsReg {
				parts[i] = reg(x.Reg)
			} else {
				parts[i] = hex(x.Cst)
			}
		}
		return strings.Join(parts, ", ")
	}

	switch instr.Kind {
	case MovCst:
		return fmt.Sprintf("%s = %s", reg(instr.Dst), hex(instr.Cst))
	case MovReg:
		return fmt.Sprintf("%s = %s", reg(instr.Dst), reg(instr.SrcReg))
	case AMovCst:
		return fmt.Sprintf("%s = %s %s %s", reg(instr.Dst), reg(instr.SrcReg), instr.Op, hex(instr.Cst))
	case AMovReg:
		return fmt.Sprintf("%s = %s %s %s", reg(instr.Dst), reg(instr.SrcReg), instr.Op, reg(instr.Src2Reg))
	case Load, LoadAbs:
		return fmt.Sprintf("%s = %s", reg(instr.Dst), mem(instr.BaseReg, instr.Offset))
	case ALoad, ALoadAbs:
		return fmt.Sprintf("%s %s= %s", reg(instr.Dst), instr.Op, mem(instr.BaseReg, instr.Offset))
	case Store, StoreAbs:
		return fmt.Sprintf("%s = %s", mem(instr.BaseReg, instr.Offset), reg(instr.SrcReg))
	case AStore, AStoreAbs:
		return fmt.Sprintf("%s %s= %s", mem(instr.BaseReg, instr.Offset), instr.Op, reg(instr.SrcReg))
	case StoreCst, StoreCstAbs:
		return fmt.Sprintf("%s = %s", mem(instr.BaseReg, instr.Offset), hex(instr.Cst))
	case StoreString:
		return fmt.Sprintf("mem(%s) = \"%s\"", hex(instr.Offset), escapeString(instr.Str))
	case Call:
		return fmt.Sprintf("%s(%s)", hex(instr.FuncAddr), args(instr.Args))
	case Syscall:
		if instr.HasSyscallNum {
			return fmt.Sprintf("sys_%d(%s)", instr.SyscallNum, args(instr.Args))
		}
		return fmt.Sprintf("sys_%s(%s)", instr.SyscallName, args(instr.Args))
	case SingleSyscall:
		return "syscall"
	default:
		return ""
	}
}
