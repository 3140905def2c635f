//go:build linux && arm64

package stackwalk

import "golang.org/x/sys/unix"

func regsIPSP(regs *unix.PtraceRegs) (ip, sp uint64, err error) {
	return regs.Pc, regs.Sp, nil
}
