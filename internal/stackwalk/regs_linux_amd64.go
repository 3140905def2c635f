//go:build linux && amd64

package stackwalk

import "golang.org/x/sys/unix"

func regsIPSP(regs *unix.PtraceRegs) (ip, sp uint64, err error) {
	return regs.Rip, regs.Rsp, nil
}
