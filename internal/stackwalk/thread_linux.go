//go:build linux

package stackwalk

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Thread captures the faulting instruction pointer and stack pointer for
// tid by briefly ptrace-attaching to it, exactly as preload/Stack.cpp's
// constructor does (PTRACE_ATTACH, PTRACE_GETREGS, PTRACE_DETACH). The
// original stopped at the raw register values without attempting a full
// unwind; this port preserves that scope rather than inventing frame-
// pointer or DWARF-CFI unwinding the original never had.
func Thread(tid int) (ip, sp uint64, err error) {
	if err := unix.PtraceAttach(tid); err != nil {
		return 0, 0, fmt.Errorf("stackwalk: ptrace attach %d: %w", tid, err)
	}
	defer unix.PtraceDetach(tid)

	var status unix.WaitStatus
	if _, werr := unix.Wait4(tid, &status, 0, nil); werr != nil {
		return 0, 0, fmt.Errorf("stackwalk: wait4 %d: %w", tid, werr)
	}

	var regs unix.PtraceRegs
	if err := unix.PtraceGetRegs(tid, &regs); err != nil {
		return 0, 0, fmt.Errorf("stackwalk: ptrace getregs %d: %w", tid, err)
	}

	return regsIPSP(&regs)
}
