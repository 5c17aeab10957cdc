//go:build linux

package perfevent

import (
	"encoding/binary"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/elus10n/profiler/internal/metrics"
)

// ─── perf_event_attr bitfield / ioctl constants ─────────────────────────────
// Values from <linux/perf_event.h>. Never change.

const (
	perfTypeHardware = 0
	perfTypeSoftware = 1

	// attrBitDisabled / attrBitExcludeHV / attrBitExcludeKernel select bits
	// in perfEventAttr.bits. Layout matches the kernel's packed
	// disabled:1, inherit:1, pinned:1, exclusive:1, exclude_user:1,
	// exclude_kernel:1, exclude_hv:1, ... bitfield, low bit first.
	attrBitDisabled      = 1 << 0
	attrBitExcludeKernel = 1 << 5
	attrBitExcludeHV     = 1 << 6

	// PERF_EVENT_IOC_* = _IO('$', n): no argument size, magic '$' = 0x24.
	perfEventIOCEnable = 0x2400
	perfEventIOCReset  = 0x2403

	anyCPU  = -1
	groupFD = -1
)

// perfEventAttr mirrors struct perf_event_attr from <linux/perf_event.h>,
// limited to the fields this package sets or the kernel requires to be
// present for attr.size. Trailing kernel-ABI fields added by newer kernels
// are left as zero, which the kernel accepts as "unset" for any size it
// doesn't recognize from an older attr.size.
type perfEventAttr struct {
	typ             uint32
	size            uint32
	config          uint64
	samplePeriod    uint64
	sampleType      uint64
	readFormat      uint64
	bits            uint64
	wakeupEvents    uint32
	bpType          uint32
	config1         uint64
	config2         uint64
	branchSampleTyp uint64
	sampleRegsUser  uint64
	sampleStackUser uint32
	clockID         int32
	sampleRegsIntr  uint64
	auxWatermark    uint32
	sampleMaxStack  uint16
	_               uint16
}

// perfEventOpen is a thin wrapper over the perf_event_open(2) syscall, the
// Go equivalent of the teacher's C helper:
//
//	static long perf_event_open(struct perf_event_attr *attr, pid_t pid,
//	                             int cpu, int group_fd, unsigned long flags)
func perfEventOpen(attr *perfEventAttr, pid, cpu, group int, flags uintptr) (int, error) {
	fd, _, errno := unix.Syscall6(
		unix.SYS_PERF_EVENT_OPEN,
		uintptr(unsafe.Pointer(attr)),
		uintptr(pid),
		uintptr(cpu),
		uintptr(group),
		flags,
		0,
	)
	if errno != 0 {
		return -1, errno
	}
	return int(fd), nil
}

func open(pid int, kind metrics.MetricKind) (*Counter, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("perfevent: invalid metric kind %v", kind)
	}

	attr := perfEventAttr{
		bits: attrBitDisabled | attrBitExcludeHV, // exclude_kernel left unset: kernel events included
	}
	attr.size = uint32(unsafe.Sizeof(attr))

	switch kind.Family() {
	case metrics.Hardware:
		attr.typ = perfTypeHardware
	case metrics.Software:
		attr.typ = perfTypeSoftware
	}
	attr.config = kind.Code()

	fd, err := perfEventOpen(&attr, pid, anyCPU, groupFD, 0)
	if err != nil {
		return nil, fmt.Errorf("perfevent: open %v counter for pid %d: %w", kind, pid, err)
	}

	if err := unix.IoctlSetInt(fd, perfEventIOCReset, 0); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("perfevent: reset %v counter: %w", kind, err)
	}
	if err := unix.IoctlSetInt(fd, perfEventIOCEnable, 0); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("perfevent: enable %v counter: %w", kind, err)
	}

	return &Counter{fd: fd, kind: kind}, nil
}

func (c *Counter) read() (uint64, error) {
	var buf [8]byte
	n, err := unix.Read(c.fd, buf[:])
	if err != nil {
		return 0, fmt.Errorf("perfevent: read %v counter: %w", c.kind, err)
	}
	if n != len(buf) {
		return 0, fmt.Errorf("perfevent: short read on %v counter: got %d bytes, want %d", c.kind, n, len(buf))
	}
	return binary.NativeEndian.Uint64(buf[:]), nil
}

func (c *Counter) close() error {
	if c.fd < 0 {
		return nil
	}
	err := unix.Close(c.fd)
	c.fd = -1
	return err
}
