//go:build linux

package memory

import "golang.org/x/sys/unix"

type defaultSysInfoReader struct{}

func (defaultSysInfoReader) FreeMemory() (int64, error) {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return 0, err
	}
	return int64(info.Freeram) * int64(info.Unit), nil
}
