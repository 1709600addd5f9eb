//go:build !linux

package memory

import bgerrors "github.com/23skdu/bulkgraph/internal/errors"

type defaultSysInfoReader struct{}

func (defaultSysInfoReader) FreeMemory() (int64, error) {
	return 0, bgerrors.NewConfigurationError("memory.free_memory",
		"free host memory is only read on linux; use a budget availability")
}
