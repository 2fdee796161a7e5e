//go:build darwin

package walker

import (
	"io/fs"
	"syscall"
)

func changeTime(info fs.FileInfo) int64 {
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		// Birthtime is the creation time users expect from dc: filters.
		return st.Birthtimespec.Sec
	}
	return 0
}
