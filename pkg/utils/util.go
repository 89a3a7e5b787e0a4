package utils

import (
	"os"

	"golang.org/x/sys/unix"
)

// SocketExists tells whether path exists, and whether it is a unix socket
func SocketExists(path string) (exists bool, isSocket bool) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return false, false
	}
	return true, st.Mode&unix.S_IFMT == unix.S_IFSOCK
}

// PathExists reports whether path can be stat'ed
func PathExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}
