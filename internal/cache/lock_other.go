//go:build !unix

package cache

import "os"

func writeLocked(path string, data []byte) error {
	return replaceFile(path, data)
}

func readLocked(path string) ([]byte, error) {
	return os.ReadFile(path)
}
