//go:build !linux

package directio

import "os"

const directFlag = 0

func fsyncData(f *os.File) error {
	return f.Sync()
}

func blockDeviceSize(f *os.File) (int64, error) {
	fi, err := f.Stat()
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}
