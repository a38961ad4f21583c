package logcollection

import (
	"io"
	"os"

	"github.com/core-tools/hsu-supervisor/pkg/errors"
)

// ReadFile reads length bytes at offset. A negative offset reads the last
// -offset bytes and then requires length 0; length 0 reads to the end.
func ReadFile(path string, offset, length int64) ([]byte, error) {
	if offset < 0 && length != 0 {
		return nil, errors.NewBadArgumentsError("length must be 0 with a negative offset")
	}
	if length < 0 {
		return nil, errors.NewBadArgumentsError("length must not be negative")
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, errors.NewFailedError("failed to open log", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, errors.NewFailedError("failed to stat log", err)
	}
	size := info.Size()

	if offset < 0 {
		length = -offset
		offset = size + offset
		if offset < 0 {
			offset = 0
		}
	}
	if offset >= size {
		return []byte{}, nil
	}
	if length == 0 || offset+length > size {
		length = size - offset
	}

	data := make([]byte, length)
	n, err := f.ReadAt(data, offset)
	if err != nil && err != io.EOF {
		return nil, errors.NewFailedError("failed to read log", err)
	}
	return data[:n], nil
}

// TailResult is one chunk returned by TailFile.
type TailResult struct {
	Data     []byte
	Offset   int64 // offset to pass to the next call
	Overflow bool  // the file grew past offset+length since the last call
}

// TailFile returns the bytes written since offset, or only the last length
// bytes when more than that was written. A missing file yields an empty
// result.
func TailFile(path string, offset, length int64) TailResult {
	f, err := os.Open(path)
	if err != nil {
		return TailResult{Data: []byte{}, Offset: offset}
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return TailResult{Data: []byte{}, Offset: offset}
	}
	size := info.Size()

	if length < 0 {
		length = 0
	}
	start, overflow := offset, false
	switch {
	case size > offset+length:
		// more was written than fits, keep the last length bytes
		overflow = true
		start = size - length
	case offset >= size:
		start = size
	}
	if start < 0 {
		start = 0
	}
	length = size - start

	data := []byte{}
	if length > 0 {
		data = make([]byte, length)
		n, err := f.ReadAt(data, start)
		if err != nil && err != io.EOF {
			return TailResult{Data: []byte{}, Offset: size}
		}
		data = data[:n]
	}
	return TailResult{Data: data, Offset: size, Overflow: overflow}
}
