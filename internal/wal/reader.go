package wal

import (
	"bufio"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var ErrChecksumMismatch = errors.New("wal checksum mismatch")

// ReaderOptions controls record decoding.
type ReaderOptions struct {
	DisableChecksum bool
	MaxPayloadSize  int
}

// Reader decodes log records sequentially.
type Reader struct {
	r         *bufio.Reader
	opts      ReaderOptions
	headerBuf []byte
	payload   []byte
}

// NewReader wraps an io.Reader with log decoding.
func NewReader(r io.Reader, opts ReaderOptions) *Reader {
	return &Reader{
		r:         bufio.NewReader(r),
		opts:      opts,
		headerBuf: make([]byte, recordHeaderSize),
	}
}

// Next returns the next entry. The payload is only valid until the next
// call to Next.
func (r *Reader) Next() (Entry, error) {
	n, err := io.ReadFull(r.r, r.headerBuf)
	if err != nil {
		if err == io.EOF && n == 0 {
			return Entry{}, io.EOF
		}
		return Entry{}, err
	}

	entry, payloadLen, err := decodeRecordHeader(r.headerBuf)
	if err != nil {
		return Entry{}, err
	}
	if r.opts.MaxPayloadSize > 0 && payloadLen > uint32(r.opts.MaxPayloadSize) {
		return Entry{}, ErrPayloadTooLarge
	}

	if payloadLen > 0 {
		if cap(r.payload) < int(payloadLen) {
			r.payload = make([]byte, payloadLen)
		}
		r.payload = r.payload[:payloadLen]
		if _, err := io.ReadFull(r.r, r.payload); err != nil {
			return Entry{}, err
		}
	} else {
		r.payload = r.payload[:0]
	}

	var checksumBuf [recordChecksumSize]byte
	if _, err := io.ReadFull(r.r, checksumBuf[:]); err != nil {
		return Entry{}, err
	}

	if !r.opts.DisableChecksum {
		expected := binary.LittleEndian.Uint32(checksumBuf[:])
		if sum := checksum(r.headerBuf, r.payload); sum != expected {
			return Entry{}, ErrChecksumMismatch
		}
	}

	entry.Payload = r.payload
	return entry, nil
}

// ListSegments returns segment paths under dir with the given prefix, in
// file-name order, which is also append order.
func ListSegments(dir, prefix string) ([]string, error) {
	if prefix == "" {
		prefix = defaultFilePrefix
	}
	infos, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(infos))
	for _, info := range infos {
		if info.IsDir() {
			continue
		}
		name := info.Name()
		if strings.HasPrefix(name, prefix+"-") && strings.HasSuffix(name, ".wal") {
			paths = append(paths, filepath.Join(dir, name))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// Scan walks every entry in every segment, oldest first. The entry passed
// to fn reuses internal buffers; fn must copy the payload to retain it.
func Scan(dir, prefix string, opts ReaderOptions, fn func(Entry) error) error {
	paths, err := ListSegments(dir, prefix)
	if err != nil {
		return err
	}
	for _, path := range paths {
		if err := scanSegment(path, opts, fn); err != nil {
			return err
		}
	}
	return nil
}

func scanSegment(path string, opts ReaderOptions, fn func(Entry) error) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	reader := NewReader(file, opts)
	for {
		entry, err := reader.Next()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		if err := fn(entry); err != nil {
			return err
		}
	}
}
