// Package wal is the durable append-only log backing the event bus. Every
// publish is recorded here before delivery is attempted, which gives the bus
// its at-least-once guarantee and feeds crash replay.
package wal

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"

	"github.com/google/uuid"
)

const (
	recordVersion      uint16 = 1
	recordHeaderSize          = 72
	recordChecksumSize        = 4
)

var (
	recordMagic = [4]byte{'S', 'X', 'C', '1'}
	crcTable    = crc32.MakeTable(crc32.Castagnoli)
)

var (
	ErrInvalidMagic            = errors.New("wal invalid magic")
	ErrUnsupportedRecordVer    = errors.New("wal unsupported record version")
	ErrInvalidRecordHeaderSize = errors.New("wal invalid header size")
)

// Entry is one durably recorded bus envelope.
type Entry struct {
	Topic   uint32
	Scope   uint16
	Kind    uint16
	Seq     uint64
	TsNano  int64
	EventID uuid.UUID
	RunID   uuid.UUID
	Payload []byte
}

func encodeHeader(dst []byte, e Entry) {
	_ = dst[recordHeaderSize-1]
	copy(dst[0:4], recordMagic[:])
	binary.LittleEndian.PutUint16(dst[4:6], recordVersion)
	binary.LittleEndian.PutUint16(dst[6:8], uint16(recordHeaderSize))
	binary.LittleEndian.PutUint32(dst[8:12], e.Topic)
	binary.LittleEndian.PutUint16(dst[12:14], e.Scope)
	binary.LittleEndian.PutUint16(dst[14:16], e.Kind)
	binary.LittleEndian.PutUint32(dst[16:20], uint32(len(e.Payload)))
	binary.LittleEndian.PutUint64(dst[20:28], e.Seq)
	binary.LittleEndian.PutUint64(dst[28:36], uint64(e.TsNano))
	copy(dst[36:52], e.EventID[:])
	copy(dst[52:68], e.RunID[:])
	binary.LittleEndian.PutUint32(dst[68:72], 0)
}

func checksum(header []byte, payload []byte) uint32 {
	crc := crc32.Update(0, crcTable, header)
	return crc32.Update(crc, crcTable, payload)
}

func decodeRecordHeader(src []byte) (Entry, uint32, error) {
	if len(src) < recordHeaderSize {
		return Entry{}, 0, ErrInvalidRecordHeaderSize
	}
	if !bytes.Equal(src[0:4], recordMagic[:]) {
		return Entry{}, 0, ErrInvalidMagic
	}
	if ver := binary.LittleEndian.Uint16(src[4:6]); ver != recordVersion {
		return Entry{}, 0, ErrUnsupportedRecordVer
	}
	if headerSize := binary.LittleEndian.Uint16(src[6:8]); headerSize != recordHeaderSize {
		return Entry{}, 0, ErrInvalidRecordHeaderSize
	}
	payloadLen := binary.LittleEndian.Uint32(src[16:20])
	e := Entry{
		Topic:  binary.LittleEndian.Uint32(src[8:12]),
		Scope:  binary.LittleEndian.Uint16(src[12:14]),
		Kind:   binary.LittleEndian.Uint16(src[14:16]),
		Seq:    binary.LittleEndian.Uint64(src[20:28]),
		TsNano: int64(binary.LittleEndian.Uint64(src[28:36])),
	}
	copy(e.EventID[:], src[36:52])
	copy(e.RunID[:], src[52:68])
	return e, payloadLen, nil
}
