package wal

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
)

// RecordType represents the type of operation.
type RecordType byte

const (
	RecordPut RecordType = iota
	RecordDelete
)

// headerSize is the length plus checksum prefix preceding every payload.
const headerSize = 8

// Record represents a single log record.
type Record struct {
	Type   RecordType
	Key    []byte
	Value  []byte
	SeqNum uint64
}

// EncodedLen returns the on-media size of the record.
func (r *Record) EncodedLen() int {
	return headerSize + 1 + 8 + 4 + len(r.Key) + 4 + len(r.Value)
}

// Encode encodes a record to bytes with checksum.
// Format: [length:4][checksum:4][type:1][seq:8][key_len:4][key][val_len:4][val]
//
// The length prefix can never legitimately be zero, which is what lets
// replay distinguish the last record from the zeroed tail of a fresh log
// sub-allocation.
func (r *Record) Encode() []byte {
	payloadSize := 1 + // type
		8 + // seq
		4 + len(r.Key) + // key len + key
		4 + len(r.Value) // val len + val

	buf := make([]byte, headerSize+payloadSize)

	binary.BigEndian.PutUint32(buf[0:4], uint32(payloadSize))

	pos := headerSize
	buf[pos] = byte(r.Type)
	pos++

	binary.BigEndian.PutUint64(buf[pos:pos+8], r.SeqNum)
	pos += 8

	binary.BigEndian.PutUint32(buf[pos:pos+4], uint32(len(r.Key)))
	pos += 4
	copy(buf[pos:], r.Key)
	pos += len(r.Key)

	binary.BigEndian.PutUint32(buf[pos:pos+4], uint32(len(r.Value)))
	pos += 4
	copy(buf[pos:], r.Value)

	checksum := crc32.ChecksumIEEE(buf[headerSize:])
	binary.BigEndian.PutUint32(buf[4:8], checksum)

	return buf
}

// Decode decodes bytes to a record, validating checksum.
func Decode(buf []byte) (*Record, error) {
	if len(buf) < headerSize {
		return nil, errors.New("record too short")
	}

	payloadLen := binary.BigEndian.Uint32(buf[0:4])
	checksum := binary.BigEndian.Uint32(buf[4:8])

	if payloadLen < 17 {
		return nil, errors.New("record payload too short")
	}
	if len(buf) < int(headerSize+payloadLen) {
		return nil, errors.New("record truncated")
	}

	expectedChecksum := crc32.ChecksumIEEE(buf[headerSize : headerSize+payloadLen])
	if checksum != expectedChecksum {
		return nil, errors.New("checksum mismatch")
	}

	pos := headerSize
	rec := &Record{}

	rec.Type = RecordType(buf[pos])
	pos++

	rec.SeqNum = binary.BigEndian.Uint64(buf[pos : pos+8])
	pos += 8

	keyLen := binary.BigEndian.Uint32(buf[pos : pos+4])
	pos += 4
	if int(keyLen) > len(buf)-pos-4 {
		return nil, errors.New("record key overruns payload")
	}
	rec.Key = make([]byte, keyLen)
	copy(rec.Key, buf[pos:pos+int(keyLen)])
	pos += int(keyLen)

	valLen := binary.BigEndian.Uint32(buf[pos : pos+4])
	pos += 4
	if int(valLen) > len(buf)-pos {
		return nil, errors.New("record value overruns payload")
	}
	rec.Value = make([]byte, valLen)
	copy(rec.Value, buf[pos:pos+int(valLen)])

	return rec, nil
}
