package shardstore

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/opendict/lexicore/entry"
)

// Shard log framing: [PayloadLen:4 LE][CRC32C:4 LE][Payload:N].
// The payload is one JSON-encoded entry version. A record whose length or
// checksum cannot be read in full is a torn tail and recovery truncates it.
const recordHeaderSize = 8

// maxRecordSize bounds a single record so a corrupt length prefix cannot
// cause an absurd allocation during recovery.
const maxRecordSize = 16 << 20

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

func encodeRecord(e *entry.Entry) ([]byte, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	buf := make([]byte, recordHeaderSize+len(payload))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(payload)))
	binary.LittleEndian.PutUint32(buf[4:8], crc32.Checksum(payload, castagnoli))
	copy(buf[recordHeaderSize:], payload)
	return buf, nil
}

// errTornRecord signals an incomplete or corrupt record at the log tail.
var errTornRecord = fmt.Errorf("torn record")

// decodeRecord reads one framed record. io.EOF means a clean end of log;
// errTornRecord means the tail must be truncated at the record start.
func decodeRecord(r *bufio.Reader) (*entry.Entry, int64, error) {
	var header [recordHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if err == io.EOF {
			return nil, 0, io.EOF
		}
		return nil, 0, errTornRecord
	}
	payloadLen := binary.LittleEndian.Uint32(header[0:4])
	crc := binary.LittleEndian.Uint32(header[4:8])
	if payloadLen == 0 || payloadLen > maxRecordSize {
		return nil, 0, errTornRecord
	}
	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, 0, errTornRecord
	}
	if crc32.Checksum(payload, castagnoli) != crc {
		return nil, 0, errTornRecord
	}
	var e entry.Entry
	if err := json.Unmarshal(payload, &e); err != nil {
		return nil, 0, errTornRecord
	}
	return &e, recordHeaderSize + int64(payloadLen), nil
}
