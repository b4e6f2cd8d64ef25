package engine

import (
	"encoding/binary"
	"fmt"
)

// On-disk layout constants. All multi-byte integers are little-endian, per
// §6.1. The file header is fixed-size; slots are variable-length but always
// begin with a fixed-size slot header.

const (
	fileMagic   = "PST1"
	slotMagic   = "SLOT"
	formatVers1 = 1

	fileHeaderSize = 32

	// slotHeaderSize is the fixed-size prefix of every slot: magic, state,
	// flags, pathLen, capacity, payloadLen, version.
	slotHeaderSize = 20

	// flagCaseSensitive is bit 0 of the file header's flags field.
	flagCaseSensitive = uint16(1) << 0

	// minSlotSize is the smallest capacity a split-off Free slot may have;
	// a would-be fragment smaller than this is left as dead space inside
	// the slot being split instead of becoming its own Free slot.
	minSlotSize = 64
)

// absOffset converts an offset relative to the start of the slot region
// (as stored in every extent and slotDescriptor) into an absolute file
// offset suitable for backingFile.readAt/writeAt.
func absOffset(rel int64) int64 {
	return int64(fileHeaderSize) + rel
}

type slotState byte

const (
	slotFree slotState = 0
	slotUsed slotState = 1
)

// fileHeader is the first fileHeaderSize bytes of the backing file.
//
//	offset 0  magic      [4]byte  "PST1"
//	offset 4  version    uint16
//	offset 6  flags      uint16
//	offset 8  reserved   [16]byte
//	offset 24 fileSize   uint64   declared total file length
type fileHeader struct {
	version  uint16
	flags    uint16
	fileSize uint64
}

func (h fileHeader) caseSensitive() bool {
	return h.flags&flagCaseSensitive != 0
}

func encodeFileHeader(h fileHeader) []byte {
	buf := make([]byte, fileHeaderSize)
	copy(buf[0:4], fileMagic)
	binary.LittleEndian.PutUint16(buf[4:6], h.version)
	binary.LittleEndian.PutUint16(buf[6:8], h.flags)
	binary.LittleEndian.PutUint64(buf[24:32], h.fileSize)

	return buf
}

func decodeFileHeader(buf []byte) (fileHeader, error) {
	if len(buf) < fileHeaderSize {
		return fileHeader{}, fmt.Errorf("%w: short file header (%d bytes)", ErrCorrupt, len(buf))
	}

	if string(buf[0:4]) != fileMagic {
		return fileHeader{}, fmt.Errorf("%w: bad file magic", ErrCorrupt)
	}

	h := fileHeader{
		version:  binary.LittleEndian.Uint16(buf[4:6]),
		flags:    binary.LittleEndian.Uint16(buf[6:8]),
		fileSize: binary.LittleEndian.Uint64(buf[24:32]),
	}

	if h.version != formatVers1 {
		return fileHeader{}, fmt.Errorf("%w: unsupported format version %d", ErrCorrupt, h.version)
	}

	return h, nil
}

// slotHeader is the fixed-size prefix of every slot.
//
//	offset 0  magic         [4]byte  "SLOT"
//	offset 4  state         byte     0 = Free, 1 = Used
//	offset 5  flags         byte     reserved
//	offset 6  pathLen       uint16   bytes, 0 for Free
//	offset 8  capacity      uint32   total slot size including this header
//	offset 12 payloadLen    uint32   live payload length, 0 for Free
//
// the version field occupies the last 4 bytes of the header, ahead of the
// path bytes.
type slotHeader struct {
	state      slotState
	pathLen    uint16
	capacity   uint32
	payloadLen uint32
	version    uint32
}

func encodeSlotHeader(h slotHeader) []byte {
	buf := make([]byte, slotHeaderSize)
	copy(buf[0:4], slotMagic)
	buf[4] = byte(h.state)
	buf[5] = 0
	binary.LittleEndian.PutUint16(buf[6:8], h.pathLen)
	binary.LittleEndian.PutUint32(buf[8:12], h.capacity)
	binary.LittleEndian.PutUint32(buf[12:16], h.payloadLen)
	binary.LittleEndian.PutUint32(buf[16:20], h.version)

	return buf
}

// rawSlotHeaderFields extracts the capacity/state/pathLen/payloadLen/version
// fields without checking the magic, so a caller recovering from a damaged
// header (bad magic byte, §8.3 S6) can still learn how far to advance the
// scan. buf must already be at least slotHeaderSize bytes, as guaranteed by
// the length check in decodeSlotHeader's caller.
func rawSlotHeaderFields(buf []byte) slotHeader {
	return slotHeader{
		state:      slotState(buf[4]),
		pathLen:    binary.LittleEndian.Uint16(buf[6:8]),
		capacity:   binary.LittleEndian.Uint32(buf[8:12]),
		payloadLen: binary.LittleEndian.Uint32(buf[12:16]),
		version:    binary.LittleEndian.Uint32(buf[16:20]),
	}
}

func decodeSlotHeader(buf []byte) (slotHeader, error) {
	if len(buf) < slotHeaderSize {
		return slotHeader{}, fmt.Errorf("%w: short slot header (%d bytes)", ErrCorrupt, len(buf))
	}

	if string(buf[0:4]) != slotMagic {
		return slotHeader{}, fmt.Errorf("%w: bad slot magic", ErrCorrupt)
	}

	state := slotState(buf[4])
	if state != slotFree && state != slotUsed {
		return slotHeader{}, fmt.Errorf("%w: invalid slot state %d", ErrCorrupt, buf[4])
	}

	return slotHeader{
		state:      state,
		pathLen:    binary.LittleEndian.Uint16(buf[6:8]),
		capacity:   binary.LittleEndian.Uint32(buf[8:12]),
		payloadLen: binary.LittleEndian.Uint32(buf[12:16]),
		version:    binary.LittleEndian.Uint32(buf[16:20]),
	}, nil
}
