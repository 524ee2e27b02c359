package flashio

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/calvinalkan/ubi-wl/internal/wl"
)

// ecHeaderSize is the fixed on-flash layout for the erase-counter header:
// magic:4, ec:8, crc:4.
const ecHeaderSize = 16

var ecMagic = [4]byte{'U', 'B', 'W', '1'}

// vidHeaderSize is the fixed on-flash size of one VID header slot. It is
// wl.VIDHeaderWireSize, so both packages share one definition of the
// byte offsets.
const vidHeaderSize = wl.VIDHeaderWireSize

// encodeECHeader serializes ec into a fresh ecHeaderSize-byte buffer.
func encodeECHeader(ec uint64) []byte {
	buf := make([]byte, ecHeaderSize)
	copy(buf[0:4], ecMagic[:])
	binary.BigEndian.PutUint64(buf[4:12], ec)
	binary.BigEndian.PutUint32(buf[12:16], crc32.ChecksumIEEE(buf[0:12]))

	return buf
}

// decodeECHeader parses buf (which must be ecHeaderSize bytes) and reports
// whether it is blank (all 0xFF, never written).
func decodeECHeader(buf []byte) (ec uint64, blank bool, err error) {
	if len(buf) != ecHeaderSize {
		return 0, false, fmt.Errorf("flashio: ec header: short read (%d bytes)", len(buf))
	}

	if isBlank(buf) {
		return 0, true, nil
	}

	if [4]byte(buf[0:4]) != ecMagic {
		return 0, false, fmt.Errorf("flashio: ec header: bad magic")
	}

	want := binary.BigEndian.Uint32(buf[12:16])
	got := crc32.ChecksumIEEE(buf[0:12])

	if want != got {
		return 0, false, fmt.Errorf("flashio: ec header: crc mismatch")
	}

	return binary.BigEndian.Uint64(buf[4:12]), false, nil
}

// encodeVIDHeader serializes v into a fresh vidHeaderSize-byte slot,
// zero-padded after the checksum.
func encodeVIDHeader(v wl.VIDHeader) []byte {
	buf := make([]byte, vidHeaderSize)

	binary.BigEndian.PutUint64(buf[0:8], v.Sqnum)
	binary.BigEndian.PutUint32(buf[8:12], uint32(v.VolID))
	binary.BigEndian.PutUint32(buf[12:16], uint32(v.Lnum))
	binary.BigEndian.PutUint32(buf[16:20], v.DataSize)
	binary.BigEndian.PutUint32(buf[20:24], v.UsedEBs)
	binary.BigEndian.PutUint32(buf[24:28], v.DataPad)
	binary.BigEndian.PutUint32(buf[28:32], v.DataCRC)
	buf[32] = byte(v.VolType)
	buf[33] = v.CopyFlag
	buf[34] = v.Compat
	binary.BigEndian.PutUint32(buf[35:39], crc32.ChecksumIEEE(buf[0:35]))

	return buf
}

// decodeVIDHeader parses one vidHeaderSize-byte slot. blank reports an
// unwritten (all-0xFF) slot, which is not an error.
func decodeVIDHeader(buf []byte) (v wl.VIDHeader, blank bool, err error) {
	if len(buf) != vidHeaderSize {
		return wl.VIDHeader{}, false, fmt.Errorf("flashio: vid header: short read (%d bytes)", len(buf))
	}

	if isBlank(buf) {
		return wl.VIDHeader{}, true, nil
	}

	want := binary.BigEndian.Uint32(buf[35:39])
	got := crc32.ChecksumIEEE(buf[0:35])

	if want != got {
		return wl.VIDHeader{}, false, fmt.Errorf("flashio: vid header: crc mismatch")
	}

	v = wl.VIDHeader{
		Sqnum:    binary.BigEndian.Uint64(buf[0:8]),
		VolID:    int32(binary.BigEndian.Uint32(buf[8:12])),
		Lnum:     int32(binary.BigEndian.Uint32(buf[12:16])),
		DataSize: binary.BigEndian.Uint32(buf[16:20]),
		UsedEBs:  binary.BigEndian.Uint32(buf[20:24]),
		DataPad:  binary.BigEndian.Uint32(buf[24:28]),
		DataCRC:  binary.BigEndian.Uint32(buf[28:32]),
		VolType:  wl.VolType(buf[32]),
		CopyFlag: buf[33],
		Compat:   buf[34],
	}

	return v, false, nil
}

func isBlank(buf []byte) bool {
	for _, b := range buf {
		if b != 0xFF {
			return false
		}
	}

	return true
}
