package flashio

import (
	"testing"

	"github.com/calvinalkan/ubi-wl/internal/wl"
)

// -----------------------------------------------------------------------------
// EC header round-trip
// -----------------------------------------------------------------------------

func TestECHeader_EncodeDecode_RoundTrips(t *testing.T) {
	buf := encodeECHeader(12345)

	ec, blank, err := decodeECHeader(buf)
	if got, want := err, error(nil); got != want {
		t.Fatalf("err=%v, want=%v", got, want)
	}

	if blank {
		t.Fatalf("blank=true, want=false for a freshly encoded header")
	}

	if got, want := ec, uint64(12345); got != want {
		t.Fatalf("ec=%d, want=%d", got, want)
	}
}

func TestECHeader_Decode_ReportsBlankForAllFF(t *testing.T) {
	buf := make([]byte, ecHeaderSize)
	for i := range buf {
		buf[i] = 0xFF
	}

	ec, blank, err := decodeECHeader(buf)
	if got, want := err, error(nil); got != want {
		t.Fatalf("err=%v, want=%v", got, want)
	}

	if !blank {
		t.Fatalf("blank=false, want=true for an all-0xFF header")
	}

	if got, want := ec, uint64(0); got != want {
		t.Fatalf("ec=%d, want=%d", got, want)
	}
}

func TestECHeader_Decode_RejectsCRCMismatch(t *testing.T) {
	buf := encodeECHeader(7)
	buf[4] ^= 0xFF // corrupt the encoded ec without touching the crc

	_, _, err := decodeECHeader(buf)
	if err == nil {
		t.Fatalf("err=nil, want a crc mismatch error")
	}
}

func TestECHeader_Decode_RejectsShortBuffer(t *testing.T) {
	_, _, err := decodeECHeader(make([]byte, ecHeaderSize-1))
	if err == nil {
		t.Fatalf("err=nil, want a short-read error")
	}
}

// -----------------------------------------------------------------------------
// VID header round-trip
// -----------------------------------------------------------------------------

func TestVIDHeader_EncodeDecode_RoundTrips(t *testing.T) {
	in := wl.VIDHeader{
		Sqnum:    99,
		VolID:    3,
		Lnum:     7,
		DataSize: 4096,
		UsedEBs:  2,
		DataPad:  8,
		DataCRC:  0xDEADBEEF,
		VolType:  wl.VolTypeStatic,
		CopyFlag: 1,
		Compat:   0,
	}

	buf := encodeVIDHeader(in)

	out, blank, err := decodeVIDHeader(buf)
	if got, want := err, error(nil); got != want {
		t.Fatalf("err=%v, want=%v", got, want)
	}

	if blank {
		t.Fatalf("blank=true, want=false")
	}

	if out != in {
		t.Fatalf("decoded=%+v, want=%+v", out, in)
	}
}

func TestVIDHeader_Decode_ReportsBlankForAllFF(t *testing.T) {
	buf := make([]byte, vidHeaderSize)
	for i := range buf {
		buf[i] = 0xFF
	}

	_, blank, err := decodeVIDHeader(buf)
	if got, want := err, error(nil); got != want {
		t.Fatalf("err=%v, want=%v", got, want)
	}

	if !blank {
		t.Fatalf("blank=false, want=true")
	}
}

func TestVIDHeader_Decode_RejectsCRCMismatch(t *testing.T) {
	buf := encodeVIDHeader(wl.VIDHeader{VolID: 1, Lnum: 1})
	buf[0] ^= 0xFF

	_, _, err := decodeVIDHeader(buf)
	if err == nil {
		t.Fatalf("err=nil, want a crc mismatch error")
	}
}
