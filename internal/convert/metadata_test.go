package convert

import "testing"

// buildOrientationTIFF builds a minimal little-endian TIFF stream whose IFD0
// holds a single orientation tag.
func buildOrientationTIFF(orientation uint16) []byte {
	data := []byte{
		'I', 'I', 0x2A, 0x00, // little-endian TIFF magic
		0x08, 0x00, 0x00, 0x00, // IFD0 offset
		0x01, 0x00, // one entry
		0x12, 0x01, // tag 0x0112 (orientation)
		0x03, 0x00, // type SHORT
		0x01, 0x00, 0x00, 0x00, // count 1
		byte(orientation), byte(orientation >> 8), 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, // no next IFD
	}
	return data
}

func TestOrientationFromExif(t *testing.T) {
	for want := 1; want <= 8; want++ {
		got := orientationFromExif(buildOrientationTIFF(uint16(want)))
		if got != want {
			t.Fatalf("orientation %d parsed as %d", want, got)
		}
	}
}

func TestOrientationFromExifWithMarkerPrefix(t *testing.T) {
	// HEIC Exif items carry an "Exif\0\0" marker before the TIFF stream.
	data := append([]byte("Exif\x00\x00"), buildOrientationTIFF(6)...)
	if got := orientationFromExif(data); got != 6 {
		t.Fatalf("expected orientation 6 behind marker, got %d", got)
	}
}

func TestOrientationFromExifDefaultsUpright(t *testing.T) {
	cases := [][]byte{
		nil,
		[]byte("not exif at all"),
		buildOrientationTIFF(0),
		buildOrientationTIFF(9),
	}
	for i, data := range cases {
		if got := orientationFromExif(data); got != 1 {
			t.Fatalf("case %d: expected upright default, got %d", i, got)
		}
	}
}
