package convert

import (
	"bytes"

	"github.com/rwcarlsen/goexif/exif"
)

var (
	tiffLittleEndian = []byte{'I', 'I', 0x2A, 0x00}
	tiffBigEndian    = []byte{'M', 'M', 0x00, 0x2A}
)

// orientationFromExif reads the EXIF orientation tag out of a raw metadata
// block. HEIC containers store the block with a leading item offset and/or an
// "Exif\0\0" marker before the TIFF stream, so the block is sliced to the
// TIFF magic first. Missing or unreadable metadata means upright (1).
func orientationFromExif(data []byte) int {
	tiff := sliceToTIFF(data)
	if tiff == nil {
		return 1
	}

	x, err := exif.Decode(bytes.NewReader(tiff))
	if err != nil {
		return 1
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return 1
	}
	v, err := tag.Int(0)
	if err != nil || v < 1 || v > 8 {
		return 1
	}
	return v
}

func sliceToTIFF(data []byte) []byte {
	for _, magic := range [][]byte{tiffLittleEndian, tiffBigEndian} {
		idx := bytes.Index(data, magic)
		if idx >= 0 && idx <= 16 {
			return data[idx:]
		}
	}
	return nil
}
