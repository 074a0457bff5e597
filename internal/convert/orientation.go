package convert

import (
	"image"

	"github.com/disintegration/imaging"
)

// uprightImage folds an EXIF orientation value into the pixel buffer so the
// output displays upright without an orientation tag. Values outside 1-8 are
// treated as upright.
func uprightImage(img image.Image, orientation int) image.Image {
	switch orientation {
	case 2:
		return imaging.FlipH(img)
	case 3:
		return imaging.Rotate180(img)
	case 4:
		return imaging.FlipV(img)
	case 5:
		return imaging.Transpose(img)
	case 6:
		return imaging.Rotate270(img)
	case 7:
		return imaging.Transverse(img)
	case 8:
		return imaging.Rotate90(img)
	default:
		return img
	}
}
