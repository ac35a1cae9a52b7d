// Package preprocess turns a photographed wrapper into a binary image that
// an OCR engine can read reliably under uneven lighting.
package preprocess

import (
	"image"
	"math"

	"github.com/disintegration/imaging"
)

// Options holds the tuning constants of the normalization pipeline
type Options struct {
	// BlurSigma is the standard deviation of the noise-suppression blur
	BlurSigma float64
	// BlockSize is the side of the adaptive threshold neighborhood (odd, >= 3)
	BlockSize int
	// C is subtracted from the local mean before comparing
	C int
	// CloseSize is the side of the square closing element
	CloseSize int
}

// DefaultOptions returns the pipeline constants tuned for printed wrapper codes:
// a 5x5-equivalent Gaussian blur, an 11px Gaussian adaptive threshold with C=2
// and a 2x2 closing.
func DefaultOptions() Options {
	return Options{
		BlurSigma: 1.1,
		BlockSize: 11,
		C:         2,
		CloseSize: 2,
	}
}

func (o Options) sanitized() Options {
	def := DefaultOptions()
	if o.BlurSigma < 0 {
		o.BlurSigma = def.BlurSigma
	}
	if o.BlockSize < 3 || o.BlockSize%2 == 0 {
		o.BlockSize = def.BlockSize
	}
	if o.CloseSize < 1 {
		o.CloseSize = def.CloseSize
	}
	return o
}

// Normalize converts img into a binary (0/255) grayscale image of the same
// size using DefaultOptions. It is a pure function of its input.
func Normalize(img image.Image) *image.Gray {
	return NormalizeWithOptions(img, DefaultOptions())
}

// NormalizeWithOptions runs grayscale, blur, adaptive threshold and closing,
// in that order.
func NormalizeWithOptions(img image.Image, opts Options) *image.Gray {
	opts = opts.sanitized()

	gray := imaging.Grayscale(img)
	if opts.BlurSigma > 0 {
		gray = imaging.Blur(gray, opts.BlurSigma)
	}

	binary := adaptiveThreshold(toGray(gray), opts.BlockSize, opts.C)
	return closing(binary, opts.CloseSize)
}

// toGray projects an NRGBA image whose channels are already equal onto a
// single-channel image.
func toGray(src *image.NRGBA) *image.Gray {
	b := src.Bounds()
	dst := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		row := src.Pix[y*src.Stride:]
		out := dst.Pix[y*dst.Stride:]
		for x := 0; x < b.Dx(); x++ {
			out[x] = row[x*4]
		}
	}
	return dst
}

// gaussianKernel returns normalized 1D weights for an odd size, using the
// same size-derived sigma as OpenCV's adaptive threshold.
func gaussianKernel(size int) []float64 {
	sigma := 0.3*(float64(size-1)*0.5-1) + 0.8
	radius := size / 2
	kernel := make([]float64, size)
	var sum float64
	for i := range kernel {
		d := float64(i - radius)
		kernel[i] = math.Exp(-(d * d) / (2 * sigma * sigma))
		sum += kernel[i]
	}
	for i := range kernel {
		kernel[i] /= sum
	}
	return kernel
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// adaptiveThreshold compares every pixel to the Gaussian-weighted mean of its
// block neighborhood (borders replicated). Pixels above mean-c become 255.
func adaptiveThreshold(src *image.Gray, blockSize, c int) *image.Gray {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	dst := image.NewGray(image.Rect(0, 0, w, h))
	if w == 0 || h == 0 {
		return dst
	}

	kernel := gaussianKernel(blockSize)
	radius := blockSize / 2

	horizontal := make([]float64, w*h)
	for y := 0; y < h; y++ {
		row := src.Pix[y*src.Stride:]
		for x := 0; x < w; x++ {
			var acc float64
			for k, weight := range kernel {
				acc += weight * float64(row[clamp(x+k-radius, 0, w-1)])
			}
			horizontal[y*w+x] = acc
		}
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var acc float64
			for k, weight := range kernel {
				acc += weight * horizontal[clamp(y+k-radius, 0, h-1)*w+x]
			}
			mean := int(math.Floor(acc + 0.5))
			if int(src.Pix[y*src.Stride+x])-mean > -c {
				dst.Pix[y*dst.Stride+x] = 255
			}
		}
	}
	return dst
}

// closing dilates then erodes with a size x size square anchored at its
// center. Pixels outside the image do not take part.
func closing(src *image.Gray, size int) *image.Gray {
	if size <= 1 {
		return src
	}
	return morph(morph(src, size, true), size, false)
}

func morph(src *image.Gray, size int, dilate bool) *image.Gray {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	dst := image.NewGray(image.Rect(0, 0, w, h))
	lo := -(size / 2)
	hi := size - 1 + lo

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var v uint8
			if !dilate {
				v = 255
			}
			for dy := lo; dy <= hi; dy++ {
				yy := y + dy
				if yy < 0 || yy >= h {
					continue
				}
				for dx := lo; dx <= hi; dx++ {
					xx := x + dx
					if xx < 0 || xx >= w {
						continue
					}
					p := src.Pix[yy*src.Stride+xx]
					if dilate && p > v || !dilate && p < v {
						v = p
					}
				}
			}
			dst.Pix[y*dst.Stride+x] = v
		}
	}
	return dst
}
