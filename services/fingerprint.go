package services

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"math/bits"
	"sort"
	"strconv"
	"strings"
)

// Fingerprint is a 64-bit perceptual hash of a garment photo. Visually
// near-identical photos (recompression, mild resize) land within a few
// bits of each other, so hamming distance is the similarity measure.
type Fingerprint uint64

const fingerprintHexLen = 16

const hashSampleSize = 32 // image is resampled to 32x32 before the DCT
const hashBlockSize = 8   // low-frequency block kept from the DCT

// DecodeError reports input that could not be turned into a fingerprint:
// an unreadable image payload or a malformed hex encoding.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fingerprint decode: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("fingerprint decode: %s", e.Reason)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// ComputeFingerprint hashes raw image bytes (jpeg or png). Same bytes
// always produce the same fingerprint. No I/O.
func ComputeFingerprint(data []byte) (Fingerprint, error) {
	if len(data) == 0 {
		return 0, &DecodeError{Reason: "empty image payload"}
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return 0, &DecodeError{Reason: "unreadable image", Err: err}
	}
	gray := resampleGray(img, hashSampleSize)
	freq := dct2d(gray)

	// keep the top-left low-frequency block and threshold it against its
	// own median, same block the mobile clients are calibrated to
	block := make([]float64, 0, hashBlockSize*hashBlockSize)
	for y := 0; y < hashBlockSize; y++ {
		for x := 0; x < hashBlockSize; x++ {
			block = append(block, freq[y][x])
		}
	}
	med := median(block)

	var fp Fingerprint
	for i, v := range block {
		if v > med {
			fp |= 1 << uint(63-i)
		}
	}
	return fp, nil
}

// ParseFingerprint reads the 16-char lowercase hex form used in the DB
// and over the wire.
func ParseFingerprint(s string) (Fingerprint, error) {
	if len(s) != fingerprintHexLen {
		return 0, &DecodeError{Reason: fmt.Sprintf("fingerprint must be %d hex chars, got %d", fingerprintHexLen, len(s))}
	}
	v, err := strconv.ParseUint(strings.ToLower(s), 16, 64)
	if err != nil {
		return 0, &DecodeError{Reason: "invalid hex fingerprint", Err: err}
	}
	return Fingerprint(v), nil
}

func (f Fingerprint) Hex() string {
	return fmt.Sprintf("%016x", uint64(f))
}

// Distance is the hamming distance between two fingerprints.
func (f Fingerprint) Distance(other Fingerprint) int {
	return bits.OnesCount64(uint64(f) ^ uint64(other))
}

// resampleGray area-averages the image down to a size x size grayscale
// grid. Area averaging keeps extreme aspect ratios hashable instead of
// dropping columns the way nearest-neighbor would.
func resampleGray(img image.Image, size int) [][]float64 {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := make([][]float64, size)
	for ty := 0; ty < size; ty++ {
		out[ty] = make([]float64, size)
		y0 := b.Min.Y + ty*h/size
		y1 := b.Min.Y + (ty+1)*h/size
		if y1 <= y0 {
			y1 = y0 + 1
		}
		for tx := 0; tx < size; tx++ {
			x0 := b.Min.X + tx*w/size
			x1 := b.Min.X + (tx+1)*w/size
			if x1 <= x0 {
				x1 = x0 + 1
			}
			var sum float64
			var n int
			for y := y0; y < y1 && y < b.Max.Y; y++ {
				for x := x0; x < x1 && x < b.Max.X; x++ {
					r, g, bl, _ := img.At(x, y).RGBA()
					// ITU-R 601 luma on 16-bit channels
					sum += 0.299*float64(r) + 0.587*float64(g) + 0.114*float64(bl)
					n++
				}
			}
			if n > 0 {
				out[ty][tx] = sum / float64(n) / 257.0
			}
		}
	}
	return out
}

// dct2d runs a separable type-II DCT over the square input grid.
func dct2d(in [][]float64) [][]float64 {
	n := len(in)
	cosT := make([][]float64, n)
	for k := range cosT {
		cosT[k] = make([]float64, n)
		for i := 0; i < n; i++ {
			cosT[k][i] = math.Cos(math.Pi * float64(k) * (2*float64(i) + 1) / (2 * float64(n)))
		}
	}
	rows := make([][]float64, n)
	for y := 0; y < n; y++ {
		rows[y] = make([]float64, n)
		for k := 0; k < n; k++ {
			var sum float64
			for x := 0; x < n; x++ {
				sum += in[y][x] * cosT[k][x]
			}
			rows[y][k] = sum
		}
	}
	out := make([][]float64, n)
	for k := 0; k < n; k++ {
		out[k] = make([]float64, n)
	}
	for x := 0; x < n; x++ {
		for k := 0; k < n; k++ {
			var sum float64
			for y := 0; y < n; y++ {
				sum += rows[y][x] * cosT[k][y]
			}
			out[k][x] = sum
		}
	}
	return out
}

func median(values []float64) float64 {
	s := make([]float64, len(values))
	copy(s, values)
	sort.Float64s(s)
	mid := len(s) / 2
	if len(s)%2 == 0 {
		return (s[mid-1] + s[mid]) / 2
	}
	return s[mid]
}
