// Package digest fingerprints clipboard payloads.
//
// Text is hashed over its raw bytes. Images are first decoded and converted to
// a non-premultiplied RGBA pixel buffer; the fingerprint covers the dimensions
// and pixels, so the same picture copied as TIFF from one app and PNG from
// another collapses to a single history entry.
package digest

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/png"

	// Decoders for the encodings macOS and other platforms put on the pasteboard.
	_ "image/gif"
	_ "image/jpeg"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
)

// ErrUnsupportedImage is returned when pasteboard bytes cannot be decoded.
var ErrUnsupportedImage = errors.New("unsupported image data")

// Canonical is the single stored encoding of an image payload.
type Canonical struct {
	PNG    []byte
	Hash   string
	Width  int
	Height int
}

// Text returns the hex SHA-256 of s.
func Text(s string) string {
	return Bytes([]byte(s))
}

// Bytes returns the hex SHA-256 of b.
func Bytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Image decodes raw and returns its pixel fingerprint together with the
// decoded pixels.
func Image(raw []byte) (string, *image.NRGBA, error) {
	src, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
	}
	px := ToNRGBA(src)
	return Pixels(px), px, nil
}

// Pixels fingerprints an NRGBA buffer: width, height, then rows top to bottom.
func Pixels(img *image.NRGBA) string {
	h := sha256.New()
	b := img.Bounds()
	var dims [8]byte
	binary.BigEndian.PutUint32(dims[0:4], uint32(b.Dx()))
	binary.BigEndian.PutUint32(dims[4:8], uint32(b.Dy()))
	h.Write(dims[:])

	rowLen := b.Dx() * 4
	for y := 0; y < b.Dy(); y++ {
		off := y * img.Stride
		h.Write(img.Pix[off : off+rowLen])
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Canonicalize decodes raw pasteboard image data and re-encodes it as PNG.
func Canonicalize(raw []byte) (*Canonical, error) {
	hash, px, err := Image(raw)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.DefaultCompression}
	if err := enc.Encode(&buf, px); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}

	b := px.Bounds()
	return &Canonical{
		PNG:    buf.Bytes(),
		Hash:   hash,
		Width:  b.Dx(),
		Height: b.Dy(),
	}, nil
}

// ToNRGBA converts any image to a zero-origin NRGBA buffer.
func ToNRGBA(src image.Image) *image.NRGBA {
	b := src.Bounds()
	if n, ok := src.(*image.NRGBA); ok && b.Min == (image.Point{}) {
		return n
	}
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	return dst
}
