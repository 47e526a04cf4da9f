package sdruntime

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chai2010/webp"
	"golang.org/x/image/draw"
)

// Image errors
var (
	ErrImageInvalidSize = errors.New("sdruntime: invalid image dimensions")
	ErrImageFormat      = errors.New("sdruntime: unsupported image format")
)

// CheckImageFormat reports whether WriteImage can encode the extension ext.
func CheckImageFormat(ext string) error {
	switch strings.ToLower(ext) {
	case ".png", ".webp", "":
		return nil
	}
	return fmt.Errorf("%w: %q", ErrImageFormat, ext)
}

// PixelsToImage wraps interleaved 8-bit pixels (3 = RGB, 4 = RGBA) in an
// NRGBA image. RGB input gets an opaque alpha channel.
func PixelsToImage(pixels []byte, width, height, channels int) (*image.NRGBA, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: width=%d height=%d", ErrImageInvalidSize, width, height)
	}
	if channels != 3 && channels != 4 {
		return nil, fmt.Errorf("%w: %d channels", ErrImageInvalidSize, channels)
	}

	expectedLen := width * height * channels
	if len(pixels) != expectedLen {
		return nil, fmt.Errorf("%w: expected %d bytes for %dx%dx%d, got %d",
			ErrImageInvalidSize, expectedLen, width, height, channels, len(pixels))
	}

	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	if channels == 4 {
		copy(img.Pix, pixels)
		return img, nil
	}

	for i, j := 0, 0; i < len(pixels); i, j = i+3, j+4 {
		img.Pix[j] = pixels[i]
		img.Pix[j+1] = pixels[i+1]
		img.Pix[j+2] = pixels[i+2]
		img.Pix[j+3] = 0xff
	}
	return img, nil
}

// EncodePNG encodes img as PNG.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// EncodeWebP encodes img as lossless WebP.
func EncodeWebP(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := webp.Encode(&buf, img, &webp.Options{Lossless: true}); err != nil {
		return nil, fmt.Errorf("encode webp: %w", err)
	}
	return buf.Bytes(), nil
}

// Thumbnail scales img so its longer side is maxSide, keeping aspect ratio.
// Images already within bounds are returned as a copy at full size.
func Thumbnail(img image.Image, maxSide int) *image.NRGBA {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	if maxSide > 0 && (w > maxSide || h > maxSide) {
		if w >= h {
			h = max(1, h*maxSide/w)
			w = maxSide
		} else {
			w = max(1, w*maxSide/h)
			h = maxSide
		}
	}

	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}

// WriteImage encodes img to w in the format named by ext (".png" or ".webp").
func WriteImage(w io.Writer, img image.Image, ext string) error {
	if err := CheckImageFormat(ext); err != nil {
		return err
	}
	var (
		data []byte
		err  error
	)
	if strings.ToLower(ext) == ".webp" {
		data, err = EncodeWebP(img)
	} else {
		data, err = EncodePNG(img)
	}
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// SaveImage writes img to path, choosing the encoding from the extension.
// Parent directories are created as needed.
func SaveImage(path string, img image.Image) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}

	var buf bytes.Buffer
	if err := WriteImage(&buf, img, filepath.Ext(path)); err != nil {
		return err
	}

	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
