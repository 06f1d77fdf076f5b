package optimizer

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"

	_ "image/gif"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"mediavault/internal/pkg/mediatype"
)

// rasterTypes are the image formats that can be decoded and re-encoded.
var rasterTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/bmp":  true,
	"image/tiff": true,
	"image/webp": true,
}

func isRaster(contentType string) bool {
	return rasterTypes[mediatype.Base(contentType)]
}

// fitWithin scales (w, h) down to fit inside (maxW, maxH), keeping the
// aspect ratio. Images that already fit are returned unchanged.
func fitWithin(w, h, maxW, maxH int) (int, int) {
	if w <= 0 || h <= 0 {
		return w, h
	}
	ratio := min(float64(maxW)/float64(w), float64(maxH)/float64(h))
	if ratio >= 1 {
		return w, h
	}
	nw := max(int(float64(w)*ratio), 1)
	nh := max(int(float64(h)*ratio), 1)
	return nw, nh
}

func hasAlpha(img image.Image) bool {
	if o, ok := img.(interface{ Opaque() bool }); ok {
		return !o.Opaque()
	}
	return true
}

// DefaultMaxPixels bounds the decoded size of an image (50 megapixels).
const DefaultMaxPixels = 50_000_000

// checkPixels reads only the image header and rejects images whose decoded
// buffer would exceed maxPixels.
func checkPixels(data []byte, maxPixels int64) error {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: read image header: %v", ErrCorruptInput, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return fmt.Errorf("%w: image has no pixels", ErrCorruptInput)
	}
	if int64(cfg.Width)*int64(cfg.Height) > maxPixels {
		return fmt.Errorf("%w: image is %dx%d, above the %d pixel limit", ErrCorruptInput, cfg.Width, cfg.Height, maxPixels)
	}
	return nil
}

// processImage decodes, downsizes and re-encodes a raster image.
func processImage(data []byte, opts Options, maxPixels int64) (*Result, error) {
	if err := checkPixels(data, maxPixels); err != nil {
		return nil, err
	}
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: decode image: %v", ErrCorruptInput, err)
	}

	b := src.Bounds()
	w, h := fitWithin(b.Dx(), b.Dy(), opts.MaxWidth, opts.MaxHeight)
	rect := image.Rect(0, 0, w, h)
	keepAlpha := opts.PreserveAlpha && hasAlpha(src)

	dst := image.NewRGBA(rect)
	op := draw.Src
	if !keepAlpha {
		draw.Draw(dst, rect, image.NewUniform(color.White), image.Point{}, draw.Src)
		op = draw.Over
	}
	if w == b.Dx() && h == b.Dy() {
		draw.Draw(dst, rect, src, b.Min, op)
	} else {
		draw.CatmullRom.Scale(dst, rect, src, b, op, nil)
	}

	var buf bytes.Buffer
	res := &Result{Width: w, Height: h}
	if keepAlpha {
		enc := png.Encoder{CompressionLevel: png.DefaultCompression}
		if err := enc.Encode(&buf, dst); err != nil {
			return nil, fmt.Errorf("encode png: %w", err)
		}
		res.ContentType = "image/png"
	} else {
		if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: opts.Quality}); err != nil {
			return nil, fmt.Errorf("encode jpeg: %w", err)
		}
		res.ContentType = "image/jpeg"
	}
	res.Data = buf.Bytes()
	res.Optimized = !bytes.Equal(res.Data, data)
	return res, nil
}
