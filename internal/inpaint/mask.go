package inpaint

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	"image/png"

	"golang.org/x/image/draw"

	"github.com/DoyleJ11/duet-canvas/internal/engine"
)

// Prepare decodes a base64 canvas, scales it to size×size and builds a mask
// of the same dimensions: white over the half to regenerate, black elsewhere.
// Both are returned PNG-encoded.
func Prepare(canvasB64 string, complete engine.Side, size int) (img, mask []byte, err error) {
	raw, err := base64.StdEncoding.DecodeString(canvasB64)
	if err != nil {
		return nil, nil, fmt.Errorf("decoding canvas: %w", err)
	}
	src, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, nil, fmt.Errorf("decoding canvas image: %w", err)
	}

	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)

	img, err = encodePNG(dst)
	if err != nil {
		return nil, nil, err
	}
	mask, err = encodePNG(Mask(complete, size))
	if err != nil {
		return nil, nil, err
	}
	return img, mask, nil
}

// Mask returns a size×size gray image, white on the given half.
func Mask(complete engine.Side, size int) *image.Gray {
	m := image.NewGray(image.Rect(0, 0, size, size))
	draw.Draw(m, m.Bounds(), image.NewUniform(color.Black), image.Point{}, draw.Src)

	half := size / 2
	white := image.Rect(half, 0, size, size)
	if complete == engine.SideLeft {
		white = image.Rect(0, 0, half, size)
	}
	draw.Draw(m, white, image.NewUniform(color.White), image.Point{}, draw.Src)
	return m
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding png: %w", err)
	}
	return buf.Bytes(), nil
}
