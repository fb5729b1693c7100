// Package imagingtest содержит готовые изображения для тестов.
package imagingtest

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
)

// tinyWebp - WebP lossless 1x1.
var tinyWebp = []byte{
	'R', 'I', 'F', 'F', 0x1a, 0x00, 0x00, 0x00,
	'W', 'E', 'B', 'P',
	'V', 'P', '8', 'L', 0x0d, 0x00, 0x00, 0x00,
	0x2f, 0x00, 0x00, 0x00, 0x10, 0x07, 0x10, 0x11, 0x11, 0x88, 0x88, 0xfe, 0x07, 0x00,
}

// Webp возвращает копию валидного WebP 1x1.
func Webp() []byte {
	return append([]byte(nil), tinyWebp...)
}

// PNG кодирует однотонное изображение заданного размера.
func PNG(width, height int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 30, B: 30, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}
