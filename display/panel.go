package display

import (
	"encoding/binary"
	"fmt"
	"image"
	"os"
	"sync"
)

// Panel shows a full frame
type Panel interface {
	Size() image.Point
	Draw(frame image.Image) error
}

// Framebuffer is a Linux fbdev panel in 16-bit RGB565, e.g. an ST7735 driven by fbtft at /dev/fb1
type Framebuffer struct {
	path   string
	width  int
	height int
	mu     sync.Mutex
}

// NewFramebuffer checks the device can be opened for writing
func NewFramebuffer(path string, width, height int) (*Framebuffer, error) {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("open framebuffer %s: %w", path, err)
	}
	f.Close()
	return &Framebuffer{path: path, width: width, height: height}, nil
}

// Size returns the panel resolution
func (fb *Framebuffer) Size() image.Point {
	return image.Pt(fb.width, fb.height)
}

// Draw writes frame to the device from offset 0
func (fb *Framebuffer) Draw(frame image.Image) error {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	f, err := os.OpenFile(fb.path, os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("open framebuffer %s: %w", fb.path, err)
	}
	defer f.Close()

	if _, err := f.WriteAt(ToRGB565(frame, fb.width, fb.height), 0); err != nil {
		return fmt.Errorf("write framebuffer %s: %w", fb.path, err)
	}
	return nil
}

// ToRGB565 encodes the top-left width x height area of img as little-endian RGB565.
// Pixels outside img are black.
func ToRGB565(img image.Image, width, height int) []byte {
	buf := make([]byte, width*height*2)
	b := img.Bounds()
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			px := image.Pt(b.Min.X+x, b.Min.Y+y)
			if !px.In(b) {
				continue
			}
			r, g, bl, _ := img.At(px.X, px.Y).RGBA()
			v := uint16(r>>11)<<11 | uint16(g>>10)<<5 | uint16(bl>>11)
			binary.LittleEndian.PutUint16(buf[(y*width+x)*2:], v)
		}
	}
	return buf
}
