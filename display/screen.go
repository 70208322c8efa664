// Package display renders the station menus and photos on the small TFT panel.
package display

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"strings"
	"sync"

	"github.com/nfnt/resize"
	"go.uber.org/zap"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

var (
	background = color.Black
	foreground = color.White
	accent     = color.RGBA{R: 0x4c, G: 0xaf, B: 0x50, A: 0xff}
	alert      = color.RGBA{R: 0xe5, G: 0x39, B: 0x35, A: 0xff}
)

const (
	lineHeight = 16
	margin     = 4
)

// Screen composes station screens and pushes them to a panel
type Screen struct {
	panel    Panel
	logoPath string
	face     font.Face
	logger   *zap.Logger
	mu       sync.Mutex
}

// NewScreen creates a screen on panel. logoPath may be empty.
func NewScreen(panel Panel, logoPath string, logger *zap.Logger) *Screen {
	return &Screen{panel: panel, logoPath: logoPath, face: basicfont.Face7x13, logger: logger}
}

// ShowLogo shows the splash image, or the station name if no logo is configured
func (s *Screen) ShowLogo() error {
	if s.logoPath != "" {
		err := s.ShowImage(s.logoPath)
		if err == nil {
			return nil
		}
		s.logger.Warn("logo unavailable, showing station name", zap.String("path", s.logoPath), zap.Error(err))
	}
	return s.text("PhenoStation", accent, nil, "", "")
}

// ShowMainMenu offers calibration/preview on the left and measuring on the right
func (s *Screen) ShowMainMenu() error {
	return s.text("PhenoStation", accent, []string{"", "Left:", " calibrate or", " preview", "Right:", " start measuring"}, "Setup", "Measure")
}

// ShowCalibrationPreviewMenu offers calibration on the left and camera preview on the right
func (s *Screen) ShowCalibrationPreviewMenu() error {
	return s.text("Setup", accent, []string{"", "Left: calibrate", "Right: preview"}, "Calib", "Preview")
}

// ShowCalibration shows the last raw weight and the tare side by side
func (s *Screen) ShowCalibration(raw, tare float64) error {
	return s.text("Calibration", accent, []string{
		"",
		fmt.Sprintf("Raw:  %.1f", raw),
		fmt.Sprintf("Tare: %.1f", tare),
	}, "Sample", "Back")
}

// ShowMeasuring is shown once measuring starts
func (s *Screen) ShowMeasuring() error {
	return s.text("Measuring", accent, []string{"", "Cycle running.", "Buttons are", "disabled."}, "", "")
}

// ShowError shows msg wrapped to the panel width
func (s *Screen) ShowError(msg string) error {
	return s.text("Error", alert, wrap(msg, s.columns()), "", "")
}

// ShowImage scales the image at path to fit the panel and centers it
func (s *Screen) ShowImage(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open image: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return fmt.Errorf("decode image %s: %w", path, err)
	}

	return s.draw(FitImage(img, s.panel.Size()))
}

// FitImage scales img to fit within size, preserving aspect ratio, centered on black
func FitImage(img image.Image, size image.Point) image.Image {
	frame := image.NewRGBA(image.Rectangle{Max: size})
	draw.Draw(frame, frame.Bounds(), image.NewUniform(background), image.Point{}, draw.Src)

	scaled := resize.Thumbnail(uint(size.X), uint(size.Y), img, resize.Bilinear)
	sb := scaled.Bounds()
	offset := image.Pt((size.X-sb.Dx())/2, (size.Y-sb.Dy())/2)
	draw.Draw(frame, sb.Sub(sb.Min).Add(offset), scaled, sb.Min, draw.Src)
	return frame
}

// text lays out a title, body lines and the two button hints at the bottom corners
func (s *Screen) text(title string, titleColor color.Color, lines []string, leftHint, rightHint string) error {
	size := s.panel.Size()
	frame := image.NewRGBA(image.Rectangle{Max: size})
	draw.Draw(frame, frame.Bounds(), image.NewUniform(background), image.Point{}, draw.Src)

	y := margin + lineHeight
	s.drawString(frame, title, margin, y, titleColor)
	for _, l := range lines {
		y += lineHeight
		if y > size.Y-lineHeight-margin {
			break
		}
		s.drawString(frame, l, margin, y, foreground)
	}

	bottom := size.Y - margin
	if leftHint != "" {
		s.drawString(frame, "<"+leftHint, margin, bottom, accent)
	}
	if rightHint != "" {
		hint := rightHint + ">"
		width := font.MeasureString(s.face, hint).Ceil()
		s.drawString(frame, hint, size.X-margin-width, bottom, accent)
	}

	return s.draw(frame)
}

func (s *Screen) drawString(dst draw.Image, text string, x, y int, c color.Color) {
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(c),
		Face: s.face,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(text)
}

func (s *Screen) draw(frame image.Image) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.panel.Draw(frame); err != nil {
		return fmt.Errorf("draw frame: %w", err)
	}
	return nil
}

func (s *Screen) columns() int {
	advance := font.MeasureString(s.face, "M").Ceil()
	if advance <= 0 {
		return 1
	}
	return (s.panel.Size().X - 2*margin) / advance
}

// wrap breaks msg into lines of at most width runes, splitting on spaces where possible
func wrap(msg string, width int) []string {
	if width < 1 {
		width = 1
	}
	var lines []string
	var cur []rune
	for _, field := range strings.Fields(msg) {
		word := []rune(field)
		for len(word) > width {
			if len(cur) > 0 {
				lines = append(lines, string(cur))
				cur = cur[:0]
			}
			lines = append(lines, string(word[:width]))
			word = word[width:]
		}
		switch {
		case len(cur) == 0:
			cur = append(cur, word...)
		case len(cur)+1+len(word) <= width:
			cur = append(cur, ' ')
			cur = append(cur, word...)
		default:
			lines = append(lines, string(cur))
			cur = append(cur[:0], word...)
		}
	}
	if len(cur) > 0 {
		lines = append(lines, string(cur))
	}
	return lines
}
