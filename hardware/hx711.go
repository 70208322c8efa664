package hardware

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

// ErrNotReady is returned when the HX711 does not signal a conversion in time
var ErrNotReady = errors.New("hx711 not ready")

const (
	hx711Bits = 24
	// one extra pulse selects channel A, gain 128, for the next conversion
	hx711GainPulsesA128 = 1
)

// HX711 reads the 24-bit load-cell amplifier by bit-banging its DOUT and PD_SCK lines
type HX711 struct {
	dout line
	sck  line

	gainPulses   int
	readyTimeout time.Duration
	readyPoll    time.Duration

	mu sync.Mutex
}

// OpenHX711 requests the data and clock lines on chip
func OpenHX711(chip string, doutOffset, sckOffset int) (*HX711, error) {
	dout, err := gpiocdev.RequestLine(chip, doutOffset, gpiocdev.AsInput, gpiocdev.WithConsumer(consumer))
	if err != nil {
		return nil, fmt.Errorf("request hx711 dout (%s:%d): %w", chip, doutOffset, err)
	}
	sck, err := gpiocdev.RequestLine(chip, sckOffset, gpiocdev.AsOutput(0), gpiocdev.WithConsumer(consumer))
	if err != nil {
		dout.Close()
		return nil, fmt.Errorf("request hx711 sck (%s:%d): %w", chip, sckOffset, err)
	}
	return newHX711(dout, sck), nil
}

func newHX711(dout, sck line) *HX711 {
	return &HX711{
		dout:         dout,
		sck:          sck,
		gainPulses:   hx711GainPulsesA128,
		readyTimeout: time.Second,
		readyPoll:    time.Millisecond,
	}
}

// ReadRaw waits for a conversion and returns the signed 24-bit value
func (h *HX711) ReadRaw(ctx context.Context) (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.waitReady(ctx); err != nil {
		return 0, err
	}

	var raw uint32
	for i := 0; i < hx711Bits; i++ {
		bit, err := h.pulse()
		if err != nil {
			return 0, err
		}
		raw = raw<<1 | uint32(bit)
	}
	for i := 0; i < h.gainPulses; i++ {
		if _, err := h.pulse(); err != nil {
			return 0, err
		}
	}

	return signExtend24(raw), nil
}

// waitReady polls DOUT until the chip pulls it low
func (h *HX711) waitReady(ctx context.Context) error {
	deadline := time.Now().Add(h.readyTimeout)
	for {
		v, err := h.dout.Value()
		if err != nil {
			return fmt.Errorf("read hx711 dout: %w", err)
		}
		if v == 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return ErrNotReady
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(h.readyPoll):
		}
	}
}

// pulse clocks one bit out of the chip
func (h *HX711) pulse() (int, error) {
	if err := h.sck.SetValue(1); err != nil {
		return 0, fmt.Errorf("set hx711 sck: %w", err)
	}
	if err := h.sck.SetValue(0); err != nil {
		return 0, fmt.Errorf("clear hx711 sck: %w", err)
	}
	v, err := h.dout.Value()
	if err != nil {
		return 0, fmt.Errorf("read hx711 dout: %w", err)
	}
	return v, nil
}

// Close powers the chip down (PD_SCK held high) and releases both lines
func (h *HX711) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return errors.Join(h.sck.SetValue(1), h.sck.Close(), h.dout.Close())
}

func signExtend24(v uint32) int64 {
	v &= 0xFFFFFF
	if v&0x800000 != 0 {
		return int64(v) - 0x1000000
	}
	return int64(v)
}
