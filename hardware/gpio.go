// Package hardware drives the station peripherals on a Raspberry Pi: GPIO
// lines for the LED and buttons, the HX711 load-cell amplifier and the camera.
package hardware

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/reef-pi/hal"
	"github.com/warthog618/go-gpiocdev"
)

const consumer = "phenostation"

// line is the subset of *gpiocdev.Line used by the pins and the HX711
type line interface {
	Value() (int, error)
	SetValue(value int) error
	Close() error
}

var (
	_ hal.DigitalInputDriver  = (*GPIODriver)(nil)
	_ hal.DigitalOutputDriver = (*GPIODriver)(nil)
)

// GPIOLines names the lines a GPIODriver requests, keyed by line offset
type GPIOLines struct {
	Inputs  map[int]string
	Outputs map[int]string
}

// GPIODriver serves pulled-up inputs and outputs from one GPIO character device
type GPIODriver struct {
	meta    hal.Metadata
	inputs  map[int]*InputPin
	outputs map[int]*OutputPin
}

// OpenGPIO requests every line in lines on chip. Outputs start LOW.
// Lines requested before a failure are released again.
func OpenGPIO(chip string, lines GPIOLines) (*GPIODriver, error) {
	d := newGPIODriver(chip)

	for _, offset := range sortedOffsets(lines.Inputs) {
		name := lines.Inputs[offset]
		l, err := gpiocdev.RequestLine(chip, offset,
			gpiocdev.AsInput,
			gpiocdev.WithPullUp,
			gpiocdev.WithConsumer(consumer),
		)
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("request input %s (%s:%d): %w", name, chip, offset, err)
		}
		d.inputs[offset] = &InputPin{name: name, number: offset, line: l}
	}

	for _, offset := range sortedOffsets(lines.Outputs) {
		name := lines.Outputs[offset]
		l, err := gpiocdev.RequestLine(chip, offset,
			gpiocdev.AsOutput(0),
			gpiocdev.WithConsumer(consumer),
		)
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("request output %s (%s:%d): %w", name, chip, offset, err)
		}
		d.outputs[offset] = &OutputPin{name: name, number: offset, line: l}
	}
	return d, nil
}

func newGPIODriver(chip string) *GPIODriver {
	return &GPIODriver{
		meta: hal.Metadata{
			Name:         "gpiocdev",
			Description:  "GPIO character device " + chip,
			Capabilities: []hal.Capability{hal.DigitalInput, hal.DigitalOutput},
		},
		inputs:  make(map[int]*InputPin),
		outputs: make(map[int]*OutputPin),
	}
}

func (d *GPIODriver) Name() string           { return d.meta.Name }
func (d *GPIODriver) Metadata() hal.Metadata { return d.meta }

// Close releases every requested line
func (d *GPIODriver) Close() error {
	var errs []error
	for _, p := range d.inputs {
		errs = append(errs, p.Close())
	}
	for _, p := range d.outputs {
		errs = append(errs, p.Close())
	}
	return errors.Join(errs...)
}

// Pins returns the pins serving cap
func (d *GPIODriver) Pins(cap hal.Capability) ([]hal.Pin, error) {
	var pins []hal.Pin
	switch cap {
	case hal.DigitalInput:
		for _, p := range d.DigitalInputPins() {
			pins = append(pins, p)
		}
	case hal.DigitalOutput:
		for _, p := range d.DigitalOutputPins() {
			pins = append(pins, p)
		}
	default:
		return nil, fmt.Errorf("unsupported capability: %s", cap.String())
	}
	return pins, nil
}

// DigitalInputPins returns the inputs ordered by line offset
func (d *GPIODriver) DigitalInputPins() []hal.DigitalInputPin {
	var pins []hal.DigitalInputPin
	for _, offset := range sortedOffsets(d.inputs) {
		pins = append(pins, d.inputs[offset])
	}
	return pins
}

func (d *GPIODriver) DigitalInputPin(n int) (hal.DigitalInputPin, error) {
	p, ok := d.inputs[n]
	if !ok {
		return nil, fmt.Errorf("%s: no digital input on line %d", d.meta.Name, n)
	}
	return p, nil
}

// DigitalOutputPins returns the outputs ordered by line offset
func (d *GPIODriver) DigitalOutputPins() []hal.DigitalOutputPin {
	var pins []hal.DigitalOutputPin
	for _, offset := range sortedOffsets(d.outputs) {
		pins = append(pins, d.outputs[offset])
	}
	return pins
}

func (d *GPIODriver) DigitalOutputPin(n int) (hal.DigitalOutputPin, error) {
	p, ok := d.outputs[n]
	if !ok {
		return nil, fmt.Errorf("%s: no digital output on line %d", d.meta.Name, n)
	}
	return p, nil
}

func sortedOffsets[V any](m map[int]V) []int {
	offsets := make([]int, 0, len(m))
	for offset := range m {
		offsets = append(offsets, offset)
	}
	slices.Sort(offsets)
	return offsets
}

// InputPin is a pulled-up GPIO input
type InputPin struct {
	name   string
	number int
	line   line
}

func (p *InputPin) Name() string { return p.name }
func (p *InputPin) Number() int  { return p.number }
func (p *InputPin) Close() error { return p.line.Close() }

// Read returns true when the line is HIGH
func (p *InputPin) Read() (bool, error) {
	v, err := p.line.Value()
	if err != nil {
		return false, fmt.Errorf("read %s: %w", p.name, err)
	}
	return v == 1, nil
}

// OutputPin is a GPIO output remembering the last written state
type OutputPin struct {
	name   string
	number int
	line   line

	mu    sync.Mutex
	state bool
}

func (p *OutputPin) Name() string { return p.name }
func (p *OutputPin) Number() int  { return p.number }
func (p *OutputPin) Close() error { return p.line.Close() }

// Write drives the line HIGH for true
func (p *OutputPin) Write(state bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.line.SetValue(levelOf(state)); err != nil {
		return fmt.Errorf("write %s: %w", p.name, err)
	}
	p.state = state
	return nil
}

// LastState returns the last successfully written state
func (p *OutputPin) LastState() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func levelOf(b bool) int {
	if b {
		return 1
	}
	return 0
}
