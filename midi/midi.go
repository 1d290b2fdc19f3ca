// Package midi feeds live note input into the engine through the rtmidi
// driver. A machine without a working MIDI backend degrades to a nil driver:
// listing finds no devices and opening fails, but nothing else cares.
package midi

import (
	"strings"

	"github.com/pkg/errors"
	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	"gitlab.com/gomidi/midi/v2/drivers/rtmididrv"
)

type (
	// Context owns the driver and the currently open input. Incoming
	// messages land on a buffered channel; the control loop drains it with
	// NextEvent once per frame.
	Context struct {
		driver    *rtmididrv.Driver
		currentIn drivers.In
		events    chan NoteEvent
	}

	// NoteEvent is one note-on or note-off from the open input.
	NoteEvent struct {
		On       bool
		Channel  int
		Note     byte
		Velocity byte
	}
)

// NewContext opens the rtmidi driver. A failed driver is kept as nil; the
// context still works, it just has no devices.
func NewContext() *Context {
	c := &Context{events: make(chan NoteEvent, 1024)}
	c.driver, _ = rtmididrv.New()
	return c
}

// Devices lists the names of the available MIDI inputs.
func (c *Context) Devices() []string {
	if c.driver == nil {
		return nil
	}
	ins, err := c.driver.Ins()
	if err != nil {
		return nil
	}
	names := make([]string, len(ins))
	for i, in := range ins {
		names[i] = in.String()
	}
	return names
}

// Open opens the first input whose name starts with namePrefix, closing the
// previously open input first. An empty prefix opens the first input.
func (c *Context) Open(namePrefix string) error {
	if c.driver == nil {
		return errors.New("no MIDI driver available")
	}
	ins, err := c.driver.Ins()
	if err != nil {
		return errors.Wrap(err, "listing MIDI inputs")
	}
	for _, in := range ins {
		if namePrefix != "" && !strings.HasPrefix(in.String(), namePrefix) {
			continue
		}
		if c.currentIn != nil && c.currentIn.IsOpen() {
			c.currentIn.Close()
		}
		c.currentIn = in
		if err := in.Open(); err != nil {
			c.currentIn = nil
			return errors.Wrapf(err, "opening MIDI input %v", in.String())
		}
		if _, err := midi.ListenTo(in, c.handleMessage); err != nil {
			in.Close()
			c.currentIn = nil
			return errors.Wrapf(err, "listening on MIDI input %v", in.String())
		}
		return nil
	}
	return errors.Errorf("no MIDI input matching %q", namePrefix)
}

func (c *Context) handleMessage(msg midi.Message, timestampms int32) {
	var channel, key, velocity uint8
	var ev NoteEvent
	switch {
	case msg.GetNoteOn(&channel, &key, &velocity):
		ev = NoteEvent{On: true, Channel: int(channel), Note: key, Velocity: velocity}
	case msg.GetNoteOff(&channel, &key, &velocity):
		ev = NoteEvent{Channel: int(channel), Note: key, Velocity: velocity}
	default:
		return
	}
	select {
	case c.events <- ev:
	default: // full buffer means the control loop stalled; dropping input beats blocking the driver callback
	}
}

// NextEvent returns the next queued note event without blocking.
func (c *Context) NextEvent() (NoteEvent, bool) {
	select {
	case ev := <-c.events:
		return ev, true
	default:
		return NoteEvent{}, false
	}
}

// HasDeviceOpen reports whether an input is currently open.
func (c *Context) HasDeviceOpen() bool {
	return c.currentIn != nil && c.currentIn.IsOpen()
}

// Close shuts the open input and the driver down.
func (c *Context) Close() {
	if c.driver == nil {
		return
	}
	if c.currentIn != nil && c.currentIn.IsOpen() {
		c.currentIn.Close()
	}
	c.driver.Close()
}
