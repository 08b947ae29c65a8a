package app

import (
	"errors"
	"log"

	"github.com/relabs-tech/gesture_node/internal/link"
	"github.com/relabs-tech/gesture_node/internal/protocol"
	"github.com/relabs-tech/gesture_node/internal/store"
)

func (d *Device) handle(msg link.Message) {
	switch msg.Channel {
	case link.ChannelMode:
		d.handleMode(msg.Payload)
	case link.ChannelConfig:
		d.handleConfig(msg.Payload)
	case link.ChannelUpload:
		d.handleUpload(msg.Payload)
	default:
		log.Printf("device: ignoring write on read-only channel %s", msg.Channel)
	}
}

func (d *Device) handleMode(payload []byte) {
	m, err := protocol.ParseMode(payload)
	if err != nil {
		log.Printf("device: %v", err)
		return
	}
	if m == d.mode {
		return
	}
	d.mode = m
	// a window half filled in the old mode would mix unrelated motion
	d.window.Reset()
	d.havePred = false
	log.Printf("device: mode changed to %s", m)
	d.notifyInfo()
	d.dirty = true
}

func (d *Device) handleConfig(payload []byte) {
	c, err := protocol.DecodeConfig(payload)
	if err != nil {
		log.Printf("device: config rejected: %v", err)
		d.notifyConfig()
		return
	}
	if int(c.SampleRateHz) != d.rateHz {
		d.rateHz = int(c.SampleRateHz)
		d.sample.Period = sampleInterval(d.rateHz)
		log.Printf("device: sample rate set to %d Hz", d.rateHz)
	}
	d.notifyConfig()
	d.notifyInfo()
	d.dirty = true
}

// handleUpload runs one upload command and reports the result on the
// status channel.
func (d *Device) handleUpload(payload []byte) {
	f, err := protocol.ParseFrame(payload)
	if errors.Is(err, protocol.ErrUnknownCommand) {
		log.Printf("upload: %v", err)
		return
	}
	if err != nil {
		log.Printf("upload: %v", err)
		return
	}

	switch f.Cmd {
	case protocol.CmdStart:
		if err := d.store.Start(f.Payload); err != nil {
			d.notifyStatus(protocol.Status{State: byte(d.store.State()), Code: protocol.CodeFor(err)})
			return
		}
		d.notifyStatus(protocol.Status{State: byte(store.StateReceiving), Code: protocol.CodeReceiving})

	case protocol.CmdChunk:
		if err := d.store.Chunk(f.Payload); err != nil {
			log.Printf("upload: %v", err)
			d.notifyStatus(protocol.Status{State: byte(d.store.State()), Progress: d.store.Progress(), Code: protocol.CodeFor(err)})
			return
		}
		d.notifyStatus(protocol.Status{State: byte(store.StateReceiving), Progress: d.store.Progress(), Code: protocol.CodeReceiving})

	case protocol.CmdFinish:
		var progress byte
		if d.store.State() == store.StateReceiving {
			progress = 100
			d.notifyStatus(protocol.Status{State: byte(store.StateReceiving), Progress: progress, Code: protocol.CodeValidating})
		}
		if _, err := d.store.Finish(); err != nil {
			d.notifyStatus(protocol.Status{State: byte(d.store.State()), Progress: progress, Code: protocol.CodeFor(err)})
			return
		}
		d.notifyStatus(protocol.Status{State: byte(store.StateComplete), Progress: 100, Code: protocol.CodeSaving})
		if !d.reloadEngine() {
			d.notifyStatus(protocol.Status{State: byte(store.StateError), Progress: 100, Code: protocol.CodeErrorFormat})
			return
		}
		// predictions from the previous model no longer apply
		d.window.Reset()
		d.havePred = false
		d.notifyStatus(protocol.Status{State: byte(store.StateComplete), Progress: 100, Code: protocol.CodeSuccess})
		d.notifyInfo()

	case protocol.CmdCancel:
		d.store.Cancel()
		d.notifyStatus(protocol.Status{State: byte(store.StateIdle), Code: protocol.CodeReady})
	}
}
