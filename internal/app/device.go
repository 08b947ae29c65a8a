package app

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/relabs-tech/gesture_node/internal/display"
	"github.com/relabs-tech/gesture_node/internal/imu"
	"github.com/relabs-tech/gesture_node/internal/link"
	"github.com/relabs-tech/gesture_node/internal/nn"
	"github.com/relabs-tech/gesture_node/internal/protocol"
	"github.com/relabs-tech/gesture_node/internal/store"
	"github.com/relabs-tech/gesture_node/internal/timeutil"
	"github.com/relabs-tech/gesture_node/internal/window"
)

// Firmware version reported in the device info record.
const (
	VersionMajor = 1
	VersionMinor = 1
)

// batteryUSB marks a device without battery monitoring.
const batteryUSB = 255

// loopSleep is the cooperative pause between ticks.
const loopSleep = time.Millisecond

// Options wires a Device. Reader, Link and Store are required.
type Options struct {
	Name   string
	Reader imu.Reader
	Link   link.Link
	Store  *store.Store
	Clock  timeutil.Clock

	SampleRateHz int
	WindowStride int
	Mode         protocol.Mode

	Panel           display.Panel
	DisplayInterval time.Duration
	StatsInterval   time.Duration
}

// Stats are the counters reported in the device info record.
type Stats struct {
	UptimeSeconds  uint32
	TotalSamples   uint32
	InferenceCount uint32
}

// Device is the control loop. All fields are owned by the goroutine
// calling Tick; other goroutines only read Snapshot.
type Device struct {
	name   string
	reader imu.Reader
	link   link.Link
	store  *store.Store
	engine *nn.Engine
	window *window.Buffer
	clock  timeutil.Clock
	panel  display.Panel

	mode   protocol.Mode
	rateHz int
	input  []float32
	seq    uint16
	start  time.Time
	stats  Stats

	uptime     *timeutil.Interval
	sample     *timeutil.Interval
	refresh    *timeutil.Interval
	statsLog   *timeutil.Interval
	last       nn.Prediction
	havePred   bool
	lastStatus protocol.Status

	dirty    bool
	snapshot atomic.Pointer[Snapshot]
}

// New validates opts and returns a Device ready for Start.
func New(opts Options) (*Device, error) {
	if opts.Reader == nil || opts.Link == nil || opts.Store == nil {
		return nil, fmt.Errorf("device: reader, link and store are required")
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	if opts.SampleRateHz == 0 {
		opts.SampleRateHz = protocol.DefaultSampleRateHz
	}
	if opts.SampleRateHz < protocol.MinSampleRateHz || opts.SampleRateHz > protocol.MaxSampleRateHz {
		return nil, fmt.Errorf("device: sample rate %d Hz outside %d-%d",
			opts.SampleRateHz, protocol.MinSampleRateHz, protocol.MaxSampleRateHz)
	}
	if opts.WindowStride == 0 {
		opts.WindowStride = window.Stride50
	}
	if opts.WindowStride != window.Stride25 && opts.WindowStride != window.Stride50 {
		return nil, fmt.Errorf("device: window stride must be %d or %d, got %d",
			window.Stride25, window.Stride50, opts.WindowStride)
	}
	buf, err := window.New(opts.WindowStride)
	if err != nil {
		return nil, fmt.Errorf("device: %w", err)
	}
	if opts.Name == "" {
		opts.Name = "gesture-node"
	}

	d := &Device{
		name:   opts.Name,
		reader: opts.Reader,
		link:   opts.Link,
		store:  opts.Store,
		engine: nn.NewEngine(),
		window: buf,
		clock:  opts.Clock,
		panel:  opts.Panel,
		mode:   opts.Mode,
		rateHz: opts.SampleRateHz,
		input:  make([]float32, window.InputSize),
		uptime: timeutil.NewInterval(time.Second),
		sample: timeutil.NewInterval(sampleInterval(opts.SampleRateHz)),
	}
	if opts.Panel != nil {
		if opts.DisplayInterval <= 0 {
			opts.DisplayInterval = 200 * time.Millisecond
		}
		d.refresh = timeutil.NewInterval(opts.DisplayInterval)
	}
	if opts.StatsInterval > 0 {
		d.statsLog = timeutil.NewInterval(opts.StatsInterval)
	}
	d.snapshot.Store(&Snapshot{Device: d.name})
	return d, nil
}

func sampleInterval(rateHz int) time.Duration {
	return time.Second / time.Duration(rateHz)
}

// Start brings up the sensor, restores the persisted model and announces
// the device. A sensor that fails to initialize is fatal; a stored model
// that fails validation is logged and the device runs in fallback mode.
func (d *Device) Start() error {
	if !d.reader.Begin() {
		return fmt.Errorf("device: sensor %s failed to initialize", d.reader.ChipName())
	}
	log.Printf("device: detected sensor %s", d.reader.ChipName())

	if err := d.store.Restore(); err != nil {
		log.Printf("device: stored model rejected, running in fallback mode: %v", err)
	}
	d.reloadEngine()

	now := d.clock.Now()
	d.start = now
	d.uptime.Due(now)

	d.notifyMode()
	d.notifyConfig()
	d.notifyInfo()
	d.notifyStatus(protocol.Status{State: byte(d.store.State()), Code: protocol.CodeReady})
	d.publishSnapshot()
	log.Printf("device: %s ready in %s mode", d.name, d.mode)
	return nil
}

// reloadEngine points the engine at the store's active model.
func (d *Device) reloadEngine() bool {
	m := d.store.Active()
	if m == nil {
		d.engine.Unload()
		log.Printf("device: no model loaded, inference runs in fallback mode")
		return true
	}
	if err := d.engine.LoadModel(m); err != nil {
		log.Printf("device: model reload failed: %v", err)
		return false
	}
	log.Printf("device: model loaded (%d classes, %d bytes)", d.engine.NumClasses(), d.store.ModelSize())
	return true
}

// Tick runs one cooperative iteration of the control loop.
func (d *Device) Tick() {
	now := d.clock.Now()

	if d.uptime.Due(now) {
		d.stats.UptimeSeconds++
	}

	for {
		msg, ok := d.link.Poll()
		if !ok {
			break
		}
		d.handle(msg)
	}

	// Sampling pauses while an upload is in flight so chunks are drained
	// as fast as they arrive.
	if d.store.State() != store.StateReceiving {
		if d.sample.Due(now) {
			d.sampleOnce(now)
		}
	}

	if d.refresh != nil && d.refresh.Due(now) {
		if err := d.panel.Show(d.view()); err != nil {
			log.Printf("device: display error: %v", err)
		}
	}
	if d.statsLog != nil && d.statsLog.Due(now) {
		log.Printf("device: uptime=%ds samples=%d inferences=%d mode=%s model=%t",
			d.stats.UptimeSeconds, d.stats.TotalSamples, d.stats.InferenceCount, d.mode, d.store.HasModel())
	}

	if d.dirty {
		d.publishSnapshot()
	}
}

// Run calls Tick until ctx is done.
func (d *Device) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		d.Tick()
		d.clock.Sleep(loopSleep)
	}
}

func (d *Device) sampleOnce(now time.Time) {
	s, ok := d.reader.Read()
	if !ok {
		return
	}
	s.Sequence = d.seq
	d.seq++
	s.Timestamp = uint16(now.Sub(d.start).Milliseconds())
	d.stats.TotalSamples++

	switch d.mode {
	case protocol.ModeCollect:
		pkt := protocol.EncodeSensorPacket(s)
		d.notify(link.ChannelSensor, pkt[:])

	case protocol.ModeInference:
		d.window.Append(s)
		if !d.window.IsReady() {
			return
		}
		d.input = d.window.Flatten(d.input)
		p, err := d.engine.Predict(d.input)
		if err != nil {
			log.Printf("device: predict: %v", err)
		} else {
			rec := protocol.Inference{Class: uint8(p.Class), Confidence: p.Confidence}.Encode()
			d.notify(link.ChannelInference, rec[:])
			d.stats.InferenceCount++
			d.last, d.havePred = p, true
			d.dirty = true
			log.Printf("device: prediction %d %q (%d%%)", p.Class, d.engine.Label(p.Class), protocol.Percent(p.Confidence))
		}
		d.window.Slide()
	}
}

// Mode returns the current operating mode.
func (d *Device) Mode() protocol.Mode { return d.mode }

// Stats returns the device counters.
func (d *Device) Stats() Stats { return d.stats }

// Engine returns the inference engine.
func (d *Device) Engine() *nn.Engine { return d.engine }

// ClearModel wipes the active and persisted model and returns the device
// to fallback inference.
func (d *Device) ClearModel() error {
	d.engine.Unload()
	err := d.store.Clear()
	d.notifyInfo()
	d.dirty = true
	return err
}

func (d *Device) notify(ch link.Channel, payload []byte) {
	if err := d.link.Notify(ch, payload); err != nil {
		log.Printf("device: notify %s: %v", ch, err)
	}
}

func (d *Device) notifyStatus(s protocol.Status) {
	d.lastStatus = s
	rec := s.Encode()
	d.notify(link.ChannelStatus, rec[:])
	d.dirty = true
}

func (d *Device) notifyMode() {
	d.notify(link.ChannelMode, []byte{byte(d.mode)})
}

func (d *Device) notifyConfig() {
	rec := protocol.Config{SampleRateHz: uint16(d.rateHz), WindowSize: window.Size}.Encode()
	d.notify(link.ChannelConfig, rec[:])
}

func (d *Device) notifyInfo() {
	rec := d.info().Encode()
	d.notify(link.ChannelDeviceInfo, rec[:])
}

func (d *Device) info() protocol.DeviceInfo {
	return protocol.DeviceInfo{
		VersionMajor:   VersionMajor,
		VersionMinor:   VersionMinor,
		ChipType:       d.reader.ChipType(),
		Battery:        batteryUSB,
		WindowSize:     window.Size,
		SampleRateHz:   uint16(d.rateHz),
		UptimeSeconds:  d.stats.UptimeSeconds,
		TotalSamples:   d.stats.TotalSamples,
		InferenceCount: d.stats.InferenceCount,
		HasModel:       d.store.HasModel(),
		ModelSize:      d.store.ModelSize(),
	}
}

func (d *Device) view() display.View {
	v := display.View{
		Mode:     d.mode.String(),
		HasModel: d.store.HasModel(),
		Classes:  d.store.NumClasses(),
	}
	if st := d.store.State(); st == store.StateReceiving {
		v.Uploading = true
		v.Progress = d.store.Progress()
		v.Status = st.String()
	}
	if d.havePred {
		v.Label = d.engine.Label(d.last.Class)
		v.Confidence = d.last.Confidence
		v.Fallback = d.last.Fallback
	}
	return v
}
