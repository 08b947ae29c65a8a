// modeltool is the host side of the gesture node: it generates bench
// models, inspects model files and drives a device over MQTT.
//
// Usage:
//
//	modeltool gen -classes 4 -labels rest,wave,shake,circle -out model.bin
//	modeltool inspect model.bin
//	modeltool upload [-labels a,b] model.bin
//	modeltool mode collect|inference
//	modeltool rate 50
//	modeltool watch
package main

import (
	"context"
	"encoding/binary"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/relabs-tech/gesture_node/internal/app"
	"github.com/relabs-tech/gesture_node/internal/checksum"
	"github.com/relabs-tech/gesture_node/internal/config"
	"github.com/relabs-tech/gesture_node/internal/link"
	"github.com/relabs-tech/gesture_node/internal/model"
	"github.com/relabs-tech/gesture_node/internal/protocol"
)

// settle is how long to wait after connecting so retained records from
// an earlier session are drained before a command is sent.
const settle = 500 * time.Millisecond

func main() {
	log.SetFlags(log.LstdFlags)
	if len(os.Args) < 2 {
		usage()
	}
	cmd, args := os.Args[1], os.Args[2:]

	var err error
	switch cmd {
	case "gen":
		err = runGen(args)
	case "inspect":
		err = runInspect(args)
	case "upload":
		err = runUpload(args)
	case "mode":
		err = runMode(args)
	case "rate":
		err = runRate(args)
	case "watch":
		err = runWatch(args)
	default:
		usage()
	}
	if err != nil {
		log.Fatalf("modeltool %s: %v", cmd, err)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: modeltool gen|inspect|upload|mode|rate|watch [flags]")
	os.Exit(2)
}

func splitLabels(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func runGen(args []string) error {
	fs := flag.NewFlagSet("gen", flag.ExitOnError)
	classes := fs.Int("classes", 4, "number of output classes (1-8)")
	labels := fs.String("labels", "", "comma separated class labels")
	seed := fs.Uint64("seed", 1, "random seed")
	out := fs.String("out", "model.bin", "output file")
	fs.Parse(args)

	m, err := model.Random(*classes, *seed, splitLabels(*labels)...)
	if err != nil {
		return err
	}
	blob, err := m.MarshalBinary()
	if err != nil {
		return err
	}
	if err := os.WriteFile(*out, blob, 0o644); err != nil {
		return err
	}
	log.Printf("wrote %s: %d bytes, %d classes, crc32 0x%08X", *out, len(blob), *classes, checksum.CRC32(blob))
	return nil
}

func readModel(path string) ([]byte, *model.Model, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	m := new(model.Model)
	if err := model.Decode(m, blob); err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	return blob, m, nil
}

func runInspect(args []string) error {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("expected one model file")
	}
	blob, m, err := readModel(fs.Arg(0))
	if err != nil {
		return err
	}
	h := m.Header()
	fmt.Printf("file:     %s\n", fs.Arg(0))
	fmt.Printf("size:     %d bytes (capacity %d)\n", len(blob), model.MaxModelSize)
	fmt.Printf("crc32:    0x%08X\n", checksum.CRC32(blob))
	fmt.Printf("magic:    0x%08X\n", binary.LittleEndian.Uint32(blob))
	fmt.Printf("shape:    %d -> %d -> %d\n", h.InputSize, h.HiddenSize, h.NumClasses)
	for i := 0; i < m.NumClasses(); i++ {
		fmt.Printf("class %d:  %q\n", i, m.Label(i))
	}
	return nil
}

// connect loads the config and opens a host link to the device.
func connect(fs *flag.FlagSet, args []string) (*link.MQTT, *config.Config, error) {
	configPath := fs.String("config", "./gesture_config.txt", "path to configuration file")
	fs.Parse(args)
	if err := config.InitGlobal(*configPath); err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg := config.Get()
	h, err := app.DialHost(cfg, "modeltool")
	if err != nil {
		return nil, nil, err
	}
	time.Sleep(settle)
	for {
		msg, ok := h.Poll()
		if !ok {
			break
		}
		log.Println(app.Describe(msg, nil))
	}
	return h, cfg, nil
}

func runUpload(args []string) error {
	fs := flag.NewFlagSet("upload", flag.ExitOnError)
	labels := fs.String("labels", "", "comma separated class labels, overriding the ones in the file")
	timeout := fs.Duration("timeout", 5*time.Second, "wait per status record")
	h, _, err := connect(fs, args)
	if err != nil {
		return err
	}
	defer h.Close()
	if fs.NArg() != 1 {
		return fmt.Errorf("expected one model file")
	}

	blob, m, err := readModel(fs.Arg(0))
	if err != nil {
		return err
	}
	names := make([]string, m.NumClasses())
	copy(names, splitLabels(*labels))

	lastPct := -1
	u := &app.Uploader{
		Link:    h,
		Timeout: *timeout,
		OnStatus: func(s protocol.Status) {
			if s.Code == protocol.CodeReceiving && int(s.Progress)/10 == lastPct/10 {
				return
			}
			lastPct = int(s.Progress)
			log.Printf("status: %3d%% %s", s.Progress, s.Code)
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	start := time.Now()
	if err := u.Upload(ctx, blob, names); err != nil {
		return err
	}
	log.Printf("uploaded %d bytes in %s", len(blob), time.Since(start).Round(time.Millisecond))
	return nil
}

func runMode(args []string) error {
	fs := flag.NewFlagSet("mode", flag.ExitOnError)
	h, _, err := connect(fs, args)
	if err != nil {
		return err
	}
	defer h.Close()
	if fs.NArg() != 1 {
		return fmt.Errorf("expected collect or inference")
	}
	m, err := protocol.ParseModeName(fs.Arg(0))
	if err != nil {
		return err
	}
	return h.Notify(link.ChannelMode, []byte{byte(m)})
}

func runRate(args []string) error {
	fs := flag.NewFlagSet("rate", flag.ExitOnError)
	h, _, err := connect(fs, args)
	if err != nil {
		return err
	}
	defer h.Close()
	if fs.NArg() != 1 {
		return fmt.Errorf("expected a sample rate in Hz")
	}
	hz, err := strconv.Atoi(fs.Arg(0))
	if err != nil || hz < protocol.MinSampleRateHz || hz > protocol.MaxSampleRateHz {
		return fmt.Errorf("sample rate must be %d-%d Hz", protocol.MinSampleRateHz, protocol.MaxSampleRateHz)
	}
	rec := protocol.Config{SampleRateHz: uint16(hz)}.Encode()
	return h.Notify(link.ChannelConfig, rec[:])
}

func runWatch(args []string) error {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	labels := fs.String("labels", "", "comma separated class labels for inference records")
	h, _, err := connect(fs, args)
	if err != nil {
		return err
	}
	defer h.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return app.Monitor(ctx, h, os.Stdout, splitLabels(*labels))
}
