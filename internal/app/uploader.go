package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/relabs-tech/gesture_node/internal/checksum"
	"github.com/relabs-tech/gesture_node/internal/link"
	"github.com/relabs-tech/gesture_node/internal/model"
	"github.com/relabs-tech/gesture_node/internal/protocol"
)

// ErrStatusTimeout is returned when the device does not answer a command.
var ErrStatusTimeout = errors.New("timed out waiting for upload status")

// RejectedError is returned when the device answers with an error code.
type RejectedError struct {
	Cmd    protocol.Command
	Status protocol.Status
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("device rejected %s: %s (progress %d%%)", e.Cmd, e.Status.Code, e.Status.Progress)
}

// Uploader sends a model blob to a device over a host link, one command
// at a time, waiting for the status record each command produces.
type Uploader struct {
	Link link.Link

	// Timeout bounds the wait for each status record.
	Timeout time.Duration
	// ChunkSize is the data carried per Chunk frame, at most protocol.MaxChunkData.
	ChunkSize int
	// OnStatus, when set, sees every status record.
	OnStatus func(protocol.Status)
	// OnMessage, when set, sees every non-status record received meanwhile.
	OnMessage func(link.Message)

	poll time.Duration
}

func (u *Uploader) defaults() {
	if u.Timeout <= 0 {
		u.Timeout = 5 * time.Second
	}
	if u.ChunkSize <= 0 || u.ChunkSize > protocol.MaxChunkData {
		u.ChunkSize = protocol.MaxChunkData
	}
	if u.poll <= 0 {
		u.poll = 2 * time.Millisecond
	}
}

// Upload transfers blob with the given class labels and returns once the
// device reports success. The class count sent is len(labels), so pass an
// empty string for classes that should keep their embedded label.
func (u *Uploader) Upload(ctx context.Context, blob []byte, labels []string) error {
	u.defaults()
	if len(blob) > model.MaxModelSize {
		return fmt.Errorf("%w: model is %d bytes, capacity %d", model.ErrSize, len(blob), model.MaxModelSize)
	}
	crc := checksum.CRC32(blob)
	log.Printf("upload: %d bytes, crc32 0x%08X, %d classes", len(blob), crc, len(labels))

	if err := u.send(protocol.StartFrame(uint32(len(blob)), crc, labels)); err != nil {
		return err
	}
	if _, err := u.await(ctx, protocol.CmdStart, protocol.CodeReceiving); err != nil {
		return err
	}

	for _, f := range protocol.SplitChunks(blob, u.ChunkSize) {
		if err := u.send(f); err != nil {
			u.cancel()
			return err
		}
		if _, err := u.await(ctx, protocol.CmdChunk, protocol.CodeReceiving); err != nil {
			u.cancel()
			return err
		}
	}

	if err := u.send(protocol.FinishFrame()); err != nil {
		return err
	}
	if _, err := u.await(ctx, protocol.CmdFinish, protocol.CodeSuccess); err != nil {
		return err
	}
	log.Printf("upload: device accepted the model")
	return nil
}

func (u *Uploader) send(frame []byte) error {
	if err := u.Link.Notify(link.ChannelUpload, frame); err != nil {
		return fmt.Errorf("upload: send %s: %w", protocol.Command(frame[0]), err)
	}
	return nil
}

// cancel tells the device to drop a session that will not complete.
func (u *Uploader) cancel() {
	if err := u.send(protocol.CancelFrame()); err != nil {
		log.Printf("upload: %v", err)
	}
}

// await reads records until a status with code want or an error code.
// Intermediate progress codes are passed to OnStatus and skipped.
func (u *Uploader) await(ctx context.Context, cmd protocol.Command, want protocol.Code) (protocol.Status, error) {
	ctx, cancel := context.WithTimeout(ctx, u.Timeout)
	defer cancel()
	for {
		msg, ok := u.Link.Poll()
		if !ok {
			select {
			case <-ctx.Done():
				if errors.Is(ctx.Err(), context.DeadlineExceeded) {
					return protocol.Status{}, fmt.Errorf("%w after %s", ErrStatusTimeout, cmd)
				}
				return protocol.Status{}, ctx.Err()
			case <-time.After(u.poll):
			}
			continue
		}
		if msg.Channel != link.ChannelStatus {
			if u.OnMessage != nil {
				u.OnMessage(msg)
			}
			continue
		}
		s, err := protocol.DecodeStatus(msg.Payload)
		if err != nil {
			log.Printf("upload: %v", err)
			continue
		}
		if u.OnStatus != nil {
			u.OnStatus(s)
		}
		switch {
		case s.Code.IsError():
			return s, &RejectedError{Cmd: cmd, Status: s}
		case s.Code == want:
			return s, nil
		}
	}
}
