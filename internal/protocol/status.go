package protocol

import (
	"errors"
	"fmt"

	"github.com/relabs-tech/gesture_node/internal/model"
)

// StatusSize is the length of a status record.
const StatusSize = 4

// Code is the status code reported to the host after an upload command.
type Code byte

const (
	CodeReady        Code = 0
	CodeReceiving    Code = 1
	CodeValidating   Code = 2
	CodeSaving       Code = 3
	CodeSuccess      Code = 4
	CodeErrorSize    Code = 10
	CodeErrorCRC     Code = 11
	CodeErrorStorage Code = 12
	CodeErrorFormat  Code = 13
)

func (c Code) String() string {
	switch c {
	case CodeReady:
		return "ready"
	case CodeReceiving:
		return "receiving"
	case CodeValidating:
		return "validating"
	case CodeSaving:
		return "saving"
	case CodeSuccess:
		return "success"
	case CodeErrorSize:
		return "size error"
	case CodeErrorCRC:
		return "crc error"
	case CodeErrorStorage:
		return "storage error"
	case CodeErrorFormat:
		return "format error"
	default:
		return fmt.Sprintf("code(%d)", byte(c))
	}
}

// IsError reports whether c is one of the error codes.
func (c Code) IsError() bool { return c >= CodeErrorSize }

// CodeFor maps an upload error to its status code. Unknown errors are
// reported as format errors.
func CodeFor(err error) Code {
	switch {
	case err == nil:
		return CodeSuccess
	case errors.Is(err, model.ErrSize):
		return CodeErrorSize
	case errors.Is(err, model.ErrCRC):
		return CodeErrorCRC
	case errors.Is(err, model.ErrStorage):
		return CodeErrorStorage
	default:
		return CodeErrorFormat
	}
}

// Status is the record emitted after every upload command.
type Status struct {
	State    byte
	Progress byte
	Code     Code
}

// Encode returns the wire form of s.
func (s Status) Encode() [StatusSize]byte {
	return [StatusSize]byte{s.State, s.Progress, byte(s.Code), 0}
}

// DecodeStatus parses a status record.
func DecodeStatus(b []byte) (Status, error) {
	if len(b) < StatusSize {
		return Status{}, fmt.Errorf("%w: status record is %d bytes", model.ErrFormat, len(b))
	}
	return Status{State: b[0], Progress: b[1], Code: Code(b[2])}, nil
}
