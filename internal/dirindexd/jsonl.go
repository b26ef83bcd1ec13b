package dirindexd

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// MaxLineBytes bounds a single request or response line.
const MaxLineBytes = 4 << 20

// ReadOneLine returns the next non-blank line without its terminator. A final
// line without a newline is accepted.
func ReadOneLine(r *bufio.Reader) ([]byte, error) {
	if r == nil {
		return nil, fmt.Errorf("reader is nil")
	}

	for {
		line, err := readBounded(r)
		if err != nil && !(err == io.EOF && len(line) > 0) {
			return nil, err
		}

		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			if err == io.EOF {
				return nil, io.EOF
			}
			continue
		}
		return line, nil
	}
}

func readBounded(r *bufio.Reader) ([]byte, error) {
	var buf []byte
	for {
		chunk, err := r.ReadSlice('\n')
		buf = append(buf, chunk...)
		if len(buf) > MaxLineBytes {
			return nil, fmt.Errorf("line exceeds %d bytes", MaxLineBytes)
		}
		if err == bufio.ErrBufferFull {
			continue
		}
		return buf, err
	}
}

func WriteOneLine(w io.Writer, obj any) error {
	if w == nil {
		return fmt.Errorf("writer is nil")
	}
	b, err := json.Marshal(obj)
	if err != nil {
		return err
	}
	b = append(b, '\n')
	_, err = w.Write(b)
	return err
}
