package sse

import (
	"bufio"
	"bytes"
	"io"
	"strings"
)

// Message is one dispatched event-stream block. Comment holds the text of
// the last comment line for blocks that carried no data.
type Message struct {
	Data    []byte
	Comment string
}

// Read parses an event stream from r and calls fn for each block. It stops
// at EOF, on a read error, or when fn returns an error.
func Read(r io.Reader, fn func(Message) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var (
		data    bytes.Buffer
		comment string
		pending bool
	)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if !pending {
				continue
			}
			msg := Message{Comment: comment}
			if data.Len() > 0 {
				msg.Data = append([]byte(nil), data.Bytes()...)
			}
			data.Reset()
			comment = ""
			pending = false
			if err := fn(msg); err != nil {
				return err
			}
		case strings.HasPrefix(line, ":"):
			comment = strings.TrimPrefix(line, ":")
			pending = true
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
			pending = true
		}
	}
	return sc.Err()
}
