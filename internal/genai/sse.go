package genai

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

// readSSE consumes a text/event-stream body and invokes onEvent once per
// dispatched event. Multi-line data fields are joined with newlines, and
// comment lines are dropped. A callback error stops the read.
func readSSE(r io.Reader, onEvent func(event, data string) error) error {
	br := bufio.NewReader(r)
	var (
		eventName string
		dataLines []string
	)

	flush := func() error {
		if len(dataLines) == 0 {
			eventName = ""
			return nil
		}
		data := strings.Join(dataLines, "\n")
		ev := eventName
		dataLines = nil
		eventName = ""
		return onEvent(ev, data)
	}

	handle := func(line string) error {
		line = strings.TrimRight(line, "\r\n")
		switch {
		case line == "":
			return flush()
		case strings.HasPrefix(line, ":"):
			// comment
		case strings.HasPrefix(line, "event:"):
			eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
		return nil
	}

	for {
		line, err := br.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				if line != "" {
					if hErr := handle(line); hErr != nil {
						return hErr
					}
				}
				return flush()
			}
			return err
		}
		if err := handle(line); err != nil {
			return err
		}
	}
}
