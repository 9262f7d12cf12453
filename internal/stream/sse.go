package stream

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// WriteSSEOpen sends the comment that precedes the first update.
func WriteSSEOpen(w io.Writer) error {
	_, err := io.WriteString(w, ": stream-open\n\n")
	return err
}

// WriteSSEUpdate encodes one update as a server-sent event: the kind as the
// event name, the cursor as the id, and the JSON record as data.
func WriteSSEUpdate(w io.Writer, u Update) error {
	payload, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("marshal stream update: %w", err)
	}
	var b strings.Builder
	b.WriteString("event: ")
	b.WriteString(string(u.Kind))
	b.WriteString("\n")
	fmt.Fprintf(&b, "id: %d\n", u.Cursor)
	for _, line := range strings.Split(string(payload), "\n") {
		b.WriteString("data: ")
		b.WriteString(line)
		b.WriteString("\n")
	}
	b.WriteString("\n")
	_, err = io.WriteString(w, b.String())
	return err
}
