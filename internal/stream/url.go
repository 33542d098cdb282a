package stream

import (
	"bytes"
	"strings"

	json "github.com/goccy/go-json"
)

// URL returns the raw stream endpoint for one stream name, or the combined
// endpoint when several are given.
func URL(base string, streams ...string) string {
	base = strings.TrimRight(base, "/")
	if len(streams) == 1 {
		return base + "/ws/" + streams[0]
	}
	return base + "/stream?streams=" + strings.Join(streams, "/")
}

// Envelope wraps every frame of a combined stream.
type Envelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// Unwrap returns the payload of a combined stream frame, or the frame itself
// when it is not wrapped.
func Unwrap(frame []byte) (string, []byte, error) {
	if !bytes.HasPrefix(bytes.TrimSpace(frame), []byte(`{"stream"`)) {
		return "", frame, nil
	}
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return "", nil, err
	}
	if env.Stream == "" || len(env.Data) == 0 {
		return "", frame, nil
	}
	return env.Stream, env.Data, nil
}
