package lectures

import (
	"encoding/json"
	"time"
)

const (
	ErrorKindTransient = "transient"
	ErrorKindPermanent = "permanent"
	ErrorKindFallback  = "fallback"
)

type ErrorEntry struct {
	Message string    `json:"message"`
	Kind    string    `json:"kind,omitempty"`
	At      time.Time `json:"at"`
}

// ErrorDetails maps a stage name to the errors recorded for it, oldest first.
type ErrorDetails map[string][]ErrorEntry

func DecodeErrorDetails(raw []byte) (ErrorDetails, error) {
	out := ErrorDetails{}
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Append adds e to stage's slot and leaves every other slot untouched.
func (d ErrorDetails) Append(stage string, e ErrorEntry) {
	d[stage] = append(d[stage], e)
}
