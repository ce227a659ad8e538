package adapters

import (
	"encoding/json"
	"time"
)

// blockStride spaces the sequence numbers of records that expand into several events
const blockStride = 1000

// lineSeq is the sequence number of the i-th event produced by a record
func lineSeq(line, i int) int {
	return line*blockStride + i
}

// payload builds a JSON object, dropping empty values so a merge never clears stored keys
type payload map[string]any

func (p payload) set(key string, v any) payload {
	switch val := v.(type) {
	case string:
		if val == "" {
			return p
		}
	case int64:
		if val == 0 {
			return p
		}
	case float64:
		if val == 0 {
			return p
		}
	case nil:
		return p
	}
	p[key] = v
	return p
}

func (p payload) raw() json.RawMessage {
	if len(p) == 0 {
		return nil
	}
	data, err := json.Marshal(map[string]any(p))
	if err != nil {
		return nil
	}
	return data
}

// span tracks the earliest and latest timestamps seen
type span struct {
	first, last time.Time
}

func (s *span) add(t time.Time) {
	if t.IsZero() {
		return
	}
	if s.first.IsZero() || t.Before(s.first) {
		s.first = t
	}
	if t.After(s.last) {
		s.last = t
	}
}

// bounds returns the span, or fallback twice when nothing was seen. A zero
// fallback stays zero so validation rejects the session.
func (s *span) bounds(fallback time.Time) (time.Time, time.Time) {
	if s.first.IsZero() {
		if fallback.IsZero() {
			return fallback, fallback
		}
		return fallback.UTC(), fallback.UTC()
	}
	return s.first, s.last
}
