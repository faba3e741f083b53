package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"triage/internal/domain"
)

// Sentinel markers are part of the wire contract. A turn response is one
// byte stream: reply text first, then zero or more sentinel-delimited JSON
// payloads. Callers split on the first sentinel occurrence; everything
// before it is reply text, everything after is one JSON payload per
// sentinel. The marker strings are chosen to be vanishingly unlikely in
// natural-language output and must not change between releases.
const (
	// SentinelSessionID precedes the JSON-encoded session identifier.
	SentinelSessionID = "\n[[TRIAGE:SESSION]]"
	// SentinelSnapshot precedes the JSON-encoded diagnostic snapshot.
	SentinelSnapshot = "\n[[TRIAGE:SNAPSHOT]]"
)

type flusher interface {
	Flush()
}

// relay forwards backend fragments to out as they arrive, with no
// reordering, flushing after each fragment when out supports it. The full
// reply is accumulated and returned for persistence. On a fragment error or
// write failure the text flushed so far stays with the caller; relay just
// stops and reports the error.
func relay(ctx context.Context, fragments <-chan domain.StreamChunk, out io.Writer) (string, error) {
	var reply strings.Builder
	for {
		select {
		case <-ctx.Done():
			return reply.String(), ctx.Err()
		case chunk, ok := <-fragments:
			if !ok {
				return reply.String(), nil
			}
			if chunk.Err != nil {
				return reply.String(), chunk.Err
			}
			if _, err := io.WriteString(out, chunk.Text); err != nil {
				return reply.String(), fmt.Errorf("write fragment: %w", err)
			}
			reply.WriteString(chunk.Text)
			if f, ok := out.(flusher); ok {
				f.Flush()
			}
		}
	}
}

// writeSentinel appends one sentinel-delimited JSON payload to the stream.
func writeSentinel(out io.Writer, sentinel string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal sentinel payload: %w", err)
	}
	if _, err := io.WriteString(out, sentinel+string(data)); err != nil {
		return fmt.Errorf("write sentinel: %w", err)
	}
	if f, ok := out.(flusher); ok {
		f.Flush()
	}
	return nil
}

// Demux splits an accumulated turn stream back into reply text, session
// identifier, and diagnostic snapshot. It is the caller-side counterpart of
// the sentinel protocol and is exercised by tests to guarantee round-trips.
func Demux(stream string) (text string, sessionID string, snapshot *domain.DiagnosticSnapshot, err error) {
	sentinels := []string{SentinelSessionID, SentinelSnapshot}

	first := len(stream)
	for _, s := range sentinels {
		if i := strings.Index(stream, s); i >= 0 && i < first {
			first = i
		}
	}
	text = stream[:first]
	rest := stream[first:]

	for rest != "" {
		var sentinel string
		switch {
		case strings.HasPrefix(rest, SentinelSessionID):
			sentinel = SentinelSessionID
		case strings.HasPrefix(rest, SentinelSnapshot):
			sentinel = SentinelSnapshot
		default:
			return "", "", nil, fmt.Errorf("malformed stream: unexpected data after sentinel")
		}

		payload := rest[len(sentinel):]
		end := len(payload)
		for _, s := range sentinels {
			if i := strings.Index(payload, s); i >= 0 && i < end {
				end = i
			}
		}
		body := payload[:end]
		rest = payload[end:]

		switch sentinel {
		case SentinelSessionID:
			if err := json.Unmarshal([]byte(body), &sessionID); err != nil {
				return "", "", nil, fmt.Errorf("decode session id payload: %w", err)
			}
		case SentinelSnapshot:
			var sn domain.DiagnosticSnapshot
			if err := json.Unmarshal([]byte(body), &sn); err != nil {
				return "", "", nil, fmt.Errorf("decode snapshot payload: %w", err)
			}
			snapshot = &sn
		}
	}
	return text, sessionID, snapshot, nil
}
