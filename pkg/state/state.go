// Package state tracks per-stream sync progress: the high-water-mark on
// each stream's record timestamps and the pagination cursor in flight, if
// any. A RunState snapshot written after every page is the extractor's
// only recovery mechanism.
package state

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/parcelworks/shippo-extract/pkg/client"
	"github.com/parcelworks/shippo-extract/pkg/streams"
)

// StreamState is the persisted watermark for one stream.
type StreamState struct {
	// HighWaterMark is the latest object_updated of any record ever
	// committed as read for this stream. Monotonic, never regresses.
	HighWaterMark time.Time `json:"high_water_mark"`

	// ResumeCursor is the page URL to fetch next if the previous run
	// was interrupted mid-stream. Empty once the stream's terminal page
	// has been processed.
	ResumeCursor string `json:"resume_cursor,omitempty"`
}

// RunState is the process-wide persisted state: every stream's watermark
// plus a pointer to the stream that was in flight at the last checkpoint.
type RunState struct {
	// CurrentStream names the stream being processed when the last
	// checkpoint was written. Empty when no stream is in flight.
	CurrentStream string `json:"current_stream,omitempty"`

	Streams map[string]*StreamState `json:"streams"`
}

// Load decodes a prior persisted snapshot, or initializes fresh state
// when the snapshot is empty. Every configured stream gets an entry; a
// stream absent from the snapshot starts at defaultStart.
func Load(snapshot []byte, defaultStart time.Time) (*RunState, error) {
	rs := &RunState{Streams: make(map[string]*StreamState)}

	if len(snapshot) > 0 {
		if err := json.Unmarshal(snapshot, rs); err != nil {
			return nil, fmt.Errorf("decode persisted state: %w", err)
		}
		if rs.Streams == nil {
			rs.Streams = make(map[string]*StreamState)
		}
	}

	for _, s := range streams.All() {
		if _, ok := rs.Streams[s.Name]; !ok {
			rs.Streams[s.Name] = &StreamState{HighWaterMark: defaultStart}
		}
	}

	return rs, nil
}

// ResumeCursor returns the in-flight page URL from the last checkpoint,
// or empty when the previous run finished cleanly.
func (rs *RunState) ResumeCursor() string {
	if rs.CurrentStream == "" {
		return ""
	}
	ss, ok := rs.Streams[rs.CurrentStream]
	if !ok {
		return ""
	}
	return ss.ResumeCursor
}

// StartWatermark returns the filter baseline for a stream's pass: the
// stored high-water-mark minus the optional clock-skew lookback. Captured
// once before the pass begins; mutations during the pass never feed back
// into the running filter.
func (rs *RunState) StartWatermark(stream string, lookback time.Duration) time.Time {
	ss, ok := rs.Streams[stream]
	if !ok {
		return time.Time{}
	}
	if lookback > 0 {
		return ss.HighWaterMark.Add(-lookback)
	}
	return ss.HighWaterMark
}

// RecordPageCommit commits one fully evaluated page: raises the stream's
// high-water-mark to the page's maximum object_updated (monotonic, never
// regresses), records the next-page cursor, and marks the stream in
// flight. Must be called only after every record on the page has been
// evaluated; records within a page are not sorted, so a mid-page raise
// could wrongly exclude later records on a restart.
func (rs *RunState) RecordPageCommit(stream string, records []client.Record, nextCursor string) error {
	ss, ok := rs.Streams[stream]
	if !ok {
		return fmt.Errorf("unknown stream %q", stream)
	}

	// Evaluate the whole page before touching stored state so a bad
	// record leaves the watermark untouched.
	pageMax := ss.HighWaterMark
	for _, rec := range records {
		updated, err := RecordUpdated(rec)
		if err != nil {
			return fmt.Errorf("stream %s: %w", stream, err)
		}
		if updated.After(pageMax) {
			pageMax = updated
		}
	}

	ss.HighWaterMark = pageMax
	ss.ResumeCursor = nextCursor
	rs.CurrentStream = stream
	return nil
}

// CompleteStream advances the in-flight pointer after a stream's terminal
// page has committed. Pass the next stream in sync order, or empty when
// the run is complete.
func (rs *RunState) CompleteStream(nextStream string) {
	rs.CurrentStream = nextStream
}

// Snapshot serializes the state into its persisted document shape.
func (rs *RunState) Snapshot() (json.RawMessage, error) {
	data, err := json.Marshal(rs)
	if err != nil {
		return nil, fmt.Errorf("encode state: %w", err)
	}
	return data, nil
}

// RecordUpdated extracts and parses a record's object_updated timestamp.
func RecordUpdated(rec client.Record) (time.Time, error) {
	v, ok := rec[streams.ReplicationKey]
	if !ok {
		return time.Time{}, fmt.Errorf("record %v missing %s", rec[streams.KeyProperty], streams.ReplicationKey)
	}
	s, ok := v.(string)
	if !ok {
		return time.Time{}, fmt.Errorf("record %v has non-string %s", rec[streams.KeyProperty], streams.ReplicationKey)
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("record %v has unparseable %s: %w", rec[streams.KeyProperty], streams.ReplicationKey, err)
	}
	return t, nil
}
