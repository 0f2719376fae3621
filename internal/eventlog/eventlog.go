// Package eventlog exports a case's history as a portable event log
// semantically equivalent to XES (the IEEE process-mining event log
// standard): one trace per case, one event per recorded transition,
// each event carrying (case_id, activity, timestamp, resource, data
// attributes...). The encoding is built directly on
// encoding/xml — built on the standard library rather than an
// ecosystem package, justified because nothing
// in the pack offers this format and hand-rolling the fixed, small XES
// element vocabulary is simpler than adopting a general-purpose XML
// framework for it.
package eventlog

import (
	"encoding/xml"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/antigravity-dev/ontoflow/internal/caselife"
)

// Log is the root XES-equivalent document: one log containing exactly
// one trace, since export is always whole-case, consistent, and complete
// up to a stated receipt ID.
type Log struct {
	XMLName xml.Name `xml:"log"`
	Trace   Trace    `xml:"trace"`
}

// Trace is one case's complete ordered event sequence.
type Trace struct {
	CaseID string      `xml:"string,omitempty"`
	Events []XESEvent  `xml:"event"`
}

// XESEvent is one case transition rendered in XES's attribute-bag shape:
// every field is a typed child element keyed by name, the convention the
// XES standard uses so consumers can extensibly add attributes without
// a schema change.
type XESEvent struct {
	Activity   string            `xml:"activity"`
	Timestamp  string            `xml:"timestamp"`
	Resource   string            `xml:"resource,omitempty"`
	WorkItemID string            `xml:"work_item_id,omitempty"`
	Data       []DataAttribute   `xml:"data>attribute,omitempty"`
}

// DataAttribute is one key/value pair from an event's recorded data map,
// rendered with a stable key order so two exports of the same history
// are byte-identical: the same case history must always export the same
// bytes.
type DataAttribute struct {
	Key   string `xml:"key,attr"`
	Value string `xml:",chardata"`
}

// Export renders a case's history as an XES-equivalent log, including
// only events up to and including the one that produced upToReceiptIdx
// (the ordinal position of the last receipt the caller has verified —
// receipts are appended
// in the same order as history events, one per transition, so an
// ordinal cutoff on History is equivalent to a cutoff on the receipt
// log). A negative upToReceiptIdx exports the complete history.
func Export(c caselife.Case, upToReceiptIdx int) ([]byte, error) {
	cutoff := len(c.History)
	if upToReceiptIdx >= 0 && upToReceiptIdx < cutoff {
		cutoff = upToReceiptIdx + 1
	}

	log := Log{Trace: Trace{CaseID: c.ID.String()}}
	for _, ev := range c.History[:cutoff] {
		log.Trace.Events = append(log.Trace.Events, toXESEvent(ev))
	}

	out, err := xml.MarshalIndent(log, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("eventlog: marshal: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}

func toXESEvent(ev caselife.Event) XESEvent {
	xe := XESEvent{
		Activity:  ev.Kind.String(),
		Timestamp: ev.Timestamp.UTC().Format("2006-01-02T15:04:05.000000000Z"),
		Resource:  ev.Resource,
	}
	if ev.WorkItemID != uuid.Nil {
		xe.WorkItemID = ev.WorkItemID.String()
	}
	keys := make([]string, 0, len(ev.Data))
	for k := range ev.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		xe.Data = append(xe.Data, DataAttribute{Key: k, Value: fmt.Sprint(ev.Data[k])})
	}
	return xe
}

// Import parses an exported log back into its ordered event sequence,
// used by a replay harness to check that export then re-import yields
// the same event sequence. Import only recovers the log's own fields — it
// does not reconstruct a caselife.Case, since a Case also carries state
// (Data, Items) not derivable from the event stream's textual rendering
// alone; a full replay harness is future work (see DESIGN.md).
func Import(data []byte) (Log, error) {
	var log Log
	if err := xml.Unmarshal(data, &log); err != nil {
		return Log{}, fmt.Errorf("eventlog: unmarshal: %w", err)
	}
	return log, nil
}
