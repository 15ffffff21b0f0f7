// Package datasource defines the contract between data sources and the
// applications that read time-series records from them.
//
// An application describes what it wants with a Request and receives
// records through the request's Sink. A Manager routes each request to the
// Source named by its URI. Sources live on the dispatcher goroutine and
// report back through the Manager, which checks that the sink is still
// registered before every callback.
package datasource

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// StartOption selects where a request begins reading.
type StartOption int

const (
	// StartNone is the zero value and is never valid.
	StartNone StartOption = iota
	// StartAtRecord begins at a record number.
	StartAtRecord
	// StartAtTime begins at a time stamp and continues polling.
	StartAtTime
	// StartAtNewest begins with the newest record.
	StartAtNewest
	// StartAfterNewest begins with the first record after the newest one.
	StartAfterNewest
	// StartRelativeToNewest begins at the newest record's time stamp plus
	// the backfill interval.
	StartRelativeToNewest
	// StartAtOffsetFromNewest begins a number of records before the newest.
	StartAtOffsetFromNewest
	// StartDateQuery reads a fixed time range and then stops.
	StartDateQuery
)

// String returns the string representation of the start option.
func (o StartOption) String() string {
	switch o {
	case StartNone:
		return "None"
	case StartAtRecord:
		return "AtRecord"
	case StartAtTime:
		return "AtTime"
	case StartAtNewest:
		return "AtNewest"
	case StartAfterNewest:
		return "AfterNewest"
	case StartRelativeToNewest:
		return "RelativeToNewest"
	case StartAtOffsetFromNewest:
		return "AtOffsetFromNewest"
	case StartDateQuery:
		return "DateQuery"
	default:
		return fmt.Sprintf("Unknown(%d)", int(o))
	}
}

// RequestState tracks a request through its source.
type RequestState int

const (
	// RequestPending has not been reported ready.
	RequestPending RequestState = iota
	// RequestReady has been reported ready and may receive records.
	RequestReady
	// RequestSatisfied has received every record it asked for.
	RequestSatisfied
	// RequestError has been reported failed.
	RequestError
)

// String returns the string representation of the state.
func (s RequestState) String() string {
	switch s {
	case RequestPending:
		return "Pending"
	case RequestReady:
		return "Ready"
	case RequestSatisfied:
		return "Satisfied"
	case RequestError:
		return "Error"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// Request describes one application read against a table or column.
//
// Requests are owned by the dispatcher goroutine; none of the methods are
// safe for concurrent use.
type Request struct {
	id   uuid.UUID
	sink Sink
	uri  string

	option    StartOption
	recordNo  uint32
	startTime time.Time
	endTime   time.Time
	backfill  time.Duration
	offset    uint32

	wart       any
	state      RequestState
	failure    SinkFailure
	expectMore bool
	begin, end int
}

// NewRequest creates a pending request addressed by uri.
func NewRequest(sink Sink, uri string) *Request {
	return &Request{
		id:     uuid.New(),
		sink:   sink,
		uri:    uri,
		option: StartAtNewest,
		begin:  -1,
		end:    -1,
	}
}

// ID returns the request's unique id.
func (r *Request) ID() uuid.UUID { return r.id }

// Sink returns the callback target.
func (r *Request) Sink() Sink { return r.sink }

// URI returns the address of the requested data.
func (r *Request) URI() string { return r.uri }

// StartOption returns the start option.
func (r *Request) StartOption() StartOption { return r.option }

// SetStartOption sets the start option.
func (r *Request) SetStartOption(o StartOption) { r.option = o }

// RecordNo returns the starting record number for StartAtRecord.
func (r *Request) RecordNo() uint32 { return r.recordNo }

// SetRecordNo sets the starting record number.
func (r *Request) SetRecordNo(n uint32) { r.recordNo = n }

// StartTime returns the start time for StartAtTime and StartDateQuery.
func (r *Request) StartTime() time.Time { return r.startTime }

// SetStartTime sets the start time.
func (r *Request) SetStartTime(t time.Time) { r.startTime = t }

// EndTime returns the exclusive end time for StartDateQuery.
func (r *Request) EndTime() time.Time { return r.endTime }

// SetEndTime sets the end time.
func (r *Request) SetEndTime(t time.Time) { r.endTime = t }

// BackfillInterval returns the offset added to the newest time stamp for
// StartRelativeToNewest. It is normally negative.
func (r *Request) BackfillInterval() time.Duration { return r.backfill }

// SetBackfillInterval sets the backfill interval.
func (r *Request) SetBackfillInterval(d time.Duration) { r.backfill = d }

// StartOffset returns the record count for StartAtOffsetFromNewest.
func (r *Request) StartOffset() uint32 { return r.offset }

// SetStartOffset sets the record count.
func (r *Request) SetStartOffset(n uint32) { r.offset = n }

// Wart returns the decoration attached by the source.
func (r *Request) Wart() any { return r.wart }

// SetWart attaches source-specific decoration, such as a parsed URI.
func (r *Request) SetWart(w any) { r.wart = w }

// State returns the request state.
func (r *Request) State() RequestState { return r.state }

// SetState sets the request state.
func (r *Request) SetState(s RequestState) { r.state = s }

// Failure returns the last failure reported for the request.
func (r *Request) Failure() SinkFailure { return r.failure }

// ExpectMoreData reports whether the source is still delivering records
// for the current poll cycle.
func (r *Request) ExpectMoreData() bool { return r.expectMore }

// SetExpectMoreData sets the expect more data flag.
func (r *Request) SetExpectMoreData(v bool) { r.expectMore = v }

// ValueIndices returns the half-open range of record values that belong to
// this request. Both are -1 before the request is ready.
func (r *Request) ValueIndices() (begin, end int) { return r.begin, r.end }

// SetValueIndices sets the value index range.
func (r *Request) SetValueIndices(begin, end int) {
	r.begin = begin
	r.end = end
}

// IsCompatible reports whether r and other can share a single query: the
// same start option with the same parameters for that option.
func (r *Request) IsCompatible(other *Request) bool {
	if other == nil || r.option != other.option {
		return false
	}
	switch r.option {
	case StartAtRecord:
		return r.recordNo == other.recordNo
	case StartAtTime:
		return r.startTime.Equal(other.startTime)
	case StartRelativeToNewest:
		return r.backfill == other.backfill
	case StartAtOffsetFromNewest:
		return r.offset == other.offset
	case StartDateQuery:
		return r.startTime.Equal(other.startTime) && r.endTime.Equal(other.endTime)
	default:
		return true
	}
}

// SourceName returns the source segment of uri: everything before the first
// unescaped colon, with backslash escapes removed.
func SourceName(uri string) string {
	name := make([]byte, 0, len(uri))
	for i := 0; i < len(uri); i++ {
		switch c := uri[i]; c {
		case '\\':
			if i+1 < len(uri) {
				i++
				name = append(name, uri[i])
			}
		case ':':
			return string(name)
		default:
			name = append(name, c)
		}
	}
	return string(name)
}
