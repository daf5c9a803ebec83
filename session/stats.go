package session

import "sync/atomic"

type counters struct {
	framesIn     uint64
	msgsIn       uint64
	bytesIn      uint64
	msgsOut      uint64
	bytesOut     uint64
	acks         uint64
	unrecognized uint64
	serverErrors uint64
}

// Stats is a point in time copy of a session's counters.
type Stats struct {
	FramesIn     uint64 `json:"frames_in"`
	MsgsIn       uint64 `json:"msgs_in"`
	BytesIn      uint64 `json:"bytes_in"`
	MsgsOut      uint64 `json:"msgs_out"`
	BytesOut     uint64 `json:"bytes_out"`
	Acks         uint64 `json:"acks"`
	Unrecognized uint64 `json:"unrecognized"`
	ServerErrors uint64 `json:"server_errors"`

	DispatchFailures uint64 `json:"dispatch_failures"`
	Dropped          uint64 `json:"dropped"`
	Subscriptions    int    `json:"subscriptions"`
	PingsOut         int    `json:"pings_out"`
}

func (s *Session) Stats() Stats {
	return Stats{
		FramesIn:     atomic.LoadUint64(&s.stats.framesIn),
		MsgsIn:       atomic.LoadUint64(&s.stats.msgsIn),
		BytesIn:      atomic.LoadUint64(&s.stats.bytesIn),
		MsgsOut:      atomic.LoadUint64(&s.stats.msgsOut),
		BytesOut:     atomic.LoadUint64(&s.stats.bytesOut),
		Acks:         atomic.LoadUint64(&s.stats.acks),
		Unrecognized: atomic.LoadUint64(&s.stats.unrecognized),
		ServerErrors: atomic.LoadUint64(&s.stats.serverErrors),

		DispatchFailures: s.subs.Failures(),
		Dropped:          s.subs.Dropped(),
		Subscriptions:    s.subs.Len(),
		PingsOut:         s.OutstandingPings(),
	}
}
