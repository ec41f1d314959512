package core

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/searchktools/wind/core/observability"
	"github.com/searchktools/wind/core/pools"
)

// Stats is a point-in-time view of the server
type Stats struct {
	OpenConnections int64                     `json:"open_connections"`
	Accepted        uint64                    `json:"accepted"`
	Closed          uint64                    `json:"closed"`
	ProtocolErrors  uint64                    `json:"protocol_errors"`
	Requests        observability.Snapshot    `json:"requests"`
	ConnectionPool  pools.ConnectionPoolStats `json:"connection_pool"`
	BytePool        pools.BytePoolStats       `json:"byte_pool"`
	Workers         *pools.WorkerPoolStats    `json:"workers,omitempty"`
}

// Stats collects counters from the server, its monitor and its pools. Safe
// for concurrent use.
func (s *Server) Stats() Stats {
	st := Stats{
		OpenConnections: s.open.Load(),
		Accepted:        s.accepted.Load(),
		Closed:          s.closed.Load(),
		ProtocolErrors:  s.protocolErrors.Load(),
		Requests:        s.monitor.Snapshot(),
		ConnectionPool:  s.connPool.Stats(),
		BytePool:        s.bytePool.Stats(),
	}
	if s.workers != nil {
		ws := s.workers.Stats()
		st.Workers = &ws
	}
	return st
}

// StatsJSON renders Stats as JSON
func (s *Server) StatsJSON() string {
	data, err := json.Marshal(s.Stats())
	if err != nil {
		return fmt.Sprintf(`{"error":%q}`, err.Error())
	}
	return string(data)
}

// String renders Stats for humans
func (st Stats) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "connections: open=%d accepted=%d closed=%d protocol_errors=%d\n",
		st.OpenConnections, st.Accepted, st.Closed, st.ProtocolErrors)
	fmt.Fprintf(&b, "requests: total=%d errors=%d bytes=%d avg=%s\n",
		st.Requests.Requests, st.Requests.Errors, st.Requests.Bytes, st.Requests.Avg)
	for _, r := range st.Requests.Routes {
		fmt.Fprintf(&b, "  %-32s count=%d errors=%d avg=%s max=%s\n", r.Route, r.Count, r.Errors, r.Avg, r.Max)
	}
	fmt.Fprintf(&b, "connection pool: gets=%d puts=%d hit_rate=%.2f\n",
		st.ConnectionPool.Gets, st.ConnectionPool.Puts, st.ConnectionPool.HitRate)
	fmt.Fprintf(&b, "byte pool: gets=%d puts=%d misses=%d\n",
		st.BytePool.Gets, st.BytePool.Puts, st.BytePool.Misses)
	if st.Workers != nil {
		fmt.Fprintf(&b, "workers: %+v\n", *st.Workers)
	}
	return b.String()
}
