package observability

import (
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/searchktools/webserver/core/http"
)

// Snapshot is a point in time copy of a Status
type Snapshot struct {
	TakenAt         time.Time         `json:"taken_at"`
	TrafficIn       uint64            `json:"traffic_in"`
	TrafficOut      uint64            `json:"traffic_out"`
	Served          map[string]uint64 `json:"served"`
	TotalServed     uint64            `json:"total_served"`
	SustainedRate1  uint64            `json:"sustained_rate_1"`
	SustainedRate5  uint64            `json:"sustained_rate_5"`
	SustainedRate15 uint64            `json:"sustained_rate_15"`
	AttainedRate1   uint64            `json:"attained_rate_1"`
	AttainedRate5   uint64            `json:"attained_rate_5"`
	AttainedRate15  uint64            `json:"attained_rate_15"`
	MaxAttainedRate uint64            `json:"max_attained_rate"`
	Latency1        uint64            `json:"latency_1"`
	Latency5        uint64            `json:"latency_5"`
	Latency15       uint64            `json:"latency_15"`
	MaxLatency      uint64            `json:"max_latency"`
}

// Snapshot copies the current figures
func (s *Status) Snapshot() Snapshot {
	served := make(map[string]uint64, http.CodesCount)
	for i := 0; i < http.CodesCount; i++ {
		code := http.Code(i)
		served[code.Text()] = s.Served(code)
	}

	return Snapshot{
		TakenAt:         time.Now(),
		TrafficIn:       s.TrafficIn(),
		TrafficOut:      s.TrafficOut(),
		Served:          served,
		TotalServed:     s.TotalServedRequests(),
		SustainedRate1:  s.SustainedRate1(),
		SustainedRate5:  s.SustainedRate5(),
		SustainedRate15: s.SustainedRate15(),
		AttainedRate1:   s.AttainedRate1(),
		AttainedRate5:   s.AttainedRate5(),
		AttainedRate15:  s.AttainedRate15(),
		MaxAttainedRate: s.MaxAttainedRate(),
		Latency1:        s.Latency1(),
		Latency5:        s.Latency5(),
		Latency15:       s.Latency15(),
		MaxLatency:      s.MaxLatency(),
	}
}

// JSON encodes the snapshot with indentation
func (s Snapshot) JSON() ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}

// Struct converts the snapshot to a protobuf Struct
func (s Snapshot) Struct() (*structpb.Struct, error) {
	served := make(map[string]any, len(s.Served))
	for k, v := range s.Served {
		served[k] = v
	}
	return structpb.NewStruct(map[string]any{
		"taken_at":          s.TakenAt.Format(time.RFC3339Nano),
		"traffic_in":        s.TrafficIn,
		"traffic_out":       s.TrafficOut,
		"served":            served,
		"total_served":      s.TotalServed,
		"sustained_rate_1":  s.SustainedRate1,
		"sustained_rate_5":  s.SustainedRate5,
		"sustained_rate_15": s.SustainedRate15,
		"attained_rate_1":   s.AttainedRate1,
		"attained_rate_5":   s.AttainedRate5,
		"attained_rate_15":  s.AttainedRate15,
		"max_attained_rate": s.MaxAttainedRate,
		"latency_1":         s.Latency1,
		"latency_5":         s.Latency5,
		"latency_15":        s.Latency15,
		"max_latency":       s.MaxLatency,
	})
}

// MarshalBinary encodes the snapshot as a protobuf Struct
func (s Snapshot) MarshalBinary() ([]byte, error) {
	pb, err := s.Struct()
	if err != nil {
		return nil, err
	}
	return proto.Marshal(pb)
}

// String renders a plain text report
func (s Snapshot) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Traffic in/out:      %d / %d bytes\n", s.TrafficIn, s.TrafficOut)
	fmt.Fprintf(&b, "Served requests:     %d\n", s.TotalServed)
	for i := 0; i < http.CodesCount; i++ {
		text := http.Code(i).Text()
		fmt.Fprintf(&b, "  %-26s %d\n", text, s.Served[text])
	}
	fmt.Fprintf(&b, "Sustained rate:      %d / %d / %d req/s\n", s.SustainedRate1, s.SustainedRate5, s.SustainedRate15)
	fmt.Fprintf(&b, "Attained rate:       %d / %d / %d req/s (max %d)\n", s.AttainedRate1, s.AttainedRate5, s.AttainedRate15, s.MaxAttainedRate)
	fmt.Fprintf(&b, "Latency:             %d / %d / %d us (max %d)\n", s.Latency1, s.Latency5, s.Latency15, s.MaxLatency)
	return b.String()
}
