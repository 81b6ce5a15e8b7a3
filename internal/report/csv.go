package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/signalsfoundry/sewerflow-simulator/core"
)

// CSVWriter writes one row per simulated hour. Node columns follow the
// order of the first snapshot written.
type CSVWriter struct {
	w     *csv.Writer
	nodes []string
}

// NewCSVWriter wraps w.
func NewCSVWriter(w io.Writer) *CSVWriter {
	return &CSVWriter{w: csv.NewWriter(w)}
}

// Write emits the header on first use, then one row for s.
func (c *CSVWriter) Write(s *core.HourSnapshot) error {
	if c.nodes == nil {
		c.nodes = make([]string, 0, len(s.Nodes))
		header := []string{
			"hour", "time", "rain_intensity", "rain_depth",
			"total_flow", "regime", "overflow_active", "diverted_flow", "undischarged",
		}
		for _, n := range s.Nodes {
			c.nodes = append(c.nodes, n.ID)
			header = append(header, n.ID+"_Flow")
		}
		if err := c.w.Write(header); err != nil {
			return fmt.Errorf("write csv header: %w", err)
		}
	}

	ts := ""
	if !s.Time.IsZero() {
		ts = s.Time.UTC().Format(time.RFC3339)
	}
	active := "0"
	if s.Overflow.Active {
		active = "1"
	}
	row := []string{
		strconv.Itoa(s.Hour),
		ts,
		formatFloat(s.Rain.Intensity),
		formatFloat(s.Rain.Depth),
		formatFloat(s.Plant.EstimatedFlow),
		s.Plant.Regime.String(),
		active,
		formatFloat(s.Overflow.DivertedFlow),
		formatFloat(s.Undischarged),
	}
	for _, id := range c.nodes {
		v := ""
		if n, ok := s.Node(id); ok {
			v = formatFloat(n.CurrentFlow)
		}
		row = append(row, v)
	}
	if err := c.w.Write(row); err != nil {
		return fmt.Errorf("write csv row for hour %d: %w", s.Hour, err)
	}
	return nil
}

// Flush writes buffered rows to the underlying writer.
func (c *CSVWriter) Flush() error {
	c.w.Flush()
	return c.w.Error()
}

// WriteCSV writes every snapshot in history to w.
func WriteCSV(w io.Writer, history []*core.HourSnapshot) error {
	cw := NewCSVWriter(w)
	for _, s := range history {
		if err := cw.Write(s); err != nil {
			return err
		}
	}
	return cw.Flush()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}
