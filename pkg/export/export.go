// Package export renders step log records for people and spreadsheets.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/kilianp07/flexneg/core/steplog"
)

// WriteJSON writes the records to w as a single JSON array.
func WriteJSON(w io.Writer, recs []steplog.LogRecord) error {
	enc := json.NewEncoder(w)
	if recs == nil {
		recs = []steplog.LogRecord{}
	}
	return enc.Encode(recs)
}

// WriteJSONLines writes one JSON object per record.
func WriteJSONLines(w io.Writer, recs []steplog.LogRecord) error {
	enc := json.NewEncoder(w)
	for _, r := range recs {
		if err := enc.Encode(r); err != nil {
			return err
		}
	}
	return nil
}

var csvHeader = []string{
	"timestamp", "step", "clock", "flexibility", "requested", "negotiated",
	"messages_sent", "restarts", "runtime_ms", "outcomes",
}

// WriteCSV writes one row per step with the aggregate figures.
func WriteCSV(w io.Writer, recs []steplog.LogRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, r := range recs {
		row := []string{
			r.Timestamp.UTC().Format(time.RFC3339),
			strconv.FormatInt(r.Step, 10),
			strconv.FormatInt(r.Clock, 10),
			formatFloat(r.Flexibility),
			formatFloat(r.Requested),
			formatFloat(r.Negotiated),
			strconv.Itoa(r.MessagesSent),
			strconv.Itoa(r.Restarts),
			strconv.FormatInt(r.RuntimeMS, 10),
			strconv.Itoa(len(r.Outcomes)),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteChartHTML renders flexibility, requested and negotiated power per
// step as a standalone HTML line chart.
func WriteChartHTML(w io.Writer, recs []steplog.LogRecord) error {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Negotiated flexibility"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Step"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Power"}),
	)

	xAxis := make([]string, 0, len(recs))
	var flex, requested, negotiated []opts.LineData
	for _, r := range recs {
		xAxis = append(xAxis, strconv.FormatInt(r.Step, 10))
		flex = append(flex, opts.LineData{Value: r.Flexibility})
		requested = append(requested, opts.LineData{Value: r.Requested})
		negotiated = append(negotiated, opts.LineData{Value: r.Negotiated})
	}
	line.SetXAxis(xAxis).
		AddSeries("Flexibility", flex).
		AddSeries("Requested", requested).
		AddSeries("Negotiated", negotiated)

	if err := line.Render(w); err != nil {
		return fmt.Errorf("render chart: %w", err)
	}
	return nil
}

// Write dispatches on format: json, jsonl, csv or html.
func Write(w io.Writer, format string, recs []steplog.LogRecord) error {
	switch format {
	case "", "jsonl":
		return WriteJSONLines(w, recs)
	case "json":
		return WriteJSON(w, recs)
	case "csv":
		return WriteCSV(w, recs)
	case "html":
		return WriteChartHTML(w, recs)
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
