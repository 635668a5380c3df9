package storage

import (
	"encoding/json"
	"io"
	"math"
)

type ExportData struct {
	Run     RunMetadata `json:"run"`
	Columns []string    `json:"columns"`
	Times   []float64   `json:"times"`
	// Values holds one row per time; non-numeric cells are null.
	Values [][]*float64 `json:"values"`
}

// ExportJSON writes a stored run with its metadata as indented JSON.
func ExportJSON(w io.Writer, meta RunMetadata, res *Results) error {
	data := ExportData{
		Run:     meta,
		Columns: res.Columns,
		Times:   res.Times,
		Values:  make([][]*float64, len(res.Values)),
	}
	for i, row := range res.Values {
		out := make([]*float64, len(row))
		for j, v := range row {
			if !math.IsNaN(v) && !math.IsInf(v, 0) {
				out[j] = &row[j]
			}
		}
		data.Values[i] = out
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}
