// Package export renders stored run results as SVG line plots.
package export

import (
	"errors"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/san-kum/mastersim/internal/storage"
)

var palette = []string{"#00ccff", "#00ff88", "#ffcc00", "#ff4444", "#ff00ff", "#aaaaff"}

// Series is one curve of a plot.
type Series struct {
	Name   string
	Times  []float64
	Values []float64
}

// FromResults picks the named columns of a stored run. Non-finite samples
// are dropped.
func FromResults(res *storage.Results, columns []string) ([]Series, error) {
	out := make([]Series, 0, len(columns))
	for _, name := range columns {
		values, err := res.Series(name)
		if err != nil {
			return nil, err
		}
		s := Series{Name: name}
		for i, v := range values {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			s.Times = append(s.Times, res.Times[i])
			s.Values = append(s.Values, v)
		}
		out = append(out, s)
	}
	return out, nil
}

// SVG draws every series against time on shared axes with a legend.
func SVG(w io.Writer, series []Series, width, height int) error {
	minX, maxX := math.Inf(1), math.Inf(-1)
	minY, maxY := math.Inf(1), math.Inf(-1)
	points := 0
	for _, s := range series {
		for i, t := range s.Times {
			minX, maxX = math.Min(minX, t), math.Max(maxX, t)
			minY, maxY = math.Min(minY, s.Values[i]), math.Max(maxY, s.Values[i])
			points++
		}
	}
	if points < 2 {
		return errors.New("export: need at least two samples")
	}

	rangeX := maxX - minX
	rangeY := maxY - minY
	if rangeX == 0 {
		rangeX = 1
	}
	if rangeY == 0 {
		rangeY = 1
	}
	minY -= rangeY * 0.1
	maxY += rangeY * 0.1
	rangeY = maxY - minY

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d">
<rect width="100%%" height="100%%" fill="#0a0a0a"/>
`, width, height, width, height))

	if minY < 0 && maxY > 0 {
		y0 := float64(height) - (0-minY)/rangeY*float64(height)
		sb.WriteString(fmt.Sprintf(`<line x1="0" y1="%.1f" x2="%d" y2="%.1f" stroke="#444466" stroke-width="0.5"/>
`, y0, width, y0))
	}

	for k, s := range series {
		if len(s.Times) == 0 {
			continue
		}
		color := palette[k%len(palette)]
		sb.WriteString(fmt.Sprintf(`<path fill="none" stroke="%s" stroke-width="1.5" d="M`, color))
		for i, t := range s.Times {
			x := (t - minX) / rangeX * float64(width)
			y := float64(height) - (s.Values[i]-minY)/rangeY*float64(height)
			if i == 0 {
				sb.WriteString(fmt.Sprintf("%.1f,%.1f", x, y))
			} else {
				sb.WriteString(fmt.Sprintf(" L%.1f,%.1f", x, y))
			}
		}
		sb.WriteString("\"/>\n")
		sb.WriteString(fmt.Sprintf(`<text x="8" y="%d" fill="%s" font-family="monospace" font-size="12">%s</text>
`, 16*(k+1), color, escape(s.Name)))
	}

	sb.WriteString(fmt.Sprintf(`<text x="%d" y="%d" fill="#666688" font-family="monospace" font-size="10" text-anchor="end">t = %g .. %g</text>
`, width-8, height-6, minX, maxX))
	sb.WriteString("</svg>\n")

	_, err := io.WriteString(w, sb.String())
	return err
}

var escaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")

func escape(s string) string {
	return escaper.Replace(s)
}
