// Package render draws located access points as static Leaflet maps.
package render

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"io"
	"os"
	"path/filepath"

	"github.com/JakeFAU/bssid-geolocator/internal/frontier"
)

// ErrNoPoints is returned when there is nothing to draw.
var ErrNoPoints = errors.New("no located access points")

// Kind selects the map style.
type Kind string

// Supported map kinds.
const (
	KindHeatmap Kind = "heatmap"
	KindMarkers Kind = "markers"
)

// ParseKind validates a user-supplied map kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindHeatmap, KindMarkers:
		return Kind(s), nil
	}
	return "", fmt.Errorf("unknown map kind %q (want heatmap or markers)", s)
}

// DefaultOutput is the file name used when none is given.
func (k Kind) DefaultOutput() string {
	if k == KindMarkers {
		return "bssid_map_all.html"
	}
	return "bssid_heatmap.html"
}

// Point is one access point on the map.
type Point struct {
	BSSID string  `json:"bssid"`
	Lat   float64 `json:"lat"`
	Lon   float64 `json:"lon"`
}

// Options tune the generated page.
type Options struct {
	Title   string
	Zoom    int
	TileURL string
}

const defaultTileURL = "https://{s}.tile.openstreetmap.org/{z}/{x}/{y}.png"

// PointsFromRecords keeps records that carry coordinates.
func PointsFromRecords(records []frontier.Record) []Point {
	out := make([]Point, 0, len(records))
	for _, rec := range records {
		if rec.Location == nil {
			continue
		}
		out = append(out, Point{BSSID: rec.BSSID, Lat: rec.Location.Lat, Lon: rec.Location.Lon})
	}
	return out
}

type pageData struct {
	Title   string
	Zoom    int
	TileURL string
	Center  [2]float64
	Heat    [][2]float64
	Markers []Point
}

// Write renders points as kind into w. The map is centered on the mean
// coordinate.
func Write(w io.Writer, kind Kind, points []Point, opts Options) error {
	if len(points) == 0 {
		return ErrNoPoints
	}
	data := pageData{Title: opts.Title, Zoom: opts.Zoom, TileURL: opts.TileURL}
	if data.Zoom <= 0 {
		data.Zoom = 5
	}
	if data.TileURL == "" {
		data.TileURL = defaultTileURL
	}
	var sumLat, sumLon float64
	for _, p := range points {
		sumLat += p.Lat
		sumLon += p.Lon
	}
	data.Center = [2]float64{sumLat / float64(len(points)), sumLon / float64(len(points))}

	var tmpl *template.Template
	switch kind {
	case KindHeatmap:
		tmpl = heatmapTemplate
		data.Heat = make([][2]float64, 0, len(points))
		for _, p := range points {
			data.Heat = append(data.Heat, [2]float64{p.Lat, p.Lon})
		}
		if data.Title == "" {
			data.Title = "BSSID heatmap"
		}
	case KindMarkers:
		tmpl = markersTemplate
		data.Markers = points
		if data.Title == "" {
			data.Title = "BSSID map"
		}
	default:
		return fmt.Errorf("unknown map kind %q", kind)
	}
	if err := tmpl.Execute(w, data); err != nil {
		return fmt.Errorf("render %s: %w", kind, err)
	}
	return nil
}

// WriteFile renders into path, replacing it only once rendering succeeded.
func WriteFile(path string, kind Kind, points []Point, opts Options) error {
	var buf bytes.Buffer
	if err := Write(&buf, kind, points, opts); err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write map: %w", err)
	}
	return nil
}
