package detection

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/menta2k/cell-tiler/pkg/types"
)

// Default header aliases recognized in tabular exports, compared
// case-insensitively.
var (
	DefaultIDColumns = []string{"object id", "object_id", "id", "name"}
	DefaultXColumns  = []string{"centroid x px", "centroid_x", "centroid x", "x"}
	DefaultYColumns  = []string{"centroid y px", "centroid_y", "centroid y", "y"}
)

// Extensions accepted by Load, in lookup order.
var Extensions = []string{".csv", ".tsv", ".txt", ".geojson", ".json"}

// ErrUnsupportedFormat is returned for detection files with an unknown extension
var ErrUnsupportedFormat = errors.New("unsupported detection file format")

// Columns overrides the header names used to read tabular exports.
// Empty fields fall back to the default aliases.
type Columns struct {
	ID string
	X  string
	Y  string
}

// Loader reads exported cell detections
type Loader struct {
	columns Columns
}

// NewLoader creates a loader using the default column aliases
func NewLoader() *Loader {
	return &Loader{}
}

// NewLoaderWithColumns creates a loader with explicit column names
func NewLoaderWithColumns(columns Columns) *Loader {
	return &Loader{columns: columns}
}

// Load reads detections from path, choosing the parser by extension.
func (l *Loader) Load(path string) ([]types.DetectedObject, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open detections: %w", err)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return l.ReadTable(f, ',')
	case ".tsv", ".txt":
		return l.ReadTable(f, '\t')
	case ".geojson":
		return ReadGeoJSON(f)
	case ".json":
		return ReadJSON(f)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
}

// Find returns the detection file for a slide in dir, trying each of
// Extensions after the slide's base name.
func Find(dir, name string) (string, bool) {
	for _, ext := range Extensions {
		p := filepath.Join(dir, name+ext)
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p, true
		}
	}
	return "", false
}

// ReadTable parses a delimited export with a header row.
func (l *Loader) ReadTable(r io.Reader, delim rune) ([]types.DetectedObject, error) {
	cr := csv.NewReader(r)
	cr.Comma = delim
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	idCol := findColumn(header, l.columns.ID, DefaultIDColumns)
	xCol := findColumn(header, l.columns.X, DefaultXColumns)
	yCol := findColumn(header, l.columns.Y, DefaultYColumns)
	if xCol < 0 || yCol < 0 {
		return nil, fmt.Errorf("detections header %q has no centroid x/y columns", header)
	}

	var out []types.DetectedObject
	for row := 1; ; row++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", row, err)
		}
		if len(rec) == 1 && strings.TrimSpace(rec[0]) == "" {
			continue
		}

		x, err := parseCoord(rec, xCol)
		if err != nil {
			return nil, fmt.Errorf("row %d: x: %w", row, err)
		}
		y, err := parseCoord(rec, yCol)
		if err != nil {
			return nil, fmt.Errorf("row %d: y: %w", row, err)
		}

		id := strconv.Itoa(row)
		if idCol >= 0 && idCol < len(rec) && strings.TrimSpace(rec[idCol]) != "" {
			id = strings.TrimSpace(rec[idCol])
		}
		out = append(out, types.DetectedObject{ID: id, X: x, Y: y})
	}
	return out, nil
}

func findColumn(header []string, explicit string, aliases []string) int {
	if explicit != "" {
		aliases = []string{explicit}
	}
	for _, alias := range aliases {
		for i, h := range header {
			h = strings.TrimPrefix(h, "\ufeff")
			if strings.EqualFold(strings.TrimSpace(h), alias) {
				return i
			}
		}
	}
	return -1
}

func parseCoord(rec []string, col int) (float64, error) {
	if col >= len(rec) {
		return 0, fmt.Errorf("missing column %d", col)
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(rec[col]), 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("non-finite coordinate %q", rec[col])
	}
	return v, nil
}

type jsonDetection struct {
	ID json.RawMessage `json:"id"`
	X  *float64        `json:"x"`
	Y  *float64        `json:"y"`
}

// ReadJSON parses an array of {"id","x","y"} objects.
func ReadJSON(r io.Reader) ([]types.DetectedObject, error) {
	var raw []jsonDetection
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to parse detections: %w", err)
	}

	out := make([]types.DetectedObject, 0, len(raw))
	for i, d := range raw {
		if d.X == nil || d.Y == nil {
			return nil, fmt.Errorf("detection %d: missing x or y", i)
		}
		id := rawID(d.ID)
		if id == "" {
			id = strconv.Itoa(i + 1)
		}
		out = append(out, types.DetectedObject{ID: id, X: *d.X, Y: *d.Y})
	}
	return out, nil
}

// rawID accepts string or numeric identifiers.
func rawID(m json.RawMessage) string {
	if len(m) == 0 || string(m) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(m, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(m))
}
