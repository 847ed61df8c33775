package detection

import (
	"fmt"
	"io"
	"strconv"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"

	"github.com/menta2k/cell-tiler/pkg/types"
)

// ReadGeoJSON parses a FeatureCollection of detection outlines. Each
// feature's centroid is the area centroid of its polygon(s); Point
// features are taken as-is. Features without geometry are skipped.
func ReadGeoJSON(r io.Reader) ([]types.DetectedObject, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read geojson: %w", err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse geojson: %w", err)
	}

	out := make([]types.DetectedObject, 0, len(fc.Features))
	for i, f := range fc.Features {
		if f.Geometry == nil {
			continue
		}
		c, err := geometryCentroid(f.Geometry)
		if err != nil {
			return nil, fmt.Errorf("feature %d: %w", i, err)
		}
		id := featureID(f)
		if id == "" {
			id = strconv.Itoa(i + 1)
		}
		out = append(out, types.DetectedObject{ID: id, X: c.X(), Y: c.Y()})
	}
	return out, nil
}

func featureID(f *geojson.Feature) string {
	if f.ID != nil {
		if id := fmt.Sprint(f.ID); id != "" {
			return id
		}
	}
	for _, key := range []string{"id", "objectId", "object_id", "name"} {
		if v, ok := f.Properties[key]; ok && v != nil {
			return fmt.Sprint(v)
		}
	}
	return ""
}

func geometryCentroid(g orb.Geometry) (orb.Point, error) {
	var outer []orb.Ring
	switch g := g.(type) {
	case orb.Point:
		return g, nil
	case orb.Polygon:
		if len(g) == 0 {
			return orb.Point{}, fmt.Errorf("empty Polygon")
		}
		outer = []orb.Ring{g[0]}
	case orb.MultiPolygon:
		for _, p := range g {
			if len(p) > 0 {
				outer = append(outer, p[0])
			}
		}
		if len(outer) == 0 {
			return orb.Point{}, fmt.Errorf("empty MultiPolygon")
		}
	default:
		return orb.Point{}, fmt.Errorf("unsupported geometry type %q", g.GeoJSONType())
	}

	// Holes are ignored.
	var shape orb.Geometry = orb.Polygon{outer[0]}
	if len(outer) > 1 {
		mp := make(orb.MultiPolygon, 0, len(outer))
		for _, r := range outer {
			mp = append(mp, orb.Polygon{r})
		}
		shape = mp
	}
	c, area := planar.CentroidArea(shape)
	if area == 0 {
		return vertexMean(outer)
	}
	return c, nil
}

// vertexMean averages the distinct vertices of rings with no area. A
// closing vertex that repeats the first is counted once.
func vertexMean(rings []orb.Ring) (orb.Point, error) {
	var sumX, sumY float64
	n := 0
	for _, r := range rings {
		if len(r) > 1 && r.Closed() {
			r = r[:len(r)-1]
		}
		for _, p := range r {
			sumX += p.X()
			sumY += p.Y()
			n++
		}
	}
	if n == 0 {
		return orb.Point{}, fmt.Errorf("empty geometry")
	}
	return orb.Point{sumX / float64(n), sumY / float64(n)}, nil
}
