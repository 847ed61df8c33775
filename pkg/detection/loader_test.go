package detection

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/cell-tiler/pkg/types"
)

func TestReadTableDefaultHeaders(t *testing.T) {
	in := "Image,Object ID,Class,Centroid X px,Centroid Y px\n" +
		"slide.tif,cell-1,Tumor,500.5,420.25\n" +
		"slide.tif,cell-2,Stroma,12,13\n"

	got, err := NewLoader().ReadTable(strings.NewReader(in), ',')
	require.NoError(t, err)
	assert.Equal(t, []types.DetectedObject{
		{ID: "cell-1", X: 500.5, Y: 420.25},
		{ID: "cell-2", X: 12, Y: 13},
	}, got)
}

func TestReadTableWithoutIDUsesRowNumber(t *testing.T) {
	in := "x\ty\n10\t20\n\n30\t40\n"

	got, err := NewLoader().ReadTable(strings.NewReader(in), '\t')
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "1", got[0].ID)
	assert.Equal(t, 30.0, got[1].X)
}

func TestReadTableExplicitColumns(t *testing.T) {
	in := "cell,cx,cy,x\nA,1,2,999\n"

	got, err := NewLoaderWithColumns(Columns{ID: "cell", X: "cx", Y: "cy"}).ReadTable(strings.NewReader(in), ',')
	require.NoError(t, err)
	assert.Equal(t, []types.DetectedObject{{ID: "A", X: 1, Y: 2}}, got)
}

func TestReadTableErrors(t *testing.T) {
	_, err := NewLoader().ReadTable(strings.NewReader("a,b\n1,2\n"), ',')
	assert.Error(t, err, "header without centroid columns")

	_, err = NewLoader().ReadTable(strings.NewReader("x,y\n1,abc\n"), ',')
	require.Error(t, err)
	assert.Contains(t, err.Error(), "row 1")

	_, err = NewLoader().ReadTable(strings.NewReader("x,y\n1,2\nNaN,3\n"), ',')
	require.Error(t, err)
	assert.Contains(t, err.Error(), "row 2")
}

func TestReadTableEmpty(t *testing.T) {
	got, err := NewLoader().ReadTable(strings.NewReader(""), ',')
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestReadJSON(t *testing.T) {
	in := `[{"id":"a","x":1.5,"y":2},{"id":7,"x":3,"y":4},{"x":5,"y":6}]`

	got, err := ReadJSON(strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, []types.DetectedObject{
		{ID: "a", X: 1.5, Y: 2},
		{ID: "7", X: 3, Y: 4},
		{ID: "3", X: 5, Y: 6},
	}, got)

	_, err = ReadJSON(strings.NewReader(`[{"id":"a","x":1}]`))
	assert.Error(t, err)
}

func TestReadGeoJSON(t *testing.T) {
	in := `{
	  "type": "FeatureCollection",
	  "features": [
	    {"type":"Feature","id":"sq","geometry":{"type":"Polygon","coordinates":[[[0,0],[10,0],[10,10],[0,10],[0,0]]]},"properties":{}},
	    {"type":"Feature","geometry":{"type":"Point","coordinates":[3,4]},"properties":{"name":"pt"}},
	    {"type":"Feature","geometry":null,"properties":{}},
	    {"type":"Feature","geometry":{"type":"Polygon","coordinates":[[[0,0],[30,0],[0,30],[0,0]]]},"properties":{"objectId":"tri"}}
	  ]
	}`

	got, err := ReadGeoJSON(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, types.DetectedObject{ID: "sq", X: 5, Y: 5}, got[0])
	assert.Equal(t, types.DetectedObject{ID: "pt", X: 3, Y: 4}, got[1])
	assert.Equal(t, "tri", got[2].ID)
	assert.InDelta(t, 10.0, got[2].X, 1e-9)
	assert.InDelta(t, 10.0, got[2].Y, 1e-9)
}

func TestReadGeoJSONMultiPolygon(t *testing.T) {
	in := `{"type":"FeatureCollection","features":[{"type":"Feature","geometry":{"type":"MultiPolygon","coordinates":[
	  [[[0,0],[2,0],[2,2],[0,2],[0,0]]],
	  [[[10,0],[12,0],[12,2],[10,2],[10,0]]]
	]},"properties":{}}]}`

	got, err := ReadGeoJSON(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.InDelta(t, 6.0, got[0].X, 1e-9)
	assert.InDelta(t, 1.0, got[0].Y, 1e-9)
	assert.Equal(t, "1", got[0].ID)
}

func TestGeometryCentroidDegenerate(t *testing.T) {
	c, err := geometryCentroid(orb.Polygon{{{0, 0}, {4, 0}, {8, 0}}})
	require.NoError(t, err)
	assert.InDelta(t, 4.0, c.X(), 1e-9)
	assert.InDelta(t, 0.0, c.Y(), 1e-9)
}

func TestGeometryCentroidDegenerateClosedRing(t *testing.T) {
	c, err := geometryCentroid(orb.Polygon{{{0, 0}, {2, 0}, {4, 0}, {0, 0}}})
	require.NoError(t, err)
	assert.InDelta(t, 2.0, c.X(), 1e-9)
	assert.InDelta(t, 0.0, c.Y(), 1e-9)
}

func TestReadGeoJSONNumericFeatureID(t *testing.T) {
	in := `{"type":"FeatureCollection","features":[{"type":"Feature","id":42,"geometry":{"type":"Point","coordinates":[1,2]},"properties":null}]}`

	got, err := ReadGeoJSON(strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, []types.DetectedObject{{ID: "42", X: 1, Y: 2}}, got)
}

func TestReadGeoJSONUnsupportedGeometry(t *testing.T) {
	in := `{"type":"FeatureCollection","features":[{"type":"Feature","geometry":{"type":"LineString","coordinates":[[0,0],[1,1]]}}]}`
	_, err := ReadGeoJSON(strings.NewReader(in))
	assert.Error(t, err)
}

func TestLoadAndFind(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "slide-a.csv")
	require.NoError(t, os.WriteFile(path, []byte("id,x,y\nc1,100,200\n"), 0o644))

	found, ok := Find(dir, "slide-a")
	require.True(t, ok)
	assert.Equal(t, path, found)

	_, ok = Find(dir, "slide-b")
	assert.False(t, ok)

	got, err := NewLoader().Load(found)
	require.NoError(t, err)
	assert.Equal(t, []types.DetectedObject{{ID: "c1", X: 100, Y: 200}}, got)
}

func TestFindTabSeparatedText(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "slide-c.txt")
	require.NoError(t, os.WriteFile(path, []byte("x\ty\n10\t20\n"), 0o644))

	found, ok := Find(dir, "slide-c")
	require.True(t, ok)
	assert.Equal(t, path, found)

	got, err := NewLoader().Load(found)
	require.NoError(t, err)
	assert.Equal(t, []types.DetectedObject{{ID: "1", X: 10, Y: 20}}, got)
}

func TestExtensionsMatchLoad(t *testing.T) {
	dir := t.TempDir()
	for _, ext := range Extensions {
		path := filepath.Join(dir, "cells"+ext)
		require.NoError(t, os.WriteFile(path, nil, 0o644))
		_, err := NewLoader().Load(path)
		assert.False(t, errors.Is(err, ErrUnsupportedFormat), ext)
	}
}

func TestLoadUnsupportedExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cells.xml")
	require.NoError(t, os.WriteFile(path, []byte("<cells/>"), 0o644))

	_, err := NewLoader().Load(path)
	assert.True(t, errors.Is(err, ErrUnsupportedFormat))
}
