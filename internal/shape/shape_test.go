package shape

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/patchgridgo/internal/geo"
)

const featureCollection = `{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature", "properties": {"name": "a"},
     "geometry": {"type": "Polygon", "coordinates": [[[14.0,46.0],[14.2,46.0],[14.2,46.2],[14.0,46.2],[14.0,46.0]]]}},
    {"type": "Feature", "properties": {"name": "b"},
     "geometry": {"type": "MultiPolygon", "coordinates": [
        [[[15.0,46.0],[15.1,46.0],[15.1,46.1],[15.0,46.1],[15.0,46.0]]],
        [[[15.2,46.0],[15.3,46.0],[15.3,46.1],[15.2,46.1],[15.2,46.0]]]
     ]}},
    {"type": "Feature", "properties": {},
     "geometry": {"type": "Point", "coordinates": [14.5, 46.5]}}
  ]
}`

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "aoi.geojson")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestParse_FeatureCollection(t *testing.T) {
	mp, err := Parse([]byte(featureCollection))
	require.NoError(t, err)
	assert.Len(t, mp, 3)
}

func TestParse_FeatureAndGeometry(t *testing.T) {
	feature := `{"type":"Feature","properties":null,"geometry":{"type":"Polygon","coordinates":[[[14,46],[15,46],[15,47],[14,46]]]}}`
	mp, err := Parse([]byte(feature))
	require.NoError(t, err)
	assert.Len(t, mp, 1)

	geometry := `{"type":"Polygon","coordinates":[[[14,46],[15,46],[15,47],[14,46]]]}`
	mp, err = Parse([]byte(geometry))
	require.NoError(t, err)
	assert.Len(t, mp, 1)
}

func TestParse_Rejects(t *testing.T) {
	for name, input := range map[string]string{
		"not json":    `{`,
		"only points": `{"type":"Point","coordinates":[14,46]}`,
		"empty fc":    `{"type":"FeatureCollection","features":[]}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(input))
			assert.ErrorIs(t, err, geo.ErrInvalidAreaOfInterest)
		})
	}
}

func TestProvider_LoadPicksCentreZone(t *testing.T) {
	path := writeFile(t, featureCollection)

	aoi, err := NewProvider().Load(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, geo.CRS(32633), aoi.CRS)

	// The first polygon's south-west corner, 14°E 46°N, lies west of the
	// central meridian of zone 33.
	sw := aoi.Geometry[0][0][0]
	assert.Less(t, sw.X(), 500000.0)
	assert.InDelta(t, 5095000, sw.Y(), 5000)
}

func TestProvider_LoadWithCRS(t *testing.T) {
	path := writeFile(t, featureCollection)

	aoi, err := NewProvider(WithCRS(geo.CRS(32634))).Load(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, geo.CRS(32634), aoi.CRS)

	_, err = NewProvider(WithCRS(geo.CRS(3857))).Load(context.Background(), path)
	assert.ErrorIs(t, err, geo.ErrInvalidAreaOfInterest)
}

func TestProvider_LoadMissingFile(t *testing.T) {
	_, err := NewProvider().Load(context.Background(), filepath.Join(t.TempDir(), "missing.geojson"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
