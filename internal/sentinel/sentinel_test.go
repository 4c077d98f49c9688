package sentinel

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/paulmach/orb"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/patchgridgo/internal/geo"
	"github.com/vk/patchgridgo/internal/imagery"
	"github.com/vk/patchgridgo/internal/metrics"
	"github.com/vk/patchgridgo/internal/retry"
	"github.com/vk/patchgridgo/internal/testutil"
	"github.com/vk/patchgridgo/internal/timewindow"
)

var (
	testWindow = timewindow.Window{
		Start: time.Date(2024, 2, 10, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC),
	}
	testBounds = orb.Bound{Min: orb.Point{500000, 5100000}, Max: orb.Point{505120, 5105120}}
)

// fakeHub is a minimal Sentinel Hub: a token endpoint plus handlers for the
// catalog and process APIs.
type fakeHub struct {
	*httptest.Server

	mu       sync.Mutex
	tokens   atomic.Int32
	searches []searchRequest
	catalog  http.HandlerFunc
	process  http.HandlerFunc
}

func newFakeHub(t *testing.T) *fakeHub {
	t.Helper()
	h := &fakeHub{}
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		if r.Form.Get("client_id") != "id" || r.Form.Get("client_secret") != "secret" {
			http.Error(w, `{"error":"invalid_client"}`, http.StatusUnauthorized)
			return
		}
		h.tokens.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"access_token":"tok","token_type":"Bearer","expires_in":3600}`)
	})
	mux.HandleFunc(catalogPath, func(w http.ResponseWriter, r *http.Request) {
		if !authorized(w, r) {
			return
		}
		var req searchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		h.mu.Lock()
		h.searches = append(h.searches, req)
		h.mu.Unlock()
		h.catalog(w, r.WithContext(context.WithValue(r.Context(), searchKey{}, req)))
	})
	mux.HandleFunc(processPath, func(w http.ResponseWriter, r *http.Request) {
		if !authorized(w, r) {
			return
		}
		h.process(w, r)
	})
	h.Server = httptest.NewServer(mux)
	t.Cleanup(h.Close)
	return h
}

type searchKey struct{}

func authorized(w http.ResponseWriter, r *http.Request) bool {
	if r.Header.Get("Authorization") != "Bearer tok" {
		http.Error(w, `{"error":{"message":"unauthorized"}}`, http.StatusUnauthorized)
		return false
	}
	return true
}

func (h *fakeHub) config() Config {
	return Config{
		ClientID:     "id",
		ClientSecret: "secret",
		TokenURL:     h.URL + "/oauth/token",
		BaseURL:      h.URL,
	}
}

func newTestClient(t *testing.T, h *fakeHub, opts ...Option) *Client {
	t.Helper()
	c, err := NewClient(context.Background(), h.config(), opts...)
	require.NoError(t, err)
	return c
}

func TestNewClient_RequiresCredentials(t *testing.T) {
	_, err := NewClient(context.Background(), Config{ClientID: "id"})
	assert.ErrorIs(t, err, ErrMissingCredentials)
}

func TestCatalog_FollowsPagesAndDeduplicates(t *testing.T) {
	// Arrange
	h := newFakeHub(t)
	h.catalog = func(w http.ResponseWriter, r *http.Request) {
		req := r.Context().Value(searchKey{}).(searchRequest)
		w.Header().Set("Content-Type", "application/geo+json")
		if req.Next == 0 {
			_, _ = io.WriteString(w, `{"features":[
				{"properties":{"datetime":"2024-03-01T10:00:00Z"}},
				{"properties":{"datetime":"2024-02-20T10:00:00Z"}}
			],"context":{"next":2}}`)
			return
		}
		_, _ = io.WriteString(w, `{"features":[
			{"properties":{"datetime":"2024-03-01T10:00:00Z"}},
			{"properties":{"datetime":"2024-02-12T10:00:00Z"}}
		],"context":{}}`)
	}
	m := metrics.New()
	ctx, _ := testutil.LogContext(t)
	c := newTestClient(t, h, WithMetrics(m))

	// Act
	stamps, err := c.Catalog().Timestamps(ctx, imagery.CatalogQuery{
		Bounds:        testBounds,
		CRS:           geo.Zone{Number: 33}.CRS(),
		Window:        testWindow,
		MaxCloudCover: 0.8,
	})

	// Assert
	require.NoError(t, err)
	assert.Equal(t, []time.Time{
		time.Date(2024, 2, 12, 10, 0, 0, 0, time.UTC),
		time.Date(2024, 2, 20, 10, 0, 0, 0, time.UTC),
		time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
	}, stamps)

	require.Len(t, h.searches, 2)
	first := h.searches[0]
	assert.Equal(t, []string{DefaultCollection}, first.Collections)
	assert.Equal(t, "2024-02-10T00:00:00Z/2024-03-10T00:00:00Z", first.Datetime)
	assert.Equal(t, "eo:cloud_cover <= 80", first.Filter)
	assert.InDelta(t, 15.0, first.BBox[0], 0.1, "bbox is sent in lon/lat")
	assert.InDelta(t, 46.0, first.BBox[1], 0.1)
	assert.Equal(t, 2, h.searches[1].Next)
	assert.Equal(t, int32(1), h.tokens.Load(), "the token is cached across requests")

	n, err := promtest.GatherAndCount(m.Registry(), "patchgrid_sentinel_api_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCatalog_NoCloudFilterForFullCover(t *testing.T) {
	h := newFakeHub(t)
	h.catalog = func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"features":[],"context":{}}`)
	}
	c := newTestClient(t, h)

	stamps, err := c.Catalog().Timestamps(context.Background(), imagery.CatalogQuery{
		Bounds: testBounds, CRS: geo.Zone{Number: 33}.CRS(), Window: testWindow, MaxCloudCover: 1,
	})

	require.NoError(t, err)
	assert.Empty(t, stamps)
	assert.Empty(t, h.searches[0].Filter)
}

func TestCatalog_ZeroCloudCoverAdmitsOnlyClearScenes(t *testing.T) {
	h := newFakeHub(t)
	h.catalog = func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"features":[],"context":{}}`)
	}
	c := newTestClient(t, h)

	_, err := c.Catalog().Timestamps(context.Background(), imagery.CatalogQuery{
		Bounds: testBounds, CRS: geo.Zone{Number: 33}.CRS(), Window: testWindow, MaxCloudCover: 0,
	})

	require.NoError(t, err)
	require.Len(t, h.searches, 1)
	assert.Equal(t, "eo:cloud_cover <= 0", h.searches[0].Filter)
	assert.Equal(t, "cql2-text", h.searches[0].FilterLang)
}

func TestCatalog_ClientErrorsAreFatal(t *testing.T) {
	h := newFakeHub(t)
	h.catalog = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":{"status":400,"message":"bad bbox"}}`)
	}
	c := newTestClient(t, h)

	_, err := c.Catalog().Timestamps(context.Background(), imagery.CatalogQuery{
		Bounds: testBounds, CRS: geo.Zone{Number: 33}.CRS(), Window: testWindow,
	})

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "bad bbox", apiErr.Message)
	assert.True(t, retry.IsFatal(err))
}

func tarArchive(t *testing.T, files map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for name, data := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: name, Mode: 0644, Size: int64(len(data))}))
		_, err := tw.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	return buf.Bytes()
}

func patchFiles(t *testing.T, bands []string, width, height int) map[string][]byte {
	t.Helper()
	r := imagery.NewRaster(width, height, bands)
	for b := range bands {
		plane := r.Band(b)
		for i := range plane {
			plane[i] = float32(b+1) / 10
		}
	}
	for i := range r.Mask {
		r.Mask[i] = i%2 == 0
	}
	files := make(map[string][]byte)
	for b, name := range bands {
		var buf bytes.Buffer
		require.NoError(t, imagery.EncodeBand(&buf, r, b))
		files[name+".tif"] = buf.Bytes()
	}
	var mask bytes.Buffer
	require.NoError(t, imagery.EncodeMask(&mask, r))
	files["dataMask.tif"] = mask.Bytes()
	return files
}

func TestProcess_Retrieve(t *testing.T) {
	// Arrange
	bands := []string{"B04", "B08"}
	archive := tarArchive(t, patchFiles(t, bands, 4, 3))
	h := newFakeHub(t)
	var got processRequest
	h.process = func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/x-tar", r.Header.Get("Accept"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/x-tar")
		_, _ = w.Write(archive)
	}
	ctx, _ := testutil.LogContext(t)
	c := newTestClient(t, h)
	crs := geo.Zone{Number: 33}.CRS()

	// Act
	raster, err := c.Process().Retrieve(ctx, imagery.Request{
		Bounds:        testBounds,
		CRS:           crs,
		Window:        testWindow,
		Bands:         bands,
		MaxCloudCover: 0.5,
		Mosaicking:    imagery.LeastCC,
		Resolution:    10,
	})

	// Assert
	require.NoError(t, err)
	require.NoError(t, raster.Validate())
	assert.Equal(t, 4, raster.Width)
	assert.Equal(t, 3, raster.Height)
	assert.Equal(t, bands, raster.Bands)
	assert.InDelta(t, 0.1, raster.At(0, 1, 1), 1e-4)
	assert.InDelta(t, 0.2, raster.At(1, 3, 2), 1e-4)
	assert.InDelta(t, 0.5, raster.ValidFraction(), 1e-9)
	assert.Equal(t, testBounds, raster.Bounds)
	assert.Equal(t, crs, raster.CRS)

	assert.Equal(t, "http://www.opengis.net/def/crs/EPSG/0/32633", got.Input.Bounds.Properties.CRS)
	assert.Equal(t, [4]float64{500000, 5100000, 505120, 5105120}, got.Input.Bounds.BBox)
	require.Len(t, got.Input.Data, 1)
	assert.Equal(t, DefaultCollection, got.Input.Data[0].Type)
	assert.Equal(t, "leastCC", got.Input.Data[0].DataFilter.MosaickingOrder)
	assert.Equal(t, 50.0, got.Input.Data[0].DataFilter.MaxCloudCoverage)
	assert.Equal(t, 10.0, got.Output.ResX)
	require.Len(t, got.Output.Responses, 3)
	assert.Equal(t, "dataMask", got.Output.Responses[2].Identifier)
	assert.Contains(t, got.Evalscript, `B08: [sample.B08 * 10000]`)
}

func TestProcess_MissingBandInArchive(t *testing.T) {
	files := patchFiles(t, []string{"B04"}, 2, 2)
	h := newFakeHub(t)
	h.process = func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(tarArchive(t, files))
	}
	c := newTestClient(t, h)

	_, err := c.Process().Retrieve(context.Background(), imagery.Request{
		Bounds: testBounds, CRS: geo.Zone{Number: 33}.CRS(), Window: testWindow,
		Bands: []string{"B04", "B08"}, Resolution: 10,
	})

	assert.ErrorIs(t, err, imagery.ErrInvalidRaster)
	assert.ErrorContains(t, err, "no band B08")
}

func TestProcess_RateLimitIsRetryable(t *testing.T) {
	h := newFakeHub(t)
	h.process = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}
	c := newTestClient(t, h)

	_, err := c.Process().Retrieve(context.Background(), imagery.Request{
		Bounds: testBounds, CRS: geo.Zone{Number: 33}.CRS(), Window: testWindow,
		Bands: []string{"B04"}, Resolution: 10,
	})

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.True(t, apiErr.Temporary())
	assert.False(t, retry.IsFatal(err))
}

func TestProcess_InvalidRequestIsFatal(t *testing.T) {
	h := newFakeHub(t)
	c := newTestClient(t, h)

	_, err := c.Process().Retrieve(context.Background(), imagery.Request{Bands: []string{"B04"}})

	assert.True(t, retry.IsFatal(err))
	assert.ErrorContains(t, err, "positive resolution")
}

func TestClient_LimitsRequestsInFlight(t *testing.T) {
	// Arrange
	h := newFakeHub(t)
	var inFlight, peak atomic.Int32
	h.catalog = func(w http.ResponseWriter, r *http.Request) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		_, _ = io.WriteString(w, `{"features":[],"context":{}}`)
	}
	cfg := h.config()
	cfg.MaxInFlight = 2
	c, err := NewClient(context.Background(), cfg)
	require.NoError(t, err)

	// Act
	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Catalog().Timestamps(context.Background(), imagery.CatalogQuery{
				Bounds: testBounds, CRS: geo.Zone{Number: 33}.CRS(), Window: testWindow,
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// Assert
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestEvalscript(t *testing.T) {
	script, err := Evalscript([]string{"B02", "B03"})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(script, "//VERSION=3"))
	assert.Contains(t, script, `bands: ["B02", "B03", "dataMask"]`)
	assert.Contains(t, script, `{ id: "B03", bands: 1, sampleType: "UINT16" },`)
	assert.Contains(t, script, `dataMask: [sample.dataMask]`)
}
