package sentinel

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/paulmach/orb"
	"github.com/vk/patchgridgo/internal/geo"
	"github.com/vk/patchgridgo/internal/imagery"
)

const (
	searchPageSize = 100
	maxSearchPages = 50
)

// CatalogClient lists acquisitions through the STAC catalog search.
type CatalogClient struct {
	client *Client
}

var _ imagery.Catalog = (*CatalogClient)(nil)

type searchRequest struct {
	BBox        [4]float64   `json:"bbox"`
	Datetime    string       `json:"datetime"`
	Collections []string     `json:"collections"`
	Limit       int          `json:"limit"`
	Filter      string       `json:"filter,omitempty"`
	FilterLang  string       `json:"filter-lang,omitempty"`
	Fields      searchFields `json:"fields"`
	Next        int          `json:"next,omitempty"`
}

type searchFields struct {
	Include []string `json:"include"`
	Exclude []string `json:"exclude"`
}

type searchResponse struct {
	Features []struct {
		Properties struct {
			Datetime time.Time `json:"datetime"`
		} `json:"properties"`
	} `json:"features"`
	Context struct {
		Next *int `json:"next"`
	} `json:"context"`
}

// Timestamps returns the unique acquisition times over the query box in
// ascending order.
func (c *CatalogClient) Timestamps(ctx context.Context, q imagery.CatalogQuery) ([]time.Time, error) {
	bbox, err := lonLatBBox(q.Bounds, q.CRS)
	if err != nil {
		return nil, err
	}

	req := searchRequest{
		BBox:        bbox,
		Datetime:    q.Window.String(),
		Collections: []string{c.client.cfg.Collection},
		Limit:       searchPageSize,
		Fields: searchFields{
			Include: []string{"properties.datetime"},
			Exclude: []string{"assets", "links", "geometry"},
		},
	}
	// A limit of 1 admits every scene; 0 still admits cloud-free ones.
	if q.MaxCloudCover < 1 {
		req.Filter = fmt.Sprintf("eo:cloud_cover <= %g", q.MaxCloudCover*100)
		req.FilterLang = "cql2-text"
	}

	var stamps []time.Time
	for page := 0; ; page++ {
		if page == maxSearchPages {
			return nil, fmt.Errorf("catalog search exceeded %d pages", maxSearchPages)
		}
		data, err := c.client.post(ctx, "catalog", catalogPath, "application/geo+json", req)
		if err != nil {
			return nil, err
		}
		var resp searchResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			return nil, fmt.Errorf("failed to parse catalog response: %w", err)
		}
		for _, f := range resp.Features {
			stamps = append(stamps, f.Properties.Datetime.UTC())
		}
		if resp.Context.Next == nil {
			break
		}
		req.Next = *resp.Context.Next
	}
	return uniqueSorted(stamps), nil
}

// lonLatBBox converts bounds in crs to a WGS84 [west, south, east, north]
// box, which is what the catalog expects.
func lonLatBBox(b orb.Bound, crs geo.CRS) ([4]float64, error) {
	mp, err := geo.Reproject(orb.MultiPolygon{b.ToPolygon()}, crs, geo.WGS84)
	if err != nil {
		return [4]float64{}, err
	}
	ll := mp.Bound()
	return [4]float64{ll.Min.X(), ll.Min.Y(), ll.Max.X(), ll.Max.Y()}, nil
}

func uniqueSorted(stamps []time.Time) []time.Time {
	sort.Slice(stamps, func(i, j int) bool { return stamps[i].Before(stamps[j]) })
	out := stamps[:0]
	for i, t := range stamps {
		if i > 0 && t.Equal(out[len(out)-1]) {
			continue
		}
		out = append(out, t)
	}
	return out
}
