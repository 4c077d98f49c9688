// Package job turns tiles into acquisition jobs.
package job

import (
	"errors"
	"fmt"
	"strings"

	"github.com/vk/patchgridgo/internal/tiler"
	"github.com/vk/patchgridgo/internal/timewindow"
)

// ErrNameCollision is returned when a naming function gives two jobs the same
// output name.
var ErrNameCollision = errors.New("output name collision")

// AcquisitionJob is the unit of work of the orchestrator: retrieve the patch
// for Tile over Window and persist it under Name.
type AcquisitionJob struct {
	Tile   tiler.Tile
	Window timewindow.Window
	Name   string
}

// NameFunc derives the output name of the job at position index.
type NameFunc func(index int, t tiler.Tile) string

// DefaultName names patches patch_{index}.
func DefaultName(index int, _ tiler.Tile) string {
	return fmt.Sprintf("patch_%d", index)
}

// ZoneGridName names patches after their grid position, e.g. 33N_r002_c010.
func ZoneGridName(_ int, t tiler.Tile) string {
	return fmt.Sprintf("%s_r%03d_c%03d", t.Zone, t.Row, t.Col)
}

// Build creates the job for one tile. A nil name function means DefaultName.
func Build(t tiler.Tile, w timewindow.Window, name NameFunc) AcquisitionJob {
	if name == nil {
		name = DefaultName
	}
	return AcquisitionJob{Tile: t, Window: w, Name: name(t.Index, t)}
}

// BuildAll creates one job per tile, in tile order. Two names collide when
// they map to the same FileName.
func BuildAll(tiles []tiler.Tile, w timewindow.Window, name NameFunc) ([]AcquisitionJob, error) {
	jobs := make([]AcquisitionJob, 0, len(tiles))
	seen := make(map[string]int, len(tiles))
	for _, t := range tiles {
		j := Build(t, w, name)
		key := FileName(j.Name)
		if prev, ok := seen[key]; ok {
			return nil, fmt.Errorf("%w: tiles %d (%q) and %d (%q) both map to %q",
				ErrNameCollision, jobs[prev].Tile.Index, jobs[prev].Name, t.Index, j.Name, key)
		}
		seen[key] = len(jobs)
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// FileName maps a job name to a file-safe name: characters outside
// [A-Za-z0-9._-] become underscores and a blank name becomes "unnamed".
func FileName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "unnamed"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-', r == '_', r == '.':
			return r
		}
		return '_'
	}, name)
}
