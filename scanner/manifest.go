package scanner

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/hupe1980/fieldq/blobstore"
	"github.com/hupe1980/fieldq/cachedir"
)

// markerName is the completion marker written after a successful spill.
const markerName = "DONE"

const manifestVersion = 1

// manifest is the content of the completion marker.
type manifest struct {
	Version int      `json:"version"`
	Field   string   `json:"field"`
	Term    string   `json:"term"`
	Scan    string   `json:"scan"`
	Order   string   `json:"order"`
	Codec   string   `json:"codec"`
	Rows    int64    `json:"rows"`
	Runs    []string `json:"runs"`
}

// matches reports whether m describes a completed population of term under
// the scan identity scan. A nil manifest matches nothing.
func (m *manifest) matches(term, scan string) bool {
	return m != nil && m.Version == manifestVersion && m.Term == term && m.Scan == scan
}

func orderName(sorted bool) string {
	if sorted {
		return "uid"
	}
	return "value"
}

// readManifest returns the marker of loc, or nil if there is none.
func readManifest(ctx context.Context, loc *cachedir.Location) (*manifest, error) {
	data, err := blobstore.ReadAll(ctx, loc.Store(), loc.Path(markerName))
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode %s: %w", loc.Path(markerName), err)
	}
	return &m, nil
}

func writeManifest(ctx context.Context, loc *cachedir.Location, m *manifest) error {
	m.Version = manifestVersion
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return loc.Store().Put(ctx, loc.Path(markerName), data)
}

// clearDir removes everything a previous, incomplete population left behind.
// Callers hold an exclusive lock on the directory.
func clearDir(ctx context.Context, loc *cachedir.Location) error {
	names, err := loc.List(ctx)
	if err != nil {
		return err
	}
	for _, n := range names {
		if err := loc.Store().Delete(ctx, loc.Path(n)); err != nil {
			return err
		}
	}
	return nil
}
