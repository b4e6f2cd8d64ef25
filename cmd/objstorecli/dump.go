package main

import (
	"encoding/base64"
	"fmt"
	"io"
	"os"

	"github.com/arborstore/pathstore/engine"
	"gopkg.in/yaml.v3"
)

// dumpRecord is one object in a YAML dump. Payloads are arbitrary bytes,
// so they're base64-encoded rather than stored as a raw YAML string.
type dumpRecord struct {
	Path       string `yaml:"path"`
	Version    uint32 `yaml:"version"`
	PayloadB64 string `yaml:"payload_base64"`
}

type dumpDocument struct {
	Objects []dumpRecord `yaml:"objects"`
}

func dumpTo(e *engine.Engine, w io.Writer) error {
	paths, err := e.AllObjectsUnder("/")
	if err != nil {
		return err
	}

	doc := dumpDocument{Objects: make([]dumpRecord, 0, len(paths))}

	for _, p := range paths {
		ver, payload, _, err := e.Read(p, 0)
		if err != nil {
			return fmt.Errorf("reading %s: %w", p, err)
		}

		doc.Objects = append(doc.Objects, dumpRecord{
			Path:       p,
			Version:    ver,
			PayloadB64: base64.StdEncoding.EncodeToString(payload),
		})
	}

	enc := yaml.NewEncoder(w)
	defer enc.Close()

	return enc.Encode(doc)
}

func dumpToFile(e *engine.Engine, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()

	return dumpTo(e, f)
}

// loadFrom imports objects from a YAML dump produced by dumpTo. With
// overwrite set, existing objects are replaced via AddOrUpdate; otherwise
// a path that already exists stops the import at that record with Add's
// error. Records loaded before the failing one stay in the store; the
// returned count says how many there were.
func loadFrom(e *engine.Engine, path string, overwrite bool) (int, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is intentionally user-controlled
	if err != nil {
		return 0, fmt.Errorf("reading %s: %w", path, err)
	}

	var doc dumpDocument

	if err := yaml.Unmarshal(data, &doc); err != nil {
		return 0, fmt.Errorf("parsing %s: %w", path, err)
	}

	n := 0

	for _, rec := range doc.Objects {
		payload, err := base64.StdEncoding.DecodeString(rec.PayloadB64)
		if err != nil {
			return n, fmt.Errorf("decoding payload for %s: %w", rec.Path, err)
		}

		if overwrite {
			if _, _, err := e.AddOrUpdate(rec.Path, payload, 0); err != nil {
				return n, fmt.Errorf("loading %s: %w", rec.Path, err)
			}
		} else if err := e.Add(rec.Path, payload, 0); err != nil {
			return n, fmt.Errorf("loading %s: %w", rec.Path, err)
		}

		n++
	}

	return n, nil
}
