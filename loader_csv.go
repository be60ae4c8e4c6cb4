package enviz

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// CSVSource reads an ensemble from a directory tree:
//
//	dir/
//	  welltype.csv            two rows: entity names, then type codes
//	  <property>/<realization>.csv
//	  observed/<group>/<property>.csv
//
// Property files carry a header of "time" followed by entity names, one
// row per sample; empty cells are absent values. Observed files carry a
// "time,value" header. Realization ids are the property file names without
// extension.
type CSVSource struct {
	// Dir is the data root.
	Dir string
	// Properties limits which property directories are read. Empty means
	// every subdirectory except "observed".
	Properties []string
}

// Read implements Source.
func (s *CSVSource) Read(ctx context.Context) ([]RawSeries, []RawObserved, error) {
	types, err := readWellTypes(filepath.Join(s.Dir, "welltype.csv"))
	if err != nil {
		return nil, nil, err
	}

	props := s.Properties
	if len(props) == 0 {
		props, err = listDirs(s.Dir, "observed")
		if err != nil {
			return nil, nil, err
		}
	}

	var series []RawSeries
	for _, prop := range props {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		propDir := filepath.Join(s.Dir, prop)
		files, err := os.ReadDir(propDir)
		if err != nil {
			return nil, nil, fmt.Errorf("reading property directory %q: %w", prop, err)
		}
		for _, f := range files {
			if f.IsDir() || !strings.HasSuffix(f.Name(), ".csv") {
				continue
			}
			realization := strings.TrimSuffix(f.Name(), ".csv")
			rs, err := readRealizationCSV(filepath.Join(propDir, f.Name()), realization, prop, types)
			if err != nil {
				return nil, nil, err
			}
			series = append(series, rs...)
		}
	}

	observed, err := s.readObserved(ctx)
	if err != nil {
		return nil, nil, err
	}
	return series, observed, nil
}

func (s *CSVSource) readObserved(ctx context.Context) ([]RawObserved, error) {
	obsDir := filepath.Join(s.Dir, "observed")
	groups, err := os.ReadDir(obsDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var out []RawObserved
	for _, g := range groups {
		if !g.IsDir() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		files, err := os.ReadDir(filepath.Join(obsDir, g.Name()))
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			if f.IsDir() || !strings.HasSuffix(f.Name(), ".csv") {
				continue
			}
			prop := strings.TrimSuffix(f.Name(), ".csv")
			samples, err := readObservedCSV(filepath.Join(obsDir, g.Name(), f.Name()))
			if err != nil {
				return nil, err
			}
			out = append(out, RawObserved{Group: g.Name(), Property: prop, Samples: samples})
		}
	}
	return out, nil
}

// readWellTypes parses the two-row entity type file.
func readWellTypes(path string) (map[string]EntityType, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening well type file: %w", err)
	}
	defer f.Close()
	return parseWellTypes(f)
}

func parseWellTypes(src io.Reader) (map[string]EntityType, error) {
	r := csv.NewReader(src)
	names, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("reading well type names: %w", err)
	}
	codes, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("reading well type codes: %w", err)
	}
	if len(names) != len(codes) {
		return nil, fmt.Errorf("well type file has %d names but %d codes", len(names), len(codes))
	}

	types := make(map[string]EntityType, len(names))
	for i, name := range names {
		t, err := ParseEntityType(strings.TrimSpace(codes[i]))
		if err != nil {
			return nil, fmt.Errorf("well %q: %w", name, err)
		}
		types[strings.TrimSpace(name)] = t
	}
	return types, nil
}

// readRealizationCSV parses one property matrix file into per-entity raw
// series.
func readRealizationCSV(path, realization, property string, types map[string]EntityType) ([]RawSeries, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parseRealizationCSV(f, path, realization, property, types)
}

func parseRealizationCSV(src io.Reader, path, realization, property string, types map[string]EntityType) ([]RawSeries, error) {
	r := csv.NewReader(src)
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("%s: reading header: %w", path, err)
	}
	if len(header) < 2 || strings.TrimSpace(strings.ToLower(header[0])) != "time" {
		return nil, fmt.Errorf("%s: header must start with \"time\"", path)
	}

	wells := make([]string, len(header)-1)
	for i, name := range header[1:] {
		wells[i] = strings.TrimSpace(name)
	}
	series := make([]RawSeries, len(wells))
	for i, well := range wells {
		typ, ok := types[well]
		if !ok {
			return nil, fmt.Errorf("%s: well %q has no declared type", path, well)
		}
		series[i] = RawSeries{
			Realization: realization,
			Entity:      well,
			Type:        typ,
			Property:    property,
		}
	}

	for line := 2; ; line++ {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: line %d: %w", path, line, err)
		}
		if len(record) != len(header) {
			return nil, fmt.Errorf("%s: line %d: expected %d fields, got %d", path, line, len(header), len(record))
		}
		t, err := strconv.ParseFloat(strings.TrimSpace(record[0]), 64)
		if err != nil {
			return nil, fmt.Errorf("%s: line %d: parsing time: %w", path, line, err)
		}
		for i, cell := range record[1:] {
			cell = strings.TrimSpace(cell)
			if cell == "" {
				continue // absent value, no sample
			}
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				return nil, fmt.Errorf("%s: line %d: parsing %q value: %w", path, line, wells[i], err)
			}
			series[i].Samples = append(series[i].Samples, Sample{Time: t, Value: v})
		}
	}
	return series, nil
}

// readObservedCSV parses a "time,value" file.
func readObservedCSV(path string) ([]Sample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parseObservedCSV(f, path)
}

func parseObservedCSV(src io.Reader, path string) ([]Sample, error) {
	r := csv.NewReader(src)
	if _, err := r.Read(); err != nil { // header
		return nil, fmt.Errorf("%s: reading header: %w", path, err)
	}
	var samples []Sample
	for line := 2; ; line++ {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: line %d: %w", path, line, err)
		}
		if len(record) < 2 {
			return nil, fmt.Errorf("%s: line %d: expected time,value", path, line)
		}
		t, err := strconv.ParseFloat(strings.TrimSpace(record[0]), 64)
		if err != nil {
			return nil, fmt.Errorf("%s: line %d: parsing time: %w", path, line, err)
		}
		cell := strings.TrimSpace(record[1])
		if cell == "" {
			continue
		}
		v, err := strconv.ParseFloat(cell, 64)
		if err != nil {
			return nil, fmt.Errorf("%s: line %d: parsing value: %w", path, line, err)
		}
		samples = append(samples, Sample{Time: t, Value: v})
	}
	return samples, nil
}

func listDirs(root string, exclude ...string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}
	skip := make(map[string]struct{}, len(exclude))
	for _, e := range exclude {
		skip[e] = struct{}{}
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, ok := skip[e.Name()]; ok {
			continue
		}
		out = append(out, e.Name())
	}
	return out, nil
}
