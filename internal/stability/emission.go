package stability

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// #region emission
// Column names read from emission files. Other columns are ignored.
const (
	ColID    = "id"
	ColSpeed = "speed"
	ColTime  = "time"
)

// ReadEmission builds a Series from an emission CSV (one row per vehicle per step).
// Rows are taken in file order, which is step order for the simulator's writer.
func ReadEmission(r io.Reader) (Series, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = true
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("emission header: %w", err)
	}
	idCol, speedCol := -1, -1
	for i, h := range header {
		switch strings.TrimSpace(h) {
		case ColID:
			idCol = i
		case ColSpeed:
			speedCol = i
		}
	}
	if idCol < 0 || speedCol < 0 {
		return nil, fmt.Errorf("emission header: need %q and %q columns, have %v", ColID, ColSpeed, header)
	}

	series := Series{}
	line := 1
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("emission line %d: %w", line, err)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(rec[speedCol]), 64)
		if err != nil {
			return nil, fmt.Errorf("emission line %d: speed: %w", line, err)
		}
		id := rec[idCol]
		series[id] = append(series[id], v)
	}
	return series, nil
}

// LoadEmission reads one emission file.
func LoadEmission(path string) (Series, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open emission: %w", err)
	}
	defer f.Close()
	s, err := ReadEmission(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// LoadRollouts reads every emission file matching pattern, keyed by base name.
// The returned order is sorted so batch statistics are reproducible.
func LoadRollouts(pattern string) (map[string]Series, []string, error) {
	paths, err := filepath.Glob(pattern)
	if err != nil {
		return nil, nil, fmt.Errorf("glob %q: %w", pattern, err)
	}
	if len(paths) == 0 {
		return nil, nil, fmt.Errorf("no emission files match %q", pattern)
	}
	sort.Strings(paths)
	out := make(map[string]Series, len(paths))
	order := make([]string, 0, len(paths))
	for _, p := range paths {
		s, err := LoadEmission(p)
		if err != nil {
			return nil, nil, err
		}
		name := filepath.Base(p)
		out[name] = s
		order = append(order, name)
	}
	return out, order, nil
}

// WriteEmission writes s in the layout ReadEmission reads: one row per vehicle per
// step, steps in order, vehicles in id order within a step. start and dt give the time
// column.
func WriteEmission(w io.Writer, s Series, start int, dt float64) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{ColTime, ColID, ColSpeed}); err != nil {
		return fmt.Errorf("emission header: %w", err)
	}
	ids := s.IDs()
	steps := 0
	for _, id := range ids {
		steps = max(steps, len(s[id]))
	}
	for i := 0; i < steps; i++ {
		t := strconv.FormatFloat(float64(start+i)*dt, 'f', -1, 64)
		for _, id := range ids {
			if i >= len(s[id]) {
				continue
			}
			if err := cw.Write([]string{t, id, strconv.FormatFloat(s[id][i], 'f', -1, 64)}); err != nil {
				return fmt.Errorf("emission row: %w", err)
			}
		}
	}
	cw.Flush()
	return cw.Error()
}

// SaveEmission writes s to path, creating parent directories.
func SaveEmission(path string, s Series, start int, dt float64) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create emission dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create emission: %w", err)
	}
	if err := WriteEmission(f, s, start, dt); err != nil {
		f.Close()
		return fmt.Errorf("%s: %w", path, err)
	}
	return f.Close()
}

// WriteBand writes the per-sample speed band as sample,mean,std rows.
func WriteBand(w io.Writer, mean, std []float64) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"sample", "mean", "std"}); err != nil {
		return fmt.Errorf("band header: %w", err)
	}
	for i := range mean {
		row := []string{
			strconv.Itoa(i),
			strconv.FormatFloat(mean[i], 'f', -1, 64),
			strconv.FormatFloat(std[i], 'f', -1, 64),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("band row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// #endregion emission
