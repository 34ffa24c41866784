// Package source loads per-source configuration directories.
package source

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	appLog "eventripper/internal/log"
	"eventripper/internal/model"
)

// FileName is the config file expected in every source directory.
const FileName = "source.yaml"

// LoadDir reads every <dir>/<name>/source.yaml in name order. Sources that
// cannot be loaded are reported in errs and excluded; disabled sources are
// skipped silently. A missing dir is an error.
func LoadDir(dir string) (sources []*model.SourceConfig, errs []error, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("source: read %s: %w", dir, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	names := make(map[string]string)
	for _, e := range entries {
		if !e.IsDir() || e.Name()[0] == '.' || e.Name()[0] == '_' {
			continue
		}
		src, lerr := Load(filepath.Join(dir, e.Name()))
		if lerr != nil {
			appLog.Warn("source excluded", "dir", e.Name(), "err", lerr)
			errs = append(errs, lerr)
			continue
		}
		if src.Disabled {
			appLog.Debug("source disabled", "source", src.Name)
			continue
		}
		if prev, dup := names[src.Name]; dup {
			errs = append(errs, &model.ConfigError{
				Source: src.Name,
				Reason: fmt.Sprintf("name also used by %s", prev),
			})
			continue
		}
		names[src.Name] = src.Dir
		sources = append(sources, src)
	}
	return sources, errs, nil
}

// Load reads one source directory. The source name defaults to the
// directory name.
func Load(dir string) (*model.SourceConfig, error) {
	path := filepath.Join(dir, FileName)
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &model.FileParseError{Path: path, Err: err}
	}

	var src model.SourceConfig
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&src); err != nil {
		return nil, &model.FileParseError{Path: path, Err: err}
	}
	src.Dir = dir
	if src.Name == "" {
		src.Name = filepath.Base(dir)
	}
	if src.Type == "" && src.Custom == "" {
		return nil, &model.FileParseError{Path: path, Err: errors.New("no adapter declared (type or custom)")}
	}
	if err := src.Validate(); err != nil {
		return nil, err
	}
	return &src, nil
}
