package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/AnTengye/cerfaflow/config"
	"github.com/AnTengye/cerfaflow/pkg/fieldmap"
	"github.com/qri-io/jsonschema"
)

// mappingSchema accepts an object whose entries are field names or nested
// objects. Metadata keys may hold anything.
const mappingSchema = `{
	"type": "object",
	"minProperties": 1,
	"patternProperties": {
		"^_": {}
	},
	"additionalProperties": {
		"anyOf": [
			{"type": "string"},
			{"type": "object"}
		]
	}
}`

// Assets holds the PDF template and the field mapping, loaded once at start.
type Assets struct {
	PDF         []byte
	Mapping     map[string]any
	FlatMapping map[string]any

	Source          string
	PDFLocation     string
	MappingLocation string
}

// Found reports whether both assets were located and read.
func (a *Assets) Found() bool {
	return a != nil && len(a.PDF) > 0 && a.Mapping != nil
}

// SearchDirs returns the directories searched for template files: the
// configured ones, or the working directory, its parent and the directory of
// the executable.
func SearchDirs(configured []string) []string {
	if len(configured) > 0 {
		return configured
	}

	var dirs []string
	if wd, err := os.Getwd(); err == nil {
		dirs = append(dirs, wd, filepath.Dir(wd))
	}
	if exe, err := os.Executable(); err == nil {
		dirs = append(dirs, filepath.Dir(exe))
	}
	return dirs
}

// FindFile returns the first existing candidate for name. When none exists it
// returns the first candidate and false.
func FindFile(name string, dirs []string) (string, bool) {
	if filepath.IsAbs(name) {
		_, err := os.Stat(name)
		return name, err == nil
	}

	candidates := make([]string, 0, len(dirs))
	for _, dir := range dirs {
		candidates = append(candidates, filepath.Join(dir, name))
	}
	for _, p := range candidates {
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p, true
		}
	}
	if len(candidates) == 0 {
		return name, false
	}
	return candidates[0], false
}

// LoadAssets reads the template and the mapping from the filesystem or, for
// the minio source, from the bucket.
func LoadAssets(ctx context.Context, cfg *config.TemplateConfig, objects ObjectStore) (*Assets, error) {
	assets := &Assets{Source: cfg.Source}

	var pdf, mapping []byte
	switch cfg.Source {
	case config.SourceMinio:
		if objects == nil {
			return nil, errors.New("template source minio requires an object store")
		}
		var err error
		if pdf, err = objects.Download(ctx, cfg.PDF); err != nil {
			return nil, fmt.Errorf("failed to load template: %w", err)
		}
		if mapping, err = objects.Download(ctx, cfg.Mapping); err != nil {
			return nil, fmt.Errorf("failed to load mapping: %w", err)
		}
		assets.PDFLocation = "minio:" + cfg.PDF
		assets.MappingLocation = "minio:" + cfg.Mapping

	default:
		dirs := SearchDirs(cfg.SearchDirs)
		var err error
		if assets.PDFLocation, pdf, err = readCandidate(cfg.PDF, dirs); err != nil {
			return nil, fmt.Errorf("failed to load template: %w", err)
		}
		if assets.MappingLocation, mapping, err = readCandidate(cfg.Mapping, dirs); err != nil {
			return nil, fmt.Errorf("failed to load mapping: %w", err)
		}
	}

	if len(pdf) == 0 {
		return nil, fmt.Errorf("template %s is empty", assets.PDFLocation)
	}
	parsed, err := ParseMapping(ctx, mapping)
	if err != nil {
		return nil, fmt.Errorf("invalid mapping %s: %w", assets.MappingLocation, err)
	}

	assets.PDF = pdf
	assets.Mapping = parsed
	assets.FlatMapping = fieldmap.FlattenMapping(parsed)

	slog.Info("template assets loaded",
		"source", assets.Source,
		"pdf", assets.PDFLocation,
		"pdf_bytes", len(pdf),
		"mapping", assets.MappingLocation,
		"mapped_keys", len(assets.FlatMapping),
	)
	return assets, nil
}

func readCandidate(name string, dirs []string) (string, []byte, error) {
	path, ok := FindFile(name, dirs)
	if !ok {
		return path, nil, fmt.Errorf("%s not found", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return path, nil, err
	}
	return path, data, nil
}

// ParseMapping validates and decodes a mapping document. Every non-metadata
// leaf must be a field name.
func ParseMapping(ctx context.Context, raw []byte) (map[string]any, error) {
	rs := &jsonschema.Schema{}
	if err := json.Unmarshal([]byte(mappingSchema), rs); err != nil {
		return nil, fmt.Errorf("mapping schema: %w", err)
	}

	verrs, err := rs.ValidateBytes(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("mapping is not valid json: %w", err)
	}
	if len(verrs) > 0 {
		var sb strings.Builder
		for _, v := range verrs {
			sb.WriteString(v.Message)
			sb.WriteString("; ")
		}
		return nil, fmt.Errorf("mapping does not match schema: %s", sb.String())
	}

	var mapping map[string]any
	if err := json.Unmarshal(raw, &mapping); err != nil {
		return nil, err
	}
	if len(mapping) == 0 {
		return nil, errors.New("mapping is empty")
	}
	if bad := nonStringLeaves(mapping, ""); len(bad) > 0 {
		sort.Strings(bad)
		return nil, fmt.Errorf("mapping leaves must be field names: %s", strings.Join(bad, ", "))
	}
	return mapping, nil
}

func nonStringLeaves(obj map[string]any, prefix string) []string {
	var bad []string
	for k, v := range obj {
		if strings.HasPrefix(k, fieldmap.MetadataPrefix) {
			continue
		}
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		switch child := v.(type) {
		case string:
		case map[string]any:
			bad = append(bad, nonStringLeaves(child, path)...)
		default:
			bad = append(bad, path)
		}
	}
	return bad
}
