// Package zarr reads and writes OME-Zarr stores: zarr v2 arrays in a
// directory tree with OME-NGFF JSON sidecar metadata, including the
// HCS plate/well hierarchy.
package zarr

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blang/semver"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/davidsonlab/ndstore/internal/types"
)

// NGFFVersion is the OME-NGFF schema version written by this package.
const NGFFVersion = "0.4"

// supportedNGFF is the version range accepted on read. 0.1 through 0.4
// share the array layout this package understands; 0.5 moved to zarr
// v3 and is rejected.
var supportedNGFF = semver.MustParseRange(">=0.1.0 <0.5.0")

// CheckVersion gates an NGFF version string against the supported
// range.
func CheckVersion(path, version string) error {
	v, err := semver.ParseTolerant(version)
	if err != nil || !supportedNGFF(v) {
		return &types.SchemaVersionError{Path: path, Version: version, Supported: []string{"0.1 – 0.4"}}
	}
	return nil
}

// ArrayMeta is the zarr v2 .zarray document.
type ArrayMeta struct {
	Shape              []int       `json:"shape"`
	Chunks             []int       `json:"chunks"`
	Dtype              string      `json:"dtype"`
	Compressor         *Compressor `json:"compressor"`
	FillValue          any         `json:"fill_value"`
	Order              string      `json:"order"`
	Filters            any         `json:"filters"`
	ZarrFormat         int         `json:"zarr_format"`
	DimensionSeparator string      `json:"dimension_separator,omitempty"`
}

// Compressor is the numcodecs codec configuration.
type Compressor struct {
	ID    string `json:"id"`
	Level int    `json:"level,omitempty"`
}

// Separator returns the effective dimension separator ("." default).
func (m ArrayMeta) Separator() string {
	if m.DimensionSeparator == "" {
		return "."
	}
	return m.DimensionSeparator
}

// GroupAttrs is the NGFF .zattrs document for group nodes.
type GroupAttrs struct {
	Multiscales []Multiscale `json:"multiscales,omitempty"`
	Omero       *Omero       `json:"omero,omitempty"`
	Plate       *PlateMeta   `json:"plate,omitempty"`
	Well        *WellMeta    `json:"well,omitempty"`
}

// Multiscale describes one image pyramid.
type Multiscale struct {
	Version  string        `json:"version"`
	Name     string        `json:"name,omitempty"`
	Axes     []AxisMeta    `json:"axes"`
	Datasets []DatasetMeta `json:"datasets"`
}

// AxisMeta is one NGFF axis entry.
type AxisMeta struct {
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
	Unit string `json:"unit,omitempty"`
}

// DatasetMeta points at one resolution level.
type DatasetMeta struct {
	Path                      string      `json:"path"`
	CoordinateTransformations []Transform `json:"coordinateTransformations,omitempty"`
}

// Transform is an NGFF coordinate transformation (scale only).
type Transform struct {
	Type  string    `json:"type"`
	Scale []float64 `json:"scale,omitempty"`
}

// Omero carries channel rendering metadata.
type Omero struct {
	Channels []OmeroChannel `json:"channels"`
}

// OmeroChannel is one rendering channel.
type OmeroChannel struct {
	Label  string `json:"label,omitempty"`
	Color  string `json:"color,omitempty"`
	Active bool   `json:"active"`
}

// PlateMeta is the NGFF plate document.
type PlateMeta struct {
	Name    string      `json:"name,omitempty"`
	Rows    []NameEntry `json:"rows"`
	Columns []NameEntry `json:"columns"`
	Wells   []PlateWell `json:"wells"`
	Version string      `json:"version"`
}

// NameEntry names a plate row or column.
type NameEntry struct {
	Name string `json:"name"`
}

// PlateWell references one well group.
type PlateWell struct {
	Path        string `json:"path"`
	RowIndex    int    `json:"rowIndex"`
	ColumnIndex int    `json:"columnIndex"`
}

// WellMeta is the NGFF well document.
type WellMeta struct {
	Images  []WellImage `json:"images"`
	Version string      `json:"version"`
}

// WellImage references one position group inside a well.
type WellImage struct {
	Path string `json:"path"`
}

func readJSON(path string, v any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

func writeJSON(path string, v any) error {
	raw, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o644)
}

// ngffSchema is the structural subset of the NGFF 0.4 image schema
// enforced when schema checking is requested: multiscales with named
// axes and at least one dataset path.
const ngffSchema = `{
    "$schema": "https://json-schema.org/draft/2020-12/schema",
    "type": "object",
    "properties": {
        "multiscales": {
            "type": "array",
            "minItems": 1,
            "items": {
                "type": "object",
                "required": ["axes", "datasets"],
                "properties": {
                    "version": {"type": "string"},
                    "axes": {
                        "type": "array",
                        "minItems": 2,
                        "items": {
                            "type": "object",
                            "required": ["name"],
                            "properties": {
                                "name": {"type": "string"},
                                "type": {"type": "string"},
                                "unit": {"type": "string"}
                            }
                        }
                    },
                    "datasets": {
                        "type": "array",
                        "minItems": 1,
                        "items": {
                            "type": "object",
                            "required": ["path"],
                            "properties": {"path": {"type": "string"}}
                        }
                    }
                }
            }
        }
    }
}`

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

// ValidateAttrs checks a raw .zattrs document against the embedded
// NGFF schema.
func ValidateAttrs(path string) error {
	schemaOnce.Do(func() {
		compiledSchema, schemaErr = jsonschema.CompileString("ngff-image.json", ngffSchema)
	})
	if schemaErr != nil {
		return schemaErr
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return &types.MalformedMetadataError{Path: path, Reason: err.Error()}
	}
	if err := compiledSchema.Validate(doc); err != nil {
		return &types.MalformedMetadataError{Path: path, Reason: err.Error()}
	}
	return nil
}

// axisFromMeta converts an NGFF axis entry to the canonical axis name.
// NGFF names are lowercase single letters for the fixed axes.
func axisFromMeta(m AxisMeta) types.AxisName {
	return types.AxisName(strings.ToUpper(m.Name))
}

func metaFromAxis(a types.Axis) AxisMeta {
	return AxisMeta{
		Name: strings.ToLower(string(a.Name)),
		Type: a.Name.NGFFType(),
		Unit: a.Unit,
	}
}

func zattrsPath(dir string) string { return filepath.Join(dir, types.SentinelZattrs) }
func zarrayPath(dir string) string { return filepath.Join(dir, types.SentinelZarray) }
func zgroupPath(dir string) string { return filepath.Join(dir, types.SentinelZgroup) }
