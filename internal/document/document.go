// Package document reads export manifests: YAML files listing the artifacts
// of a design document plus per-document settings.
//
//	version: 0
//	output_path: assets/icons
//	artifacts:
//	  - name: home
//	    source: layers/home.png
//	  - name: home@2x
//	    source: layers/home-2x.png
//	    format: png
//
// Sources are resolved relative to the manifest directory and can't escape it.
package document

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const outputPathKey = "output_path"

var (
	ErrNotMapping   = errors.New("manifest is not a YAML mapping")
	ErrInvalidName  = errors.New("invalid artifact name")
	ErrDuplicate    = errors.New("duplicate artifact")
	ErrNoFormat     = errors.New("artifact format is unknown")
	ErrBadFormat    = errors.New("invalid artifact format")
	ErrNotSupported = errors.New("manifest version not supported")
)

type Artifact struct {
	Name   string `yaml:"name"`
	Source string `yaml:"source"`
	Format string `yaml:"format,omitempty"` // defaults to the source extension
}

type Manifest struct {
	Version    int        `yaml:"version"`
	OutputPath string     `yaml:"output_path,omitempty"`
	Artifacts  []Artifact `yaml:"artifacts"`
}

// Request is one artifact to be materialized.
type Request struct {
	Name   string
	Format string
	Source string // slash separated, relative to the document directory
}

// FileName is the name of the materialized file.
func (r Request) FileName() string {
	return r.Name + "." + r.Format
}

type Document struct {
	path     string
	manifest Manifest
	node     yaml.Node
}

// Load reads and validates the manifest at path.
func Load(path string) (*Document, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("reading document: %w", err)
	}
	d, err := Parse(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("parsing document %s: %w", abs, err)
	}
	d.path = abs
	return d, nil
}

// Parse decodes a manifest. The returned document has no path, so Save
// resolves sources against the working directory and SetOutputPath fails.
func Parse(r io.Reader) (*Document, error) {
	var d Document
	if err := yaml.NewDecoder(r).Decode(&d.node); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrNotMapping
		}
		return nil, err
	}
	if d.node.Kind != yaml.DocumentNode || len(d.node.Content) == 0 || d.node.Content[0].Kind != yaml.MappingNode {
		return nil, ErrNotMapping
	}
	if err := d.node.Decode(&d.manifest); err != nil {
		return nil, err
	}
	if d.manifest.Version != 0 {
		return nil, fmt.Errorf("%w: %d", ErrNotSupported, d.manifest.Version)
	}

	seen := make(map[string]struct{}, len(d.manifest.Artifacts))
	for _, req := range d.Exports() {
		if !validName(req.Name) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidName, req.Name)
		}
		if req.Format == "" {
			return nil, fmt.Errorf("%w: %q", ErrNoFormat, req.Name)
		}
		if !validFormat(req.Format) {
			return nil, fmt.Errorf("%w: %q of %q", ErrBadFormat, req.Format, req.Name)
		}
		if _, ok := seen[req.FileName()]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicate, req.FileName())
		}
		seen[req.FileName()] = struct{}{}
	}
	return &d, nil
}

func validName(name string) bool {
	return name != "" && name != "." && name != ".." && !strings.ContainsAny(name, `/\`)
}

// validFormat accepts a bare extension, so name.format stays a single path
// element.
func validFormat(format string) bool {
	return validName(format) && !strings.Contains(format, ".")
}

// Path returns the absolute manifest path.
func (d *Document) Path() string {
	return d.path
}

// Dir returns the directory containing the manifest.
func (d *Document) Dir() string {
	if d.path == "" {
		return "."
	}
	return filepath.Dir(d.path)
}

func (d *Document) OutputPath() string {
	return d.manifest.OutputPath
}

// Exports lists an export request per artifact. Artifacts without a source
// have nothing to export and are skipped.
func (d *Document) Exports() []Request {
	ret := make([]Request, 0, len(d.manifest.Artifacts))
	for _, a := range d.manifest.Artifacts {
		if a.Source == "" {
			continue
		}
		format := a.Format
		if format == "" {
			format = strings.TrimPrefix(path.Ext(filepath.ToSlash(a.Source)), ".")
		}
		ret = append(ret, Request{
			Name:   a.Name,
			Format: strings.ToLower(format),
			Source: filepath.ToSlash(a.Source),
		})
	}
	return ret
}

// Save materializes req into the file dst.
func (d *Document) Save(ctx context.Context, req Request, dst string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	root, err := os.OpenRoot(d.Dir())
	if err != nil {
		return err
	}
	defer func() {
		_ = root.Close()
	}()

	src, err := root.Open(filepath.FromSlash(req.Source))
	if err != nil {
		return fmt.Errorf("opening %s: %w", req.Source, err)
	}
	defer func() {
		_ = src.Close()
	}()

	f, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("creating %s: %w", dst, err)
	}
	_, err = io.Copy(f, src)
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("saving %s: %w", dst, err)
	}
	err = f.Close()
	if err != nil {
		return fmt.Errorf("closing %s: %w", dst, err)
	}
	return nil
}

// SetOutputPath stores the output path in the manifest file. Other keys,
// comments and ordering are kept.
func (d *Document) SetOutputPath(value string) error {
	if d.path == "" {
		return errors.New("document has no path")
	}

	mapping := d.node.Content[0]
	var found bool
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == outputPathKey {
			mapping.Content[i+1].SetString(value)
			found = true
			break
		}
	}
	if !found {
		key := &yaml.Node{}
		key.SetString(outputPathKey)
		val := &yaml.Node{}
		val.SetString(value)
		mapping.Content = append(mapping.Content, key, val)
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&d.node); err != nil {
		return fmt.Errorf("encoding document: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("encoding document: %w", err)
	}

	tmp, err := os.CreateTemp(d.Dir(), ".manifest-*")
	if err != nil {
		return fmt.Errorf("storing document: %w", err)
	}
	defer func() {
		_ = os.Remove(tmp.Name())
	}()
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("storing document: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("storing document: %w", err)
	}
	if info, err := os.Stat(d.path); err == nil {
		_ = os.Chmod(tmp.Name(), info.Mode().Perm())
	}
	if err := os.Rename(tmp.Name(), d.path); err != nil {
		return fmt.Errorf("storing document: %w", err)
	}

	d.manifest.OutputPath = value
	return nil
}
