package migration

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"text/template"
	"time"
	"unicode"
)

const upTemplate = `-- Migration: {{.Name}}
-- Description: {{.Description}}

`

const downTemplate = `-- Migration: {{.Name}} (Rollback)

`

// File is a pair of up/down migration files
type File struct {
	Version     string
	Name        string
	Description string
	UpPath      string
	DownPath    string
}

// Create writes an empty up/down pair named <timestamp>_<name> into dir
func Create(dir, name, description string, now time.Time) (*File, error) {
	slug := Slug(name)
	if slug == "" {
		return nil, fmt.Errorf("migration name %q has no usable characters", name)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create migrations directory: %w", err)
	}

	f := &File{
		Version:     now.UTC().Format("20060102150405"),
		Name:        slug,
		Description: description,
	}
	base := f.Version + "_" + slug
	f.UpPath = filepath.Join(dir, base+".up.sql")
	f.DownPath = filepath.Join(dir, base+".down.sql")

	if err := writeTemplate(f.UpPath, upTemplate, f); err != nil {
		return nil, err
	}
	if err := writeTemplate(f.DownPath, downTemplate, f); err != nil {
		_ = os.Remove(f.UpPath)
		return nil, err
	}
	return f, nil
}

func writeTemplate(path, text string, data *File) error {
	var buf bytes.Buffer
	if err := template.Must(template.New("migration").Parse(text)).Execute(&buf, data); err != nil {
		return fmt.Errorf("failed to render %s: %w", path, err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// Slug lower-cases name and joins its words with underscores
func Slug(name string) string {
	words := strings.FieldsFunc(name, func(r rune) bool {
		return r == ' ' || r == '-' || r == '_'
	})
	out := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.Map(func(r rune) rune {
			if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
				return unicode.ToLower(r)
			}
			return -1
		}, w)
		if w != "" {
			out = append(out, w)
		}
	}
	return strings.Join(out, "_")
}

// List returns the base names of every up migration in fsys, in apply order
func List(fsys fs.FS) ([]string, error) {
	ups, err := fs.Glob(fsys, "*.up.sql")
	if err != nil {
		return nil, fmt.Errorf("failed to list migrations: %w", err)
	}
	names := make([]string, len(ups))
	for i, up := range ups {
		names[i] = strings.TrimSuffix(up, ".up.sql")
	}
	slices.Sort(names)
	return names, nil
}
