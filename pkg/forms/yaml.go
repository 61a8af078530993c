package forms

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Registry is an in-memory Source populated from YAML documents.
type Registry struct {
	mu    sync.RWMutex
	forms map[string]*Form
}

func NewRegistry(forms ...*Form) (*Registry, error) {
	r := &Registry{forms: make(map[string]*Form)}
	for _, f := range forms {
		if err := r.Add(f); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) Add(f *Form) error {
	if err := f.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.forms[f.ID]; exists {
		return fmt.Errorf("duplicate form id %q", f.ID)
	}
	r.forms[f.ID] = f
	return nil
}

func (r *Registry) Form(_ context.Context, id string) (*Form, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.forms[id]
	if !ok {
		return nil, ErrNotFound
	}
	return f, nil
}

func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.forms))
	for id := range r.forms {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Decode reads one or more YAML documents, each holding a single form.
// Environment references in callback secrets are expanded.
func Decode(r io.Reader) ([]*Form, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var out []*Form
	for {
		var f Form
		err := dec.Decode(&f)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode form: %w", err)
		}
		f.Callback.Secret = os.ExpandEnv(f.Callback.Secret)
		out = append(out, &f)
	}
	return out, nil
}

// LoadPath loads a YAML file, or every *.yaml/*.yml file in a directory.
func LoadPath(path string) (*Registry, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("forms path is required")
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	files := []string{path}
	if info.IsDir() {
		files = files[:0]
		entries, err := os.ReadDir(path)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			ext := strings.ToLower(filepath.Ext(e.Name()))
			if e.IsDir() || (ext != ".yaml" && ext != ".yml") {
				continue
			}
			files = append(files, filepath.Join(path, e.Name()))
		}
		sort.Strings(files)
	}

	reg := &Registry{forms: make(map[string]*Form)}
	for _, file := range files {
		b, err := os.ReadFile(file)
		if err != nil {
			return nil, err
		}
		decoded, err := Decode(bytes.NewReader(b))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", file, err)
		}
		for _, f := range decoded {
			if err := reg.Add(f); err != nil {
				return nil, fmt.Errorf("%s: %w", file, err)
			}
		}
	}
	return reg, nil
}
