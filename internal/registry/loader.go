package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"inferbridge/internal/common/fsutil"
	"inferbridge/pkg/types"
)

// quantPattern matches llama.cpp quantization tags in file names, e.g.
// Q4_K_M, Q8_0, IQ3_XS, F16.
var quantPattern = regexp.MustCompile(`(?i)(?:^|[.\-_])((?:I?Q\d+(?:_[A-Z0-9]+)*)|F16|F32|BF16)(?:[.\-_]|$)`)

// GGUFScanner discovers GGUF model files in a directory.
type GGUFScanner struct{}

func NewGGUFScanner() GGUFScanner { return GGUFScanner{} }

// Scan lists *.gguf files in dir (not recursive), sorted by ID. ID and Name
// are the file name; Path is absolute.
func (GGUFScanner) Scan(dir string) ([]types.Model, error) {
	base, err := fsutil.ExpandHome(dir)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("abs path: %w", err)
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var models []types.Model
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(strings.ToLower(name), ".gguf") {
			continue
		}
		models = append(models, types.Model{
			ID:    name,
			Name:  name,
			Path:  filepath.Join(abs, name),
			Quant: quantOf(name),
		})
	}
	sort.Slice(models, func(i, j int) bool { return models[i].ID < models[j].ID })
	return models, nil
}

// LoadDir scans dir with the default scanner.
func LoadDir(dir string) ([]types.Model, error) {
	return NewGGUFScanner().Scan(dir)
}

// Find returns the model with the given id.
func Find(models []types.Model, id string) (types.Model, bool) {
	for _, m := range models {
		if m.ID == id {
			return m, true
		}
	}
	return types.Model{}, false
}

func quantOf(name string) string {
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	m := quantPattern.FindStringSubmatch(stem)
	if m == nil {
		return ""
	}
	return strings.ToUpper(m[1])
}
