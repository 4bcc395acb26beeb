package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"gopkg.in/yaml.v3"

	"github.com/refold/refold/internal/spec"
)

// Loader error codes.
const (
	ErrCodeSpecNotFound = "E600"
	ErrCodeSpecLoad     = "E601"
	ErrCodeSpecParse    = "E602"
)

// LoadError reports a spec loading failure with its code.
type LoadError struct {
	Code    string
	Message string
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// LoadSpec reads a specification from path: a YAML file, a single CUE file,
// or a directory of CUE files. Whatever the format, the document decodes to
// one raw mapping and goes through the same parser.
func LoadSpec(path string) (*spec.Specification, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, &LoadError{Code: ErrCodeSpecNotFound, Message: fmt.Sprintf("spec not found: %s", path)}
	}
	if err != nil {
		return nil, &LoadError{Code: ErrCodeSpecNotFound, Message: fmt.Sprintf("accessing spec: %v", err)}
	}

	var raw map[string]any
	switch {
	case info.IsDir():
		raw, err = loadCUE(path, ".")
	case strings.HasSuffix(path, ".cue"):
		raw, err = loadCUE(filepath.Dir(path), filepath.Base(path))
	case strings.HasSuffix(path, ".yaml"), strings.HasSuffix(path, ".yml"):
		raw, err = loadYAML(path)
	default:
		return nil, &LoadError{Code: ErrCodeSpecLoad, Message: fmt.Sprintf("unsupported spec format: %s (want .yaml, .cue, or a CUE directory)", path)}
	}
	if err != nil {
		return nil, err
	}

	sp, err := spec.Parse(raw)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeSpecParse, Message: err.Error()}
	}
	return sp, nil
}

func loadYAML(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeSpecLoad, Message: fmt.Sprintf("reading %s: %v", path, err)}
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &LoadError{Code: ErrCodeSpecLoad, Message: fmt.Sprintf("parsing YAML %s: %v", path, err)}
	}
	return raw, nil
}

func loadCUE(dir, target string) (map[string]any, error) {
	ctx := cuecontext.New()
	instances := load.Instances([]string{target}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, &LoadError{Code: ErrCodeSpecLoad, Message: fmt.Sprintf("no CUE instances in %s", dir)}
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, &LoadError{Code: ErrCodeSpecLoad, Message: fmt.Sprintf("loading CUE from %s: %v", dir, inst.Err)}
	}

	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, &LoadError{Code: ErrCodeSpecLoad, Message: fmt.Sprintf("building CUE value: %v", err)}
	}

	var raw map[string]any
	if err := value.Decode(&raw); err != nil {
		return nil, &LoadError{Code: ErrCodeSpecLoad, Message: fmt.Sprintf("decoding CUE value: %v", err)}
	}
	return raw, nil
}
