package schedule

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"
)

// document is the on-disk shape shared by the YAML and CUE sources.
type document struct {
	Phases []Phase `yaml:"phases" json:"phases"`
}

// cueSchema constrains CUE sources before they are decoded.
const cueSchema = `
#Phase: {
	name?:        string
	start_epoch:  int & >=0
	end_epoch:    int & >0
	data_size:    int & >0
	crop_size:    int & >0
	batch_size:   int & >0
	lr_scheduler: string
	lr:           number & >=0
	lr_end:       number & >=0
}

#Schedule: {
	phases: [...#Phase]
	...
}
`

// Load reads a schedule from path. The format is chosen by extension:
// .yaml/.yml are decoded strictly with yaml.v3, .cue is unified with the
// phase schema and decoded through the CUE Go API.
func Load(path string) (*Schedule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read phase schedule: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseYAML(data)
	case ".cue":
		return ParseCUE(path, data)
	default:
		return nil, fmt.Errorf("unsupported phase schedule format %q (want .yaml, .yml or .cue)", filepath.Ext(path))
	}
}

// ParseYAML decodes a YAML schedule. Unknown fields are rejected so typos
// such as "lr_e" fail loudly instead of silently defaulting to zero.
func ParseYAML(data []byte) (*Schedule, error) {
	var doc document
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &Error{Code: ErrCodeEmpty, Message: "schedule document is empty", Epoch: -1}
		}
		return nil, fmt.Errorf("failed to parse YAML schedule: %w", err)
	}
	return New(doc.Phases)
}

// ParseCUE compiles a CUE schedule, checks it against the phase schema and
// decodes the concrete result.
func ParseCUE(filename string, data []byte) (*Schedule, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(cueSchema, cue.Filename("schedule_schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile schedule schema: %w", err)
	}

	value := ctx.CompileBytes(data, cue.Filename(filename))
	if err := value.Err(); err != nil {
		return nil, fmt.Errorf("failed to compile CUE schedule: %w", err)
	}

	unified := schema.LookupPath(cue.ParsePath("#Schedule")).Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("invalid CUE schedule: %w", err)
	}

	var doc document
	if err := unified.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode CUE schedule: %w", err)
	}
	return New(doc.Phases)
}
