package model

import (
	"fmt"
	"io"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/encoding/yaml"

	_ "embed"
)

const (
	LogStderr  = "stderr"
	LogStdout  = "stdout"
	LogDiscard = "discard"

	DefaultMarker           = ".git"
	DefaultPollInterval     = 100 * time.Millisecond
	DefaultMaterializeLimit = 4
	DefaultProcessor        = "process-png.sh"
)

//go:embed config.cue
var cueSource []byte

var (
	cueCtx *cue.Context
	schema cue.Value
)

func init() {
	if len(cueSource) == 0 {
		panic("variable cueSource is empty")
	}
	cueCtx = cuecontext.New()
	compiled := cueCtx.CompileBytes(cueSource)
	if compiled.Err() != nil {
		panic(compiled.Err())
	}

	if err := compiled.Validate(); err != nil {
		panic(err)
	}

	schema = compiled.LookupPath(cue.ParsePath("#Config"))
	if schema.Err() != nil {
		panic(schema.Err())
	}
}

type Config struct {
	Version   int       `json:"version" yaml:"version"` // fixed 0 for now
	Processor Processor `json:"processor" yaml:"processor"`
	Build     Build     `json:"build" yaml:"build"`
	Service   Service   `json:"service" yaml:"service"`
}

// Processor is the external program run once per exported artifact as
// Path Args... <source> <output>.
type Processor struct {
	Path string            `json:"path" yaml:"path"`
	Args []string          `json:"args,omitempty" yaml:"args,omitempty"`
	Env  map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
}

type Build struct {
	Marker           string `json:"marker" yaml:"marker"`               // directory marking the project root
	PollInterval     string `json:"poll_interval" yaml:"poll_interval"` // Go duration
	ScratchDir       string `json:"scratch_dir,omitempty" yaml:"scratch_dir,omitempty"`
	MaterializeLimit int    `json:"materialize_limit" yaml:"materialize_limit"`
}

type Service struct {
	Verbose bool   `json:"verbose" yaml:"verbose"`
	Log     string `json:"log" yaml:"log"` // "stderr"|"stdout"|"discard"|path
}

// DefaultConfig returns the configuration stored when no config file exists.
func DefaultConfig() Config {
	return Config{
		Version: 0,
		Processor: Processor{
			Path: DefaultProcessor,
		},
		Build: Build{
			Marker:           DefaultMarker,
			PollInterval:     DefaultPollInterval.String(),
			MaterializeLimit: DefaultMaterializeLimit,
		},
		Service: Service{
			Log: LogStderr,
		},
	}
}

// LoadConfig validates YAML from r against CUE schema and decodes to Config.
func LoadConfig(r io.Reader) (Config, error) {
	yamlFile, err := yaml.Extract("exporter.yaml", r)
	if err != nil {
		return Config{}, err
	}
	yamlValue := cueCtx.BuildFile(yamlFile)

	unified := schema.Unify(yamlValue)
	if err := unified.Validate(
		cue.All(),
		cue.Concrete(true),
	); err != nil {
		return Config{}, err
	}

	var out Config
	if err := unified.Decode(&out); err != nil {
		return Config{}, err
	}
	if err := out.Validate(); err != nil {
		return Config{}, err
	}
	return out, nil
}

// Validate checks the constraints the schema can't express.
func (c Config) Validate() error {
	if c.Version != 0 {
		return fmt.Errorf("%w: %d", ErrVersion, c.Version)
	}
	if c.Processor.Path == "" {
		return ErrNoProcessor
	}
	if _, err := time.ParseDuration(c.Build.PollInterval); c.Build.PollInterval != "" && err != nil {
		return fmt.Errorf("parsing build.poll_interval: %w", err)
	}
	return nil
}

// Interval returns the poll period, DefaultPollInterval when unset or invalid.
func (b Build) Interval() time.Duration {
	d, err := time.ParseDuration(b.PollInterval)
	if err != nil || d <= 0 {
		return DefaultPollInterval
	}
	return d
}

// Limit returns the number of artifacts materialized in parallel.
func (b Build) Limit() int {
	if b.MaterializeLimit < 1 {
		return DefaultMaterializeLimit
	}
	return b.MaterializeLimit
}

// RootMarker returns the name of the directory marking a project root.
func (b Build) RootMarker() string {
	if b.Marker == "" {
		return DefaultMarker
	}
	return b.Marker
}
