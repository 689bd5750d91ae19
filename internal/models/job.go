package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Walltime is the wall-clock limit handed to the scheduler. It is stored as
// a duration internally but marshals in the scheduler's own DD-HH:MM[:SS]
// notation so that job files round-trip without reformatting.
type Walltime struct {
	time.Duration
}

// ParseWalltime parses the Slurm time grammar: "minutes", "MM:SS",
// "HH:MM:SS", "DD-HH", "DD-HH:MM" and "DD-HH:MM:SS".
func ParseWalltime(s string) (Walltime, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Walltime{}, fmt.Errorf("empty walltime")
	}

	var days int64
	rest := s
	if i := strings.IndexByte(s, '-'); i >= 0 {
		d, err := strconv.ParseInt(s[:i], 10, 64)
		if err != nil || d < 0 {
			return Walltime{}, fmt.Errorf("invalid walltime %q: bad day field", s)
		}
		days = d
		rest = s[i+1:]
	}

	parts := strings.Split(rest, ":")
	for _, p := range parts {
		if p == "" {
			return Walltime{}, fmt.Errorf("invalid walltime %q", s)
		}
	}

	var h, m, sec int64
	var err error
	switch {
	case days > 0 || strings.Contains(s, "-"):
		// DD-HH, DD-HH:MM, DD-HH:MM:SS
		switch len(parts) {
		case 1:
			h, err = atoiField(parts[0], err)
		case 2:
			h, err = atoiField(parts[0], err)
			m, err = atoiField(parts[1], err)
		case 3:
			h, err = atoiField(parts[0], err)
			m, err = atoiField(parts[1], err)
			sec, err = atoiField(parts[2], err)
		default:
			return Walltime{}, fmt.Errorf("invalid walltime %q", s)
		}
	default:
		// minutes, MM:SS, HH:MM:SS
		switch len(parts) {
		case 1:
			m, err = atoiField(parts[0], err)
		case 2:
			m, err = atoiField(parts[0], err)
			sec, err = atoiField(parts[1], err)
		case 3:
			h, err = atoiField(parts[0], err)
			m, err = atoiField(parts[1], err)
			sec, err = atoiField(parts[2], err)
		default:
			return Walltime{}, fmt.Errorf("invalid walltime %q", s)
		}
	}
	if err != nil {
		return Walltime{}, fmt.Errorf("invalid walltime %q: %w", s, err)
	}

	d := time.Duration(days)*24*time.Hour +
		time.Duration(h)*time.Hour +
		time.Duration(m)*time.Minute +
		time.Duration(sec)*time.Second
	return Walltime{Duration: d}, nil
}

func atoiField(s string, prev error) (int64, error) {
	if prev != nil {
		return 0, prev
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("bad field %q", s)
	}
	return v, nil
}

// String renders the walltime as DD-HH:MM, or DD-HH:MM:SS when the limit is
// not a whole number of minutes. This matches what the site's job scripts
// have always used.
func (w Walltime) String() string {
	d := w.Duration
	days := d / (24 * time.Hour)
	d -= days * 24 * time.Hour
	hours := d / time.Hour
	d -= hours * time.Hour
	mins := d / time.Minute
	secs := (d - mins*time.Minute) / time.Second
	if secs > 0 {
		return fmt.Sprintf("%02d-%02d:%02d:%02d", days, hours, mins, secs)
	}
	return fmt.Sprintf("%02d-%02d:%02d", days, hours, mins)
}

// MarshalYAML implements yaml.Marshaler.
func (w Walltime) MarshalYAML() (interface{}, error) {
	return w.String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (w *Walltime) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := ParseWalltime(s)
	if err != nil {
		return err
	}
	*w = parsed
	return nil
}

// MarshalJSON implements json.Marshaler.
func (w Walltime) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(w.String())), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (w *Walltime) UnmarshalJSON(data []byte) error {
	s, err := strconv.Unquote(string(data))
	if err != nil {
		return fmt.Errorf("walltime must be a string: %w", err)
	}
	parsed, err := ParseWalltime(s)
	if err != nil {
		return err
	}
	*w = parsed
	return nil
}

// Resources is the structured resource request handed to the scheduler.
// All counts are totals for the job, not per node.
type Resources struct {
	GPUCount  int      `json:"gpus" yaml:"gpus"`
	Partition string   `json:"partition" yaml:"partition"`
	Tasks     int      `json:"tasks" yaml:"tasks"`
	Nodes     int      `json:"nodes" yaml:"nodes"`
	WallClock Walltime `json:"time" yaml:"time"`
}

// SetupAction is one opaque environment-configuration command (typically a
// module load). Actions are applied strictly in declaration order because
// later loads may depend on environment state established by earlier ones.
type SetupAction struct {
	Command string `json:"command" yaml:"command"`
}

// UnmarshalYAML accepts either a bare command string or the mapping form,
// so job files can list actions as plain strings.
func (a *SetupAction) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err == nil {
		a.Command = s
		return nil
	}
	var m struct {
		Command string `yaml:"command"`
	}
	if err := unmarshal(&m); err != nil {
		return err
	}
	a.Command = m.Command
	return nil
}

// Payload is the single command executed once setup completes: one
// interpreter invocation with one script argument. Its stdout is redirected
// to the job's output path; stderr is left to the scheduler-managed job log.
type Payload struct {
	Interpreter string `json:"interpreter" yaml:"interpreter"`
	Script      string `json:"script" yaml:"script"`
}

// JobRequest is the unit of submission. It is constructed once, submitted
// once, and not mutated afterwards; resubmitting an identical request is a
// new job with a new identifier (no deduplication).
type JobRequest struct {
	ID   string `json:"id,omitempty" yaml:"id,omitempty"`
	Name string `json:"name" yaml:"name"`

	// OutputPath is where the payload's stdout is redirected. SchedulerLog,
	// when set, is handed to the scheduler as the combined job log path;
	// when empty the scheduler's default applies and stderr goes there.
	OutputPath   string        `json:"output" yaml:"output"`
	SchedulerLog string        `json:"log,omitempty" yaml:"log,omitempty"`
	Resources    Resources     `json:"resources" yaml:"resources"`
	SetupActions []SetupAction `json:"setup" yaml:"setup"`
	Payload      Payload       `json:"payload" yaml:"payload"`
	SubmittedAt  time.Time     `json:"submitted_at,omitempty" yaml:"-"`
}

// Validate checks the request invariants before it is handed to any
// scheduler backend.
func (jr *JobRequest) Validate() error {
	if jr.Name == "" {
		return fmt.Errorf("%w: job name is required", ErrInvalidJobRequest)
	}
	if jr.OutputPath == "" {
		return fmt.Errorf("%w: output path is required", ErrInvalidJobRequest)
	}
	if jr.Resources.GPUCount < 0 {
		return fmt.Errorf("%w: gpu count must be non-negative", ErrInvalidJobRequest)
	}
	if jr.Resources.Tasks < 0 {
		return fmt.Errorf("%w: task count must be non-negative", ErrInvalidJobRequest)
	}
	if jr.Resources.Nodes < 0 {
		return fmt.Errorf("%w: node count must be non-negative", ErrInvalidJobRequest)
	}
	if jr.Resources.WallClock.Duration <= 0 {
		return fmt.Errorf("%w: wall-clock limit must be a non-zero duration", ErrInvalidJobRequest)
	}
	for i, action := range jr.SetupActions {
		if strings.TrimSpace(action.Command) == "" {
			return fmt.Errorf("%w: setup action %d is empty", ErrInvalidJobRequest, i)
		}
	}
	if jr.Payload.Interpreter == "" || jr.Payload.Script == "" {
		return fmt.Errorf("%w: payload requires an interpreter and a script", ErrInvalidJobRequest)
	}
	return nil
}

// CommandLine returns the payload as it appears in the rendered batch
// script, shell redirection included.
func (p Payload) CommandLine(outputPath string) string {
	return fmt.Sprintf("%s %s > %s", p.Interpreter, p.Script, outputPath)
}
