package types

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/mattn/go-shellwords"
	"gopkg.in/yaml.v3"
)

// Command is a container command. In YAML it may be written as a
// single shell-style string or as a list of arguments.
type Command []string

// UnmarshalYAML implements yaml.Unmarshaler
func (c *Command) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		if strings.TrimSpace(value.Value) == "" {
			*c = nil
			return nil
		}
		args, err := shellwords.Parse(value.Value)
		if err != nil {
			return fmt.Errorf("line %d: invalid command %q: %w", value.Line, value.Value, err)
		}
		*c = args
		return nil
	case yaml.SequenceNode:
		var args []string
		if err := value.Decode(&args); err != nil {
			return err
		}
		*c = args
		return nil
	default:
		return fmt.Errorf("line %d: command must be a string or a list", value.Line)
	}
}

// Environment holds container environment variables. In YAML it may be
// written as a mapping or as a list of KEY=VALUE strings.
type Environment map[string]string

// UnmarshalYAML implements yaml.Unmarshaler
func (e *Environment) UnmarshalYAML(value *yaml.Node) error {
	env := make(Environment)
	switch value.Kind {
	case yaml.MappingNode:
		var raw map[string]any
		if err := value.Decode(&raw); err != nil {
			return err
		}
		for k, v := range raw {
			if v == nil {
				env[k] = ""
				continue
			}
			env[k] = fmt.Sprint(v)
		}
	case yaml.SequenceNode:
		var items []string
		if err := value.Decode(&items); err != nil {
			return err
		}
		for _, item := range items {
			k, v, _ := strings.Cut(item, "=")
			env[k] = v
		}
	default:
		return fmt.Errorf("line %d: environment must be a mapping or a list", value.Line)
	}
	*e = env
	return nil
}

// List returns the variables as sorted KEY=VALUE strings
func (e Environment) List() []string {
	out := make([]string, 0, len(e))
	for k, v := range e {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// UnmarshalYAML implements yaml.Unmarshaler. A scalar such as "always" or
// "on-failure:3" is accepted as well as the object form.
func (r *RestartPolicy) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		p, err := ParseRestartPolicy(value.Value)
		if err != nil {
			return fmt.Errorf("line %d: %w", value.Line, err)
		}
		*r = *p
		return nil
	}

	var raw struct {
		Name       string `yaml:"Name"`
		LowerName  string `yaml:"name"`
		MaxRetries int    `yaml:"MaximumRetryCount"`
		LowerMax   int    `yaml:"maximum_retry_count"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	name := raw.Name
	if name == "" {
		name = raw.LowerName
	}
	max := raw.MaxRetries
	if max == 0 {
		max = raw.LowerMax
	}
	p, err := ParseRestartPolicy(name)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	if max > 0 {
		p.MaximumRetryCount = max
	}
	*r = *p
	return nil
}

// ParseRestartPolicy parses the compose-style restart field
func ParseRestartPolicy(s string) (*RestartPolicy, error) {
	name, count, hasCount := strings.Cut(strings.TrimSpace(s), ":")
	switch name {
	case "", "no":
		return &RestartPolicy{Name: "no"}, nil
	case "always", "unless-stopped":
		if hasCount {
			return nil, fmt.Errorf("restart policy %q does not take a retry count", name)
		}
		return &RestartPolicy{Name: name}, nil
	case "on-failure":
		p := &RestartPolicy{Name: name}
		if hasCount {
			n, err := strconv.Atoi(count)
			if err != nil || n < 0 {
				return nil, fmt.Errorf("invalid retry count in restart policy %q", s)
			}
			p.MaximumRetryCount = n
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown restart policy %q", s)
	}
}
