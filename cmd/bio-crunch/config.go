package main

import (
	"flag"
	"fmt"
	"io/ioutil"

	"gopkg.in/yaml.v3"
)

// applyConfig fills flags from the named section of a YAML config
// file. Flags given explicitly on the command line keep their values;
// the config file only supplies the rest. Unknown keys are an error
// so that typos do not silently become defaults.
func applyConfig(path, section string, flags *flag.FlagSet) error {
	if path == "" {
		return nil
	}
	raw, err := ioutil.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config %s: %v", path, err)
	}
	var config map[string]map[string]string
	if err := yaml.Unmarshal(raw, &config); err != nil {
		return fmt.Errorf("parsing config %s: %v", path, err)
	}
	values, ok := config[section]
	if !ok {
		return nil
	}

	explicit := map[string]bool{}
	flags.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	for name, value := range values {
		if explicit[name] {
			continue
		}
		if flags.Lookup(name) == nil {
			return fmt.Errorf("config %s: unknown %s option %q", path, section, name)
		}
		if err := flags.Set(name, value); err != nil {
			return fmt.Errorf("config %s: option %q: %v", path, name, err)
		}
	}
	return nil
}
