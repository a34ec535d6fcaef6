// Package xdconfig loads the debugger's on-disk configuration file, the
// way delve's pkg/config does it: a YAML file under the user's home
// directory, created with commented-out defaults on first run.
package xdconfig

import (
	"fmt"
	"io/ioutil"
	"os"
	"os/user"
	"path"
	"time"

	"gopkg.in/yaml.v2"
)

const (
	configDir  string = ".xendbg"
	configFile string = "config.yml"
)

// Config defines all options available to be set through the config file.
type Config struct {
	// PollInterval is the cadence at which the execution controller polls
	// for a breakpoint hit while the guest is running.
	PollInterval time.Duration `yaml:"poll-interval"`

	// HostName is reported by QueryHostInfo responses.
	HostName string `yaml:"host-name"`

	// NarrowEflags controls whether GeneralRegistersBatch emits eflags as
	// 32 bits (a client compatibility quirk) or the full 64 bits of
	// rflags. Default true; see DESIGN.md.
	NarrowEflags bool `yaml:"narrow-eflags"`

	// SymbolSearchPaths is a list of directories read from the config
	// file. Nothing searches it: the attach command loads symbols only from
	// the path given by --symbols.
	SymbolSearchPaths []string `yaml:"symbol-search-paths"`

	// LogLayers names xlogflags layers, in the same form as --log-output.
	// It is read from the config file but not applied: only the command
	// line flags are passed to xlogflags.Setup.
	LogLayers []string `yaml:"log-layers"`
}

// Default returns the configuration used when no config file is present.
func Default() *Config {
	return &Config{
		PollInterval: 100 * time.Millisecond,
		HostName:     "localhost",
		NarrowEflags: true,
	}
}

// Load attempts to populate a Config from the config.yml file, falling
// back to Default() on any error (mirroring delve's LoadConfig fail-open
// behavior, since a missing/unreadable config must never prevent
// attaching to a domain).
func Load() *Config {
	if err := createConfigPath(); err != nil {
		fmt.Printf("could not create config directory: %v\n", err)
		return Default()
	}
	full, err := FilePath(configFile)
	if err != nil {
		fmt.Printf("unable to get config file path: %v\n", err)
		return Default()
	}

	f, err := os.Open(full)
	if err != nil {
		f, err = createDefaultConfig(full)
		if err != nil {
			fmt.Printf("error creating default config file: %v\n", err)
			return Default()
		}
	}
	defer f.Close()

	data, err := ioutil.ReadAll(f)
	if err != nil {
		fmt.Printf("unable to read config data: %v\n", err)
		return Default()
	}

	c := *Default()
	if err := yaml.Unmarshal(data, &c); err != nil {
		fmt.Printf("unable to decode config file: %v\n", err)
		return Default()
	}
	return &c
}

// Save marshals and writes conf to disk.
func Save(conf *Config) error {
	full, err := FilePath(configFile)
	if err != nil {
		return err
	}
	out, err := yaml.Marshal(*conf)
	if err != nil {
		return err
	}
	return ioutil.WriteFile(full, out, 0600)
}

func createDefaultConfig(path string) (*os.File, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("unable to create config file: %w", err)
	}
	if err := writeDefaultConfig(f); err != nil {
		return nil, fmt.Errorf("unable to write default configuration: %w", err)
	}
	if _, err := f.Seek(0, 0); err != nil {
		return nil, err
	}
	return f, nil
}

func writeDefaultConfig(f *os.File) error {
	_, err := f.WriteString(
		`# Configuration file for xendbg.
#
# poll-interval: 100ms
# host-name: localhost
#
# When true, GeneralRegistersBatch reports eflags as the low 32 bits of
# rflags, matching one known client's expectations.
# narrow-eflags: true
#
# symbol-search-paths:
#   - /usr/lib/debug

poll-interval: 100ms
host-name: localhost
narrow-eflags: true
`)
	return err
}

func createConfigPath() error {
	dir, err := FilePath("")
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0700)
}

// FilePath returns the full path to the given config file name.
func FilePath(file string) (string, error) {
	home := "."
	if usr, err := user.Current(); err == nil {
		home = usr.HomeDir
	}
	return path.Join(home, configDir, file), nil
}
