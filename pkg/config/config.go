package config

import (
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v2"
)

const (
	configDir  string = "dlvline"
	configFile string = "config.yml"

	// DefaultLookupCacheSize is the number of resolved addresses kept by
	// the symbolizer when lookup-cache-size is not set.
	DefaultLookupCacheSize = 1024
)

// SubstitutePathRule describes a rule for substitution of path to source code file.
type SubstitutePathRule struct {
	// Directory path will be substituted if it matches `From`.
	From string
	// Path to which substitution is performed.
	To string
}

// SubstitutePathRules is a slice of source code path substitution rules.
type SubstitutePathRules []SubstitutePathRule

// Config defines all configuration options available to be set through the config file.
type Config struct {
	// Commands aliases.
	Aliases map[string][]string `yaml:"aliases"`
	// Source code path substitution rules.
	SubstitutePath SubstitutePathRules `yaml:"substitute-path"`

	// LookupCacheSize is the number of resolved addresses the symbolizer
	// keeps in memory.
	LookupCacheSize *int `yaml:"lookup-cache-size,omitempty"`

	// If ShowColumn is true locations are printed as file:line:column.
	ShowColumn bool `yaml:"show-column"`

	// Source list line-number color (3/4 bit color codes as defined
	// here: https://en.wikipedia.org/wiki/ANSI_escape_code#Colors)
	SourceListLineColor int `yaml:"source-list-line-color"`

	// NormalizeBackslash converts backslashes in file and directory names
	// to forward slashes, useful for executables built on windows.
	NormalizeBackslash bool `yaml:"normalize-backslash"`
}

// CacheSize returns the configured lookup cache size.
func (c *Config) CacheSize() int {
	if c == nil || c.LookupCacheSize == nil || *c.LookupCacheSize <= 0 {
		return DefaultLookupCacheSize
	}
	return *c.LookupCacheSize
}

// LoadConfig attempts to populate a Config object from the config.yml file.
func LoadConfig() *Config {
	err := createConfigPath()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Could not create config directory: %v.\n", err)
		return &Config{}
	}
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Unable to get config file path: %v.\n", err)
		return &Config{}
	}

	f, err := os.Open(fullConfigFile)
	if err != nil {
		f, err = createDefaultConfig(fullConfigFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating default config file: %v\n", err)
			return &Config{}
		}
	}
	defer func() {
		err := f.Close()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Closing config file failed: %v.\n", err)
		}
	}()

	data, err := ioutil.ReadAll(f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Unable to read config data: %v.\n", err)
		return &Config{}
	}

	c, err := parseConfig(data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Unable to decode config file: %v.\n", err)
		return &Config{}
	}
	return c
}

func parseConfig(data []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	for i := range c.SubstitutePath {
		to, err := homedir.Expand(c.SubstitutePath[i].To)
		if err != nil {
			return nil, fmt.Errorf("substitute-path rule %d: %v", i, err)
		}
		c.SubstitutePath[i].To = to
	}
	return &c, nil
}

// SaveConfig will marshal and save the config struct
// to disk.
func SaveConfig(conf *Config) error {
	if err := createConfigPath(); err != nil {
		return err
	}
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		return err
	}

	out, err := yaml.Marshal(*conf)
	if err != nil {
		return err
	}

	f, err := os.Create(fullConfigFile)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(out)
	return err
}

func createDefaultConfig(path string) (*os.File, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("unable to create config file: %v", err)
	}
	err = writeDefaultConfig(f)
	if err != nil {
		return nil, fmt.Errorf("unable to write default configuration: %v", err)
	}
	if _, err := f.Seek(0, 0); err != nil {
		return nil, err
	}
	return f, nil
}

func writeDefaultConfig(f *os.File) error {
	_, err := f.WriteString(
		`# Configuration file for dlvline.

# This is the default configuration file. Available options are provided, but disabled.
# Delete the leading hash mark to enable an item.

# Uncomment the following line and set your preferred ANSI foreground color
# for line numbers printed by the interactive commands (if unset, default is 34,
# dark blue) See https://en.wikipedia.org/wiki/ANSI_escape_code#3/4_bit
# source-list-line-color: 34

# Provided aliases will be added to the default aliases for a given command.
aliases:
  # command: ["alias1", "alias2"]

# Define sources path substitution rules. Can be used to rewrite a source path stored
# in the executable's debug information, if the sources were moved to a different place
# after compilation. A leading ~ in the destination is expanded to the home directory.
substitute-path:
  # - {from: path, to: path}

# Number of resolved addresses kept in memory.
# lookup-cache-size: 1024

# Uncomment the following line to print column numbers next to line numbers.
# show-column: true

# Uncomment the following line to convert backslashes in file names to slashes.
# normalize-backslash: true
`)
	return err
}

// createConfigPath creates the directory structure at which all config files are saved.
func createConfigPath() error {
	path, err := GetConfigFilePath("")
	if err != nil {
		return err
	}
	return os.MkdirAll(path, 0700)
}

// GetConfigFilePath gets the full path to the given config file name.
// Configuration is kept in $XDG_CONFIG_HOME/dlvline, or in
// ~/.config/dlvline when XDG_CONFIG_HOME is not set.
func GetConfigFilePath(file string) (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, configDir, file), nil
	}
	userHomeDir, err := homedir.Dir()
	if err != nil {
		userHomeDir = "."
	}
	return filepath.Join(userHomeDir, ".config", configDir, file), nil
}

// Substitute applies the first rule whose From directory is a prefix of
// path. Only whole directories are substituted, for example:
// substitute from `/dir/subdir`, substitute to `/new`
// for file path `/dir/subdir/file` will return file path `/new/file`.
// for file path `/dir/subdir-2/file` substitution will not be applied.
func (rules SubstitutePathRules) Substitute(path string) string {
	separator := "/"
	if strings.Contains(path, "\\") {
		separator = "\\"
	}
	for _, r := range rules {
		from, to := r.From, r.To
		if from == "" {
			continue
		}
		if !strings.HasSuffix(from, separator) {
			from = from + separator
		}
		if !strings.HasSuffix(to, separator) {
			to = to + separator
		}
		if strings.HasPrefix(path, from) {
			return to + path[len(from):]
		}
	}
	return path
}
