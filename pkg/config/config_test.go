package config

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/mitchellh/go-homedir"
	"github.com/stretchr/testify/require"
)

func TestSubstitute(t *testing.T) {
	rules := SubstitutePathRules{
		{From: "/dir/subdir", To: "/new"},
		{From: "/dir", To: "/other/"},
		{From: `C:\build`, To: `D:\src`},
	}
	for _, tc := range []struct {
		in, out string
	}{
		{"/dir/subdir/file.c", "/new/file.c"},
		{"/dir/subdir-2/file.c", "/other/subdir-2/file.c"},
		{"/elsewhere/file.c", "/elsewhere/file.c"},
		{`C:\build\pkg\main.go`, `D:\src\pkg\main.go`},
		{"/dir", "/dir"},
	} {
		require.Equal(t, tc.out, rules.Substitute(tc.in), "substituting %q", tc.in)
	}

	var none SubstitutePathRules
	require.Equal(t, "/dir/file.c", none.Substitute("/dir/file.c"))
}

func TestCacheSize(t *testing.T) {
	var c *Config
	require.Equal(t, DefaultLookupCacheSize, c.CacheSize())
	c = &Config{}
	require.Equal(t, DefaultLookupCacheSize, c.CacheSize())
	n := 16
	c.LookupCacheSize = &n
	require.Equal(t, 16, c.CacheSize())
}

func TestLoadConfigCreatesDefault(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	c := LoadConfig()
	require.NotNil(t, c)
	require.Empty(t, c.SubstitutePath)
	require.False(t, c.ShowColumn)

	path, err := GetConfigFilePath(configFile)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "dlvline", "config.yml"), path)
	data, err := ioutil.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "substitute-path:")
}

func TestSaveAndLoadConfig(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	size := 64
	saved := &Config{
		Aliases:             map[string][]string{"pc": {"addr"}},
		SubstitutePath:      SubstitutePathRules{{From: "/build", To: "/src"}},
		LookupCacheSize:     &size,
		ShowColumn:          true,
		SourceListLineColor: 32,
		NormalizeBackslash:  true,
	}
	require.NoError(t, SaveConfig(saved))

	loaded := LoadConfig()
	require.Equal(t, saved, loaded)
}

func TestParseConfigExpandsHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	homedir.DisableCache = true
	defer func() { homedir.DisableCache = false }()

	c, err := parseConfig([]byte("substitute-path:\n  - {from: /build, to: ~/src}\n"))
	require.NoError(t, err)
	require.Len(t, c.SubstitutePath, 1)
	require.Equal(t, filepath.Join(home, "src"), c.SubstitutePath[0].To)

	_, err = parseConfig([]byte("aliases: [\n"))
	require.Error(t, err)
}

func TestGetConfigFilePathHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", "")
	t.Setenv("HOME", home)
	homedir.DisableCache = true
	defer func() { homedir.DisableCache = false }()

	path, err := GetConfigFilePath("config.yml")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(home, ".config", "dlvline", "config.yml"), path)

	_, err = os.Stat(filepath.Dir(path))
	require.True(t, os.IsNotExist(err))
}
