package symbolize

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-delve/dwarfline/pkg/config"
	"github.com/go-delve/dwarfline/pkg/dwarf/dwarfbuilder"
	"github.com/go-delve/dwarfline/pkg/dwarf/line"
)

func testTable(t *testing.T) *line.Table {
	t.Helper()
	h := dwarfbuilder.DefaultHeader()
	h.IncludeDirs = []string{"/build/app", "/build/app/internal"}
	h.Files = []dwarfbuilder.File{
		{Name: "main.go", Dir: 1},
		{Name: "util.go", Dir: 2},
		{Name: "/usr/lib/go/src/runtime/proc.go"},
	}
	b := dwarfbuilder.New()
	b.BeginUnit(h)
	b.SetAddress(0x1000).SetColumn(3).Copy().
		Special(4, 2).
		SetFile(2).AdvanceLine(20).Special(4, 0).
		SetFile(3).Special(8, 1).
		AdvancePC(4).EndSequence()
	tbl, err := line.Parse(b.Build(), nil)
	require.NoError(t, err)
	return tbl
}

func TestResolve(t *testing.T) {
	s, err := New(testTable(t), nil)
	require.NoError(t, err)

	loc, ok := s.Resolve(0x1006)
	require.True(t, ok)
	require.Equal(t, Location{PC: 0x1006, File: "/build/app/main.go", Line: 3, IsStmt: true}, loc)
	require.Equal(t, "/build/app/main.go:3", loc.String())

	loc, ok = s.Resolve(0x1008)
	require.True(t, ok)
	require.Equal(t, "/build/app/internal/util.go:23", loc.String())

	loc, ok = s.Resolve(0x1010)
	require.True(t, ok)
	require.Equal(t, "/usr/lib/go/src/runtime/proc.go", loc.File)

	_, ok = s.Resolve(0x500)
	require.False(t, ok)
}

func TestResolveSubstituteAndColumns(t *testing.T) {
	conf := &config.Config{
		SubstitutePath: config.SubstitutePathRules{{From: "/build/app", To: "/home/user/app"}},
		ShowColumn:     true,
	}
	s, err := New(testTable(t), conf)
	require.NoError(t, err)

	loc, ok := s.Resolve(0x1000)
	require.True(t, ok)
	require.Equal(t, "/home/user/app/main.go:1:3", loc.String())

	require.Equal(t, []string{"/home/user/app/internal/util.go", "/home/user/app/main.go"}, s.FilesWithPrefix("/home/user/app"))
	require.Empty(t, s.FilesWithPrefix("/build"))
}

func TestCacheStats(t *testing.T) {
	size := 2
	s, err := New(testTable(t), &config.Config{LookupCacheSize: &size})
	require.NoError(t, err)

	s.Resolve(0x1000)
	s.Resolve(0x1000)
	s.Resolve(0x1004)
	s.Resolve(0x1008)
	// evicted by the two lookups above
	s.Resolve(0x1000)
	require.Equal(t, Stats{Hits: 1, Misses: 4}, s.Stats())
}

func TestResolveConcurrent(t *testing.T) {
	s, err := New(testTable(t), nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for pc := uint64(0x1000); pc < 0x1014; pc++ {
				if _, ok := s.Resolve(pc); !ok {
					t.Errorf("could not resolve %#x", pc)
				}
			}
		}()
	}
	wg.Wait()
	st := s.Stats()
	require.Equal(t, uint64(8*0x14), st.Hits+st.Misses)
}

func TestFindFile(t *testing.T) {
	s, err := New(testTable(t), nil)
	require.NoError(t, err)

	f, err := s.FindFile("/build/app/main.go")
	require.NoError(t, err)
	require.Equal(t, "/build/app/main.go", f)

	f, err = s.FindFile("internal/util.go")
	require.NoError(t, err)
	require.Equal(t, "/build/app/internal/util.go", f)

	_, err = s.FindFile("missing.go")
	require.Error(t, err)

	pc, err := s.LineToPC("util.go", 23)
	require.NoError(t, err)
	require.Equal(t, uint64(0x1008), pc)
}

func TestFindFileAmbiguous(t *testing.T) {
	h := dwarfbuilder.DefaultHeader()
	h.IncludeDirs = []string{"/a", "/b"}
	h.Files = []dwarfbuilder.File{{Name: "x.go", Dir: 1}, {Name: "x.go", Dir: 2}}
	b := dwarfbuilder.New()
	b.BeginUnit(h)
	b.SetAddress(0x1000).Copy().SetFile(2).Special(1, 0).EndSequence()
	tbl, err := line.Parse(b.Build(), nil)
	require.NoError(t, err)

	s, err := New(tbl, nil)
	require.NoError(t, err)
	_, err = s.FindFile("x.go")
	require.Error(t, err)
	require.Contains(t, err.Error(), "ambiguous")
}
