// Package symbolize maps program counters to source locations using a
// decoded line table.
package symbolize

import (
	"fmt"
	"sort"
	"strings"

	"github.com/derekparker/trie"
	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/atomic"

	"github.com/go-delve/dwarfline/pkg/config"
	"github.com/go-delve/dwarfline/pkg/dwarf/line"
	"github.com/go-delve/dwarfline/pkg/logflags"
)

// Location is the source position of an instruction.
type Location struct {
	PC     uint64
	File   string
	Line   int
	Column int
	// IsStmt is true if the instruction is a recommended breakpoint
	// location for its line.
	IsStmt bool
}

func (loc Location) String() string {
	if loc.Column > 0 {
		return fmt.Sprintf("%s:%d:%d", loc.File, loc.Line, loc.Column)
	}
	return fmt.Sprintf("%s:%d", loc.File, loc.Line)
}

// Stats counts the lookups served by the cache of a Symbolizer.
type Stats struct {
	Hits   uint64
	Misses uint64
}

// Symbolizer resolves addresses to source locations, applying the path
// substitution rules of the configuration. It is safe for concurrent use.
type Symbolizer struct {
	tbl        *line.Table
	rules      config.SubstitutePathRules
	showColumn bool

	cache *lru.Cache
	// files maps substituted paths to the paths stored in the table.
	files *trie.Trie

	hits, misses atomic.Uint64

	log logflags.Logger
}

// New creates a symbolizer for tbl, conf can be nil.
func New(tbl *line.Table, conf *config.Config) (*Symbolizer, error) {
	cache, err := lru.New(conf.CacheSize())
	if err != nil {
		return nil, err
	}
	s := &Symbolizer{
		tbl:   tbl,
		cache: cache,
		files: trie.New(),
		log:   logflags.SymbolizerLogger(),
	}
	if conf != nil {
		s.rules = conf.SubstitutePath
		s.showColumn = conf.ShowColumn
	}

	type pathKey struct{ dir, file uint32 }
	seen := make(map[pathKey]bool)
	for _, seq := range tbl.Sequences {
		for _, row := range seq {
			k := pathKey{row.Dir, row.File}
			if seen[k] {
				continue
			}
			seen[k] = true
			orig := tbl.Path(row)
			if orig == "" {
				continue
			}
			s.files.Add(s.rules.Substitute(orig), orig)
		}
	}
	s.log.Debugf("symbolizer ready, %d sequences, %d files", len(tbl.Sequences), len(seen))
	return s, nil
}

// Table returns the line table used by s.
func (s *Symbolizer) Table() *line.Table {
	return s.tbl
}

// Resolve returns the location of the instruction at pc.
func (s *Symbolizer) Resolve(pc uint64) (Location, bool) {
	if v, ok := s.cache.Get(pc); ok {
		s.hits.Inc()
		return v.(Location), true
	}
	s.misses.Inc()

	row, ok := s.tbl.Find(pc)
	if !ok {
		s.log.Debugf("no line information for %#x", pc)
		return Location{PC: pc}, false
	}
	loc := Location{
		PC:     pc,
		File:   s.rules.Substitute(s.tbl.Path(row)),
		Line:   int(row.Line),
		IsStmt: row.IsStmt,
	}
	if s.showColumn {
		loc.Column = int(row.Column)
	}
	s.cache.Add(pc, loc)
	return loc, true
}

// FilesWithPrefix returns, sorted, the substituted paths of all files
// referenced by the table that start with prefix.
func (s *Symbolizer) FilesWithPrefix(prefix string) []string {
	files := s.files.PrefixSearch(prefix)
	sort.Strings(files)
	return files
}

// FindFile returns the path, as stored in the table, of the file named
// by name. Name can be a substituted path or a suffix of one that
// matches a single file.
func (s *Symbolizer) FindFile(name string) (string, error) {
	if node, ok := s.files.Find(name); ok {
		return node.Meta().(string), nil
	}
	var matches []string
	for _, f := range s.files.Keys() {
		if strings.HasSuffix(f, "/"+name) || strings.HasSuffix(f, "\\"+name) {
			matches = append(matches, f)
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("could not find file %s", name)
	case 1:
		node, _ := s.files.Find(matches[0])
		return node.Meta().(string), nil
	default:
		sort.Strings(matches)
		return "", fmt.Errorf("ambiguous file name %s, candidates: %s", name, strings.Join(matches, ", "))
	}
}

// LineToPC returns the address of the first instruction of file:lineno.
func (s *Symbolizer) LineToPC(file string, lineno int) (uint64, error) {
	orig, err := s.FindFile(file)
	if err != nil {
		return 0, err
	}
	return s.tbl.LineToPC(orig, lineno)
}

// Stats returns the number of cache hits and misses since s was created.
func (s *Symbolizer) Stats() Stats {
	return Stats{Hits: s.hits.Load(), Misses: s.misses.Load()}
}
