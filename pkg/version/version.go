package version

import (
	"bytes"
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
	"text/tabwriter"
)

// Version represents the current version of dlvline.
type Version struct {
	Major    string
	Minor    string
	Patch    string
	Metadata string
	Build    string
}

// DlvlineVersion is the current version of dlvline.
var DlvlineVersion = Version{
	Major: "0", Minor: "3", Patch: "0", Metadata: "",
	Build: "$Id$",
}

func (v Version) String() string {
	fixBuild(&v)
	ver := fmt.Sprintf("Version: %s.%s.%s", v.Major, v.Minor, v.Patch)
	if v.Metadata != "" {
		ver += "-" + v.Metadata
	}
	return fmt.Sprintf("%s\nBuild: %s", ver, v.Build)
}

// BuildInfo returns the Go version dlvline was built with followed by the
// modules it was built from, one per line.
func BuildInfo() string {
	buf := new(bytes.Buffer)
	fmt.Fprintln(buf, runtime.Version())

	info, ok := debug.ReadBuildInfo()
	if !ok {
		buf.WriteString("not built in module mode\n")
		return buf.String()
	}
	tw := tabwriter.NewWriter(buf, 0, 8, 1, ' ', 0)
	fmt.Fprintf(tw, " mod\t%s\t%s\n", info.Main.Path, info.Main.Version)
	for _, dep := range info.Deps {
		if dep.Replace != nil {
			fmt.Fprintf(tw, " dep\t%s\t%s\t=> %s %s\n", dep.Path, dep.Version, dep.Replace.Path, dep.Replace.Version)
			continue
		}
		fmt.Fprintf(tw, " dep\t%s\t%s\n", dep.Path, dep.Version)
	}
	tw.Flush()
	return buf.String()
}

// fixBuild replaces an unexpanded Build with the revision stamped by the
// go command, marked -dirty if the working tree had local changes.
func fixBuild(v *Version) {
	if !strings.HasPrefix(v.Build, "$Id") {
		return
	}

	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}

	var revision string
	modified := false
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			revision = setting.Value
		case "vcs.modified":
			modified = setting.Value == "true"
		}
	}
	if revision == "" {
		return
	}
	if modified {
		revision += "-dirty"
	}
	v.Build = revision
}
