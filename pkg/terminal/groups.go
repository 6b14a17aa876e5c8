package terminal

type commandGroup uint8

const (
	otherCmds commandGroup = iota
	lookupCmds
	tableCmds
)

type commandGroupDescription struct {
	description string
	group       commandGroup
}

var commandGroupDescriptions = []commandGroupDescription{
	{"Mapping addresses and source lines", lookupCmds},
	{"Inspecting the line table", tableCmds},
	{"Other commands", otherCmds},
}
