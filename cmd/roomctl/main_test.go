package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoomctl_CreateListHistoryInspect(t *testing.T) {
	req := require.New(t)
	dir := t.TempDir()

	// Given a room created from the command line
	var out bytes.Buffer
	req.NoError(run("create", []string{"-db", dir, "-id", "R1", "-name", "general"}, &out))
	req.Contains(out.String(), "room R1 ready")

	// When listing
	out.Reset()
	req.NoError(run("list", []string{"-db", dir}, &out))

	// Then the room shows up with no members
	req.Contains(out.String(), "R1")
	req.Contains(out.String(), "general")

	out.Reset()
	req.NoError(run("history", []string{"-db", dir, "-id", "R1"}, &out))
	req.Contains(out.String(), "general (R1)")

	out.Reset()
	req.NoError(run("inspect", []string{"-db", dir, "-prefix", "room:"}, &out))
	req.Contains(out.String(), "room:R1")
	req.Contains(out.String(), "ROOM")
}

func TestRoomctl_Errors(t *testing.T) {
	dir := t.TempDir()
	var out bytes.Buffer

	tests := []struct {
		name    string
		command string
		args    []string
	}{
		{name: "create without name", command: "create", args: []string{"-db", dir, "-id", "R1"}},
		{name: "history without id", command: "history", args: []string{"-db", dir}},
		{name: "history of unknown room", command: "history", args: []string{"-db", dir, "-id", "nope"}},
		{name: "unknown command", command: "drop", args: []string{"-db", dir}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Error(t, run(tt.command, tt.args, &out))
		})
	}
}

func TestSummarize(t *testing.T) {
	req := require.New(t)
	req.Equal("id=R1 name=general participants=2",
		summarize([]byte(`{"id":"R1","name":"general","participants":[{},{}]}`)))
	req.Equal("raw", summarize([]byte("raw")))
	req.Equal("ab…", truncate("abc", 2))
}
