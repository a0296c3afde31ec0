// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"testing"

	"github.com/spf13/pflag"
)

func TestLevenshtein(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"", "abc", 3},
		{"abc", "", 3},
		{"abc", "abc", 0},
		{"abc", "abd", 1},
		{"abc", "ab", 1},
		{"ab", "abc", 1},
		{"abc", "bac", 2},
		{"kitten", "sitting", 3},
		{"export", "exprot", 2},
		{"digest", "digst", 1},
	}

	for _, test := range tests {
		t.Run(test.a+"->"+test.b, func(t *testing.T) {
			if got := levenshtein(test.a, test.b); got != test.want {
				t.Errorf("levenshtein(%q, %q) = %d, want %d", test.a, test.b, got, test.want)
			}
		})
	}
}

func TestSuggestCommand(t *testing.T) {
	commands := []*Command{{Name: "room"}, {Name: "push"}, {Name: "delete"}}
	if got := suggestCommand("rom", commands); got != "room" {
		t.Errorf("suggestCommand(rom) = %q, want room", got)
	}
	if got := suggestCommand("zzzzzzzz", commands); got != "" {
		t.Errorf("suggestCommand(zzzzzzzz) = %q, want empty", got)
	}
}

func TestSuggestFlag(t *testing.T) {
	flagSet := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flagSet.StringP("config", "c", "", "config file")
	flagSet.String("db", "", "database")

	tests := []struct {
		args []string
		want string
	}{
		{[]string{"--confg", "x"}, "--config"},
		{[]string{"--config=x", "--dbb", "y"}, "--db"},
		{[]string{"-c", "x", "--xyzzyxyzzy"}, ""},
		{[]string{"--", "--confg"}, ""},
	}
	for _, test := range tests {
		if got := suggestFlag(test.args, flagSet); got != test.want {
			t.Errorf("suggestFlag(%v) = %q, want %q", test.args, got, test.want)
		}
	}
}
