package main

import (
	"testing"

	"github.com/spf13/cobra"
)

func TestCommandFlags(t *testing.T) {
	tests := []struct {
		cmd   *cobra.Command
		flags []string
	}{
		{sentimentCmd, []string{"once", "comment-id"}},
		{insightsCmd, []string{"once", "project"}},
	}
	for _, tt := range tests {
		t.Run(tt.cmd.Name(), func(t *testing.T) {
			for _, name := range tt.flags {
				if tt.cmd.Flags().Lookup(name) == nil {
					t.Errorf("missing --%s", name)
				}
			}
		})
	}
}

func TestFlagDefaults(t *testing.T) {
	if got := sentimentCmd.Flags().Lookup("once").DefValue; got != "false" {
		t.Errorf("sentiment --once default = %s", got)
	}
	if got := insightsCmd.Flags().Lookup("project").DefValue; got != "0" {
		t.Errorf("insights --project default = %s", got)
	}
}

func TestOnceOnlyFlags(t *testing.T) {
	newCmd := func() *cobra.Command {
		cmd := &cobra.Command{Use: "test"}
		cmd.Flags().Int64("project", 0, "")
		return cmd
	}

	tests := []struct {
		name    string
		args    []string
		once    bool
		wantErr bool
	}{
		{"continuous without flag", nil, false, false},
		{"continuous with flag", []string{"--project", "4"}, false, true},
		{"once with flag", []string{"--project", "4"}, true, false},
		{"once without flag", nil, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := newCmd()
			if err := cmd.ParseFlags(tt.args); err != nil {
				t.Fatalf("ParseFlags: %v", err)
			}
			err := onceOnly(cmd, tt.once, "project")
			if (err != nil) != tt.wantErr {
				t.Errorf("onceOnly err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestCommandsCheckOnceOnlyFlags(t *testing.T) {
	for _, cmd := range []*cobra.Command{sentimentCmd, insightsCmd} {
		if cmd.PreRunE == nil {
			t.Errorf("%s does not validate its single-run flags", cmd.Name())
		}
	}
}
