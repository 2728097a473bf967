package cmd

import (
	"testing"
)

func TestCommandRegistration(t *testing.T) {
	want := []string{"deploy", "destroy", "rollback", "exists", "template", "assets"}
	registered := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		registered[c.Name()] = true
	}
	for _, name := range want {
		if !registered[name] {
			t.Errorf("command %s not registered", name)
		}
	}
}

func TestAssetsSubcommands(t *testing.T) {
	subs := make(map[string]bool)
	for _, c := range assetsCmd.Commands() {
		subs[c.Name()] = true
	}
	for _, name := range []string{"build", "publish", "check"} {
		if !subs[name] {
			t.Errorf("assets subcommand %s not registered", name)
		}
	}
}
