package discord

import (
	"testing"

	"github.com/bwmarrin/discordgo"
)

func TestConfigCommandsRequireManageServer(t *testing.T) {
	t.Parallel()

	adminOnly := map[string]bool{
		"channel":   true,
		"threshold": true,
		"toggle":    true,
	}

	seen := map[string]bool{}
	for _, def := range commandDefinitions() {
		seen[def.Name] = true
		if adminOnly[def.Name] {
			if def.DefaultMemberPermissions == nil {
				t.Errorf("%q has no default member permissions", def.Name)
				continue
			}
			if *def.DefaultMemberPermissions&discordgo.PermissionManageServer == 0 {
				t.Errorf("%q permissions = %d, want Manage Server", def.Name, *def.DefaultMemberPermissions)
			}
			continue
		}
		// Everything else stays open; /poll and /interval gate on the owner
		// list in their handlers.
		if def.DefaultMemberPermissions != nil {
			t.Errorf("%q unexpectedly restricted to %d", def.Name, *def.DefaultMemberPermissions)
		}
	}
	for name := range adminOnly {
		if !seen[name] {
			t.Errorf("command %q not defined", name)
		}
	}
}
