package bot

import (
	"testing"

	"github.com/bwmarrin/discordgo"
)

func findSubcommand(t *testing.T, name string) *discordgo.ApplicationCommandOption {
	t.Helper()
	tree := commands()
	if len(tree) != 1 || tree[0].Name != "dumpit" {
		t.Fatalf("expected a single /dumpit command, got %+v", tree)
	}
	for _, sub := range tree[0].Options {
		if sub.Name == name {
			return sub
		}
	}
	t.Fatalf("subcommand %q not registered", name)
	return nil
}

func TestCommandTreeCoversGameSurface(t *testing.T) {
	for _, name := range []string{
		"join", "buy", "sell", "balance", "portfolio",
		"transactions", "leaderboard", "annals", "ceremony",
	} {
		findSubcommand(t, name)
	}
}

func TestCeremonyCommandOffersBothKinds(t *testing.T) {
	sub := findSubcommand(t, "ceremony")
	var kind *discordgo.ApplicationCommandOption
	for _, opt := range sub.Options {
		if opt.Name == "kind" {
			kind = opt
		}
	}
	if kind == nil {
		t.Fatalf("ceremony subcommand has no kind option")
	}
	got := map[string]bool{}
	for _, c := range kind.Choices {
		v, ok := c.Value.(string)
		if !ok {
			t.Fatalf("choice %q has non-string value %v", c.Name, c.Value)
		}
		got[v] = true
	}
	if !got["M"] || !got["Y"] {
		t.Fatalf("ceremony kinds must include M and Y, got %v", got)
	}
}
