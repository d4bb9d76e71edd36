package grouping

import (
	"context"
	"testing"

	"github.com/b/tabflip/pkg/colors"
	"github.com/b/tabflip/pkg/config"
	"github.com/b/tabflip/pkg/tabs"
)

var testGroups = []config.Group{
	{Name: "Work", Pattern: `^https://work\.`, Theme: config.Theme{Bg: "#e74c3c"}},
	{Name: "Docs", Pattern: "(?i)manual"},
	{Name: "Broken", Pattern: "("},
	{Name: "Default", Pattern: ""},
}

func TestGroupFor(t *testing.T) {
	g := New(testGroups, nil)
	cases := []struct {
		tab  tabs.Tab
		want string
	}{
		{tabs.Tab{URL: "https://work.example.com/a"}, "Work"},
		{tabs.Tab{Title: "Go Manual", URL: "https://go.dev"}, "Docs"},
		{tabs.Tab{Title: "news", URL: "https://news.example"}, "Default"},
		// Explicit tmux group option wins over patterns.
		{tabs.Tab{GroupID: "Broken", URL: "https://work.example.com"}, "Broken"},
		// Unknown explicit groups fall back to matching.
		{tabs.Tab{GroupID: "Gone", URL: "https://work.x"}, "Work"},
	}
	for _, tc := range cases {
		if got := g.GroupFor(tc.tab); got != tc.want {
			t.Fatalf("GroupFor(%+v) = %q, want %q", tc.tab, got, tc.want)
		}
	}
}

func TestGroupForWithoutDefault(t *testing.T) {
	g := New([]config.Group{{Name: "Work", Pattern: "work"}}, nil)
	if got := g.GroupFor(tabs.Tab{URL: "https://play"}); got != "" {
		t.Fatalf("expected no group, got %q", got)
	}
}

func TestDirectoryKeepsNativeGroups(t *testing.T) {
	ctx := context.Background()
	mem := tabs.NewMemoryDirectory(
		tabs.Tab{ID: "1", WindowID: "w", URL: "https://work.example.com", GroupID: "native-7"},
		tabs.Tab{ID: "2", WindowID: "w", URL: "https://work.example.com"},
		tabs.Tab{ID: "3", WindowID: "w", URL: "https://elsewhere"},
	)
	mem.SetGroups([]tabs.Group{{ID: "native-7", Title: "Research", Color: "blue"}})
	d := NewDirectory(mem, testGroups, nil)

	list, err := d.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	got := []string{list[0].GroupID, list[1].GroupID, list[2].GroupID}
	want := []string{"native-7", "Work", "Default"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("group ids = %v, want %v", got, want)
		}
	}

	one, err := d.Get(ctx, "2")
	if err != nil || one.GroupID != "Work" {
		t.Fatalf("get: %+v %v", one, err)
	}

	groups, _ := d.Groups(ctx)
	if len(groups) != 1+len(testGroups) || groups[0].ID != "native-7" || groups[1].Color != "#e74c3c" {
		t.Fatalf("groups = %+v", groups)
	}
}

func TestSetGroupsReplacesPatterns(t *testing.T) {
	ctx := context.Background()
	mem := tabs.NewMemoryDirectory(tabs.Tab{ID: "1", WindowID: "w", URL: "https://play"})
	d := NewDirectory(mem, testGroups, nil)
	d.SetGroups([]config.Group{{Name: "Fun", Pattern: "play"}})
	list, _ := d.List(ctx)
	if list[0].GroupID != "Fun" {
		t.Fatalf("group = %q", list[0].GroupID)
	}
}

func TestGroupsFallBackToPalette(t *testing.T) {
	order := []config.Group{
		{Name: "Work", Theme: config.Theme{Bg: "#e74c3c"}},
		{Name: "Misc"},
	}
	got := New(order, nil).Groups(order)
	if len(got) != 2 || got[0].Color != "#e74c3c" || got[1].Color != colors.GroupColor(1) {
		t.Fatalf("groups = %+v", got)
	}
}

func TestGroupsCarryTheme(t *testing.T) {
	order := []config.Group{{Name: "Work", Theme: config.Theme{
		Bg: "#e74c3c", Fg: "#000000", ActiveBg: "#c0392b", ActiveFg: "#ffffff", Icon: "W",
	}}}
	got := New(order, nil).Groups(order)[0]
	want := tabs.Group{
		ID: "Work", Title: "Work", Color: "#e74c3c",
		TextColor: "#000000", ActiveColor: "#c0392b", ActiveTextColor: "#ffffff", Icon: "W",
	}
	if got != want {
		t.Fatalf("group = %+v, want %+v", got, want)
	}
}
