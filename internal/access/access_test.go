package access

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"raidbot/internal/command"
	"raidbot/internal/eventbus"
	"raidbot/internal/transport"
	logx "raidbot/pkg/logx"
)

func TestStorePersistsAndReloads(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "permissions.yaml")
	s, err := Open(path, logx.Nop(), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if got := s.RolesRequiredFor("g", "team", ""); len(got) != 0 {
		t.Fatalf("empty store returned %v", got)
	}

	if added, err := s.AddRole("g", "team", "team-finalize", "r1"); err != nil || !added {
		t.Fatalf("AddRole = %v, %v", added, err)
	}
	if added, _ := s.AddRole("g", "team", "team-finalize", "r1"); added {
		t.Fatal("duplicate role added")
	}
	_, _ = s.AddRole("g", "team", "", "r2")

	s2, err := Open(path, logx.Nop(), eventbus.New())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if got := s2.RolesRequiredFor("g", "team", "team-finalize"); len(got) != 1 || got[0] != "r1" {
		t.Fatalf("reloaded roles = %v", got)
	}
	rules := s2.Rules("g")
	if len(rules) != 2 || rules[0].Action != "" || rules[1].Action != "team-finalize" {
		t.Fatalf("Rules = %+v", rules)
	}

	if cleared, err := s2.Clear("g", "team", "team-finalize"); err != nil || !cleared {
		t.Fatalf("Clear = %v, %v", cleared, err)
	}
	if cleared, _ := s2.Clear("g", "team", "team-finalize"); cleared {
		t.Fatal("second clear reported change")
	}
}

func TestFailedSaveKeepsRolesUnchanged(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "permissions.yaml")
	s, err := Open(path, logx.Nop(), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := s.AddRole("g", "team", "team-finalize", "r1"); err != nil {
		t.Fatalf("AddRole: %v", err)
	}

	// A directory at the temp path makes the next write fail.
	if err := os.Mkdir(path+".tmp", 0o755); err != nil {
		t.Fatal(err)
	}
	if added, err := s.AddRole("g", "team", "team-finalize", "r2"); err == nil || added {
		t.Fatalf("AddRole = %v, %v, want write error", added, err)
	}
	if cleared, err := s.Clear("g", "team", "team-finalize"); err == nil || cleared {
		t.Fatalf("Clear = %v, %v, want write error", cleared, err)
	}
	if got := s.RolesRequiredFor("g", "team", "team-finalize"); len(got) != 1 || got[0] != "r1" {
		t.Fatalf("roles after failed saves = %v, want [r1]", got)
	}

	if err := os.Remove(path + ".tmp"); err != nil {
		t.Fatal(err)
	}
	if err := s.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if got := s.RolesRequiredFor("g", "team", "team-finalize"); len(got) != 1 || got[0] != "r1" {
		t.Fatalf("roles on disk = %v, want [r1]", got)
	}
}

func TestOpenRejectsBadYAML(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "permissions.yaml")
	if err := os.WriteFile(path, []byte("guilds: [oops"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(path, logx.Nop(), nil); err == nil {
		t.Fatal("expected parse error")
	}
}

type recordingResponder struct {
	mu    sync.Mutex
	resps []transport.Response
}

func (r *recordingResponder) Respond(_ context.Context, resp transport.Response) (transport.MessageRef, error) {
	r.mu.Lock()
	r.resps = append(r.resps, resp)
	r.mu.Unlock()
	return transport.MessageRef{}, nil
}

func testRegistry(t *testing.T, s *Store) *command.Registry {
	t.Helper()
	nop := command.HandlerFunc(func(context.Context, *command.Request) error { return nil })
	cmds := append(Commands(s),
		command.Command{Name: "team", Description: "Teams"},
		command.Command{Name: "signup", Parent: "team", Handler: nop, Actions: []string{"team-signup", "team-finalize"}},
	)
	acts := []command.Action{
		{Name: "team-signup", Handler: nop},
		{Name: "team-finalize", Handler: nop},
	}
	r, err := command.NewRegistry(cmds, acts)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return r
}

func TestRequireOptionTreePerCommand(t *testing.T) {
	t.Parallel()

	s, _ := Open("", logx.Nop(), nil)
	r := testRegistry(t, s)
	tree := requireOptionTree(context.Background(), r)
	var team *transport.OptionSpec
	for i := range tree {
		if tree[i].Name == "team" {
			team = &tree[i]
		}
	}
	if team == nil {
		t.Fatalf("no team sub-command in %+v", tree)
	}
	var values []string
	for _, c := range team.Options[0].Choices {
		values = append(values, c.Value)
	}
	if strings.Join(values, ",") != "*,team-finalize,team-signup" {
		t.Fatalf("choices = %v", values)
	}
}

func TestRequireHandler(t *testing.T) {
	t.Parallel()

	s, _ := Open("", logx.Nop(), nil)
	r := testRegistry(t, s)
	rec := &recordingResponder{}
	req := &command.Request{GuildID: "g", Registry: r, Responder: rec}

	node := transport.OptionNode{Name: "team", Kind: transport.OptionSubCommand, Options: []transport.OptionNode{
		{Name: "action", Value: "team-finalize"},
		{Name: "role", Value: "555"},
	}}
	if err := (requireHandler{s: s}).HandleSubCommand(context.Background(), req, []transport.OptionNode{node}); err != nil {
		t.Fatalf("HandleSubCommand: %v", err)
	}
	if got := s.RolesRequiredFor("g", "team", "team-finalize"); len(got) != 1 || got[0] != "555" {
		t.Fatalf("roles = %v", got)
	}
	if len(rec.resps) != 1 || !rec.resps[0].Ephemeral {
		t.Fatalf("responses = %+v", rec.resps)
	}

	node.Options[0].Value = "ghost-action"
	err := (requireHandler{s: s}).HandleSubCommand(context.Background(), req, []transport.OptionNode{node})
	if _, ok := command.UserMessage(err); !ok {
		t.Fatalf("unknown action err = %v", err)
	}

	node.Options[0].Value = CommandScope
	if err := (requireHandler{s: s}).HandleSubCommand(context.Background(), req, []transport.OptionNode{node}); err != nil {
		t.Fatal(err)
	}
	if got := s.RolesRequiredFor("g", "team", ""); len(got) != 1 {
		t.Fatalf("command-level roles = %v", got)
	}
}
