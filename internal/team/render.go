package team

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"raidbot/internal/command"
	"raidbot/internal/config"
	"raidbot/internal/transport"
	logx "raidbot/pkg/logx"
)

const (
	colorSignup    = 0x5865F2
	colorEditing   = 0xFEE75C
	colorConfirmed = 0x57F287

	statusField   = "Status"
	editingPrefix = "Editing: "

	buttonsPerRow    = 5
	maxMemberButtons = config.MaxTeamMembers
	maxLabelLen      = 80
)

var mentionRe = regexp.MustCompile(`<@!?(\d+)>`)

// parseMentions returns the user ids mentioned in s, in order, without duplicates.
func parseMentions(s string) []string {
	var out []string
	seen := map[string]bool{}
	for _, m := range mentionRe.FindAllStringSubmatch(s, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			out = append(out, m[1])
		}
	}
	return out
}

func mentionList(ids []string) string {
	if len(ids) == 0 {
		return "Nobody yet."
	}
	var b strings.Builder
	for i, id := range ids {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%d. <@%s>", i+1, id)
	}
	return b.String()
}

func signupView(b config.BossConfig, ids []string) transport.MessageSend {
	return transport.MessageSend{
		Embeds: []transport.Embed{{
			Title:       b.Name,
			Description: mentionList(ids),
			Footer:      signupFooter(len(ids), b.MaxSignups),
			Thumbnail:   b.Thumbnail,
			Color:       colorSignup,
		}},
		Components: []transport.ActionRow{{Buttons: []transport.Button{
			{Label: "Sign up", Style: transport.ButtonSuccess, CustomID: command.MustCustomID(ActSignup, b.MaxSignups)},
			{Label: "Quit", Style: transport.ButtonSecondary, CustomID: command.MustCustomID(ActQuit)},
			{Label: "Finalize", Style: transport.ButtonPrimary, CustomID: command.MustCustomID(ActFinalize, b.TeamSize)},
		}}},
	}
}

func signupFooter(n, limit int) string {
	if limit > 0 {
		return fmt.Sprintf("%d/%d signed up", n, limit)
	}
	return fmt.Sprintf("%d signed up", n)
}

// withSignups re-renders msg with a new participant list, keeping everything else.
func withSignups(msg *transport.Message, ids []string, limit int) transport.MessageSend {
	out := resend(msg)
	e := &out.Embeds[0]
	e.Description = mentionList(ids)
	e.Footer = signupFooter(len(ids), limit)
	return out
}

// markEditing disables every button on msg and records who is editing it.
func markEditing(msg *transport.Message, editorID string) transport.MessageSend {
	out := resend(msg)
	e := &out.Embeds[0]
	e.Fields = append(withoutStatus(e.Fields), transport.EmbedField{
		Name:  statusField,
		Value: fmt.Sprintf("Being finalized by <@%s>", editorID),
	})
	setDisabled(out.Components, true)
	return out
}

// restore undoes markEditing.
func restore(msg *transport.Message) transport.MessageSend {
	out := resend(msg)
	if len(out.Embeds) > 0 {
		out.Embeds[0].Fields = withoutStatus(out.Embeds[0].Fields)
	}
	setDisabled(out.Components, false)
	return out
}

func confirmedView(orig *transport.Embed, selected []string, size int) transport.MessageSend {
	e := transport.Embed{
		Description: mentionList(selected),
		Footer:      fmt.Sprintf("Team confirmed, %d/%d", len(selected), size),
		Color:       colorConfirmed,
	}
	if orig != nil {
		e.Title = orig.Title
		e.Thumbnail = orig.Thumbnail
	}
	return transport.MessageSend{
		Embeds: []transport.Embed{e},
		Components: []transport.ActionRow{{Buttons: []transport.Button{
			{Label: "Edit team", Style: transport.ButtonSecondary, CustomID: command.MustCustomID(ActEdit, size)},
		}}},
	}
}

// editorView is the private editing surface. Selected members get a remove
// button, the rest of the pool an add button. Ids without a name (members
// who left the guild) stay listed but get no button.
func editorView(title string, meta Meta, size int, selected, pool []string, names map[string]string) transport.MessageSend {
	rest := difference(pool, selected)
	restText := "Nobody."
	if len(rest) > 0 {
		restText = mentionList(rest)
	}
	e := transport.Embed{
		Title:       editingPrefix + title,
		Description: mentionList(selected),
		Footer:      EncodeMeta(meta),
		Color:       colorEditing,
		Fields: []transport.EmbedField{
			{Name: "Team", Value: fmt.Sprintf("%d/%d selected", len(selected), size), Inline: true},
			{Name: "Not selected", Value: restText},
		},
	}

	var buttons []transport.Button
	add := func(label string, style transport.ButtonStyle, action, uid string) {
		name, ok := names[uid]
		if !ok || len(buttons) >= maxMemberButtons {
			return
		}
		buttons = append(buttons, transport.Button{
			Label:    truncate(label+" "+name, maxLabelLen),
			Style:    style,
			CustomID: command.MustCustomID(action, size, uid),
		})
	}
	for _, uid := range selected {
		add("Remove", transport.ButtonDanger, ActRemove, uid)
	}
	for _, uid := range rest {
		add("Add", transport.ButtonSuccess, ActAdd, uid)
	}

	var rows []transport.ActionRow
	for len(buttons) > 0 {
		n := min(buttonsPerRow, len(buttons))
		rows = append(rows, transport.ActionRow{Buttons: buttons[:n]})
		buttons = buttons[n:]
	}
	rows = append(rows, transport.ActionRow{Buttons: []transport.Button{
		{Label: "Confirm", Style: transport.ButtonPrimary, CustomID: command.MustCustomID(ActConfirm, size)},
		{Label: "Cancel", Style: transport.ButtonSecondary, CustomID: command.MustCustomID(ActCancel)},
	}})
	return transport.MessageSend{Embeds: []transport.Embed{e}, Components: rows}
}

// resolveNames maps ids to display names. Ids of users who are no longer
// members are left out.
func resolveNames(ctx context.Context, p transport.Adapter, guildID string, ids []string, log logx.Logger) map[string]string {
	out := make(map[string]string, len(ids))
	for _, id := range ids {
		m, err := p.Member(ctx, guildID, id)
		switch {
		case errors.Is(err, transport.ErrNotFound):
			log.Debug("team member left the guild", logx.String("member_id", id))
		case err != nil:
			log.Warn("member lookup failed", logx.String("member_id", id), logx.Err(err))
			out[id] = id
		case m.DisplayName != "":
			out[id] = m.DisplayName
		default:
			out[id] = id
		}
	}
	return out
}

func resend(msg *transport.Message) transport.MessageSend {
	out := transport.MessageSend{Content: msg.Content}
	for _, e := range msg.Embeds {
		e.Fields = append([]transport.EmbedField(nil), e.Fields...)
		out.Embeds = append(out.Embeds, e)
	}
	for _, r := range msg.Components {
		out.Components = append(out.Components, transport.ActionRow{Buttons: append([]transport.Button(nil), r.Buttons...)})
	}
	return out
}

func withoutStatus(fields []transport.EmbedField) []transport.EmbedField {
	out := fields[:0:0]
	for _, f := range fields {
		if f.Name != statusField {
			out = append(out, f)
		}
	}
	return out
}

func setDisabled(rows []transport.ActionRow, disabled bool) {
	for i := range rows {
		for j := range rows[i].Buttons {
			rows[i].Buttons[j].Disabled = disabled
		}
	}
}

func difference(all, minus []string) []string {
	var out []string
	for _, id := range all {
		if !contains(minus, id) {
			out = append(out, id)
		}
	}
	return out
}

// inOrder returns the members of set ordered as they appear in pool.
func inOrder(pool, set []string) []string {
	var out []string
	for _, id := range pool {
		if contains(set, id) {
			out = append(out, id)
		}
	}
	return out
}

func contains(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

func relTime(t, now time.Time) string {
	return humanize.RelTime(t, now, "ago", "from now")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
