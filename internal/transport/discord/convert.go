package discord

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/bwmarrin/discordgo"

	"raidbot/internal/transport"
)

var adminPerm int64 = discordgo.PermissionAdministrator

// mapErr folds "unknown message/channel/member" API errors into
// transport.ErrNotFound.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var rest *discordgo.RESTError
	if !errors.As(err, &rest) {
		return err
	}
	if rest.Response != nil && rest.Response.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %v", transport.ErrNotFound, err)
	}
	if rest.Message != nil {
		switch rest.Message.Code {
		case discordgo.ErrCodeUnknownMessage, discordgo.ErrCodeUnknownChannel, discordgo.ErrCodeUnknownMember, discordgo.ErrCodeUnknownUser:
			return fmt.Errorf("%w: %v", transport.ErrNotFound, err)
		}
	}
	return err
}

func fromInteraction(i *discordgo.Interaction) (transport.Interaction, bool) {
	it := transport.Interaction{
		ID:        i.ID,
		Token:     i.Token,
		GuildID:   i.GuildID,
		ChannelID: i.ChannelID,
	}
	switch {
	case i.Member != nil && i.Member.User != nil:
		it.UserID = i.Member.User.ID
		it.Username = i.Member.User.Username
		it.MemberRoles = append([]string(nil), i.Member.Roles...)
		it.IsAdmin = i.Member.Permissions&discordgo.PermissionAdministrator != 0
	case i.User != nil:
		it.UserID = i.User.ID
		it.Username = i.User.Username
	default:
		return it, false
	}

	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		d := i.ApplicationCommandData()
		it.Kind = transport.InteractionCommand
		it.Command = &transport.CommandData{Name: d.Name, Options: fromOptions(d.Options)}
	case discordgo.InteractionMessageComponent:
		d := i.MessageComponentData()
		it.Kind = transport.InteractionComponent
		it.Component = &transport.ComponentData{CustomID: d.CustomID, Message: fromMessage(i.Message)}
	default:
		return it, false
	}
	return it, true
}

func fromOptions(opts []*discordgo.ApplicationCommandInteractionDataOption) []transport.OptionNode {
	if len(opts) == 0 {
		return nil
	}
	out := make([]transport.OptionNode, 0, len(opts))
	for _, o := range opts {
		if o == nil {
			continue
		}
		n := transport.OptionNode{Name: o.Name}
		switch o.Type {
		case discordgo.ApplicationCommandOptionSubCommand:
			n.Kind = transport.OptionSubCommand
			n.Options = fromOptions(o.Options)
		case discordgo.ApplicationCommandOptionSubCommandGroup:
			n.Kind = transport.OptionSubCommandGroup
			n.Options = fromOptions(o.Options)
		default:
			n.Kind = transport.OptionValue
			n.Value = optionValue(o.Value)
		}
		out = append(out, n)
	}
	return out
}

// optionValue renders a decoded JSON option value as the binder expects it.
func optionValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}

func fromMessage(m *discordgo.Message) *transport.Message {
	if m == nil {
		return nil
	}
	out := &transport.Message{
		ID:        m.ID,
		ChannelID: m.ChannelID,
		GuildID:   m.GuildID,
		Content:   m.Content,
	}
	if m.Author != nil {
		out.AuthorID = m.Author.ID
	}
	for _, e := range m.Embeds {
		if e == nil {
			continue
		}
		te := transport.Embed{Title: e.Title, Description: e.Description, Color: e.Color}
		if e.Footer != nil {
			te.Footer = e.Footer.Text
		}
		if e.Thumbnail != nil {
			te.Thumbnail = e.Thumbnail.URL
		}
		for _, f := range e.Fields {
			if f != nil {
				te.Fields = append(te.Fields, transport.EmbedField{Name: f.Name, Value: f.Value, Inline: f.Inline})
			}
		}
		out.Embeds = append(out.Embeds, te)
	}
	for _, c := range m.Components {
		var row []discordgo.MessageComponent
		switch r := c.(type) {
		case *discordgo.ActionsRow:
			row = r.Components
		case discordgo.ActionsRow:
			row = r.Components
		default:
			continue
		}
		var tr transport.ActionRow
		for _, bc := range row {
			var b discordgo.Button
			switch x := bc.(type) {
			case *discordgo.Button:
				b = *x
			case discordgo.Button:
				b = x
			default:
				continue
			}
			tr.Buttons = append(tr.Buttons, transport.Button{
				Label:    b.Label,
				Style:    fromButtonStyle(b.Style),
				CustomID: b.CustomID,
				Disabled: b.Disabled,
			})
		}
		out.Components = append(out.Components, tr)
	}
	return out
}

func fromMember(m *discordgo.Member) *transport.Member {
	out := &transport.Member{Roles: append([]string(nil), m.Roles...)}
	if m.User != nil {
		out.UserID = m.User.ID
		out.DisplayName = m.User.Username
		if m.User.GlobalName != "" {
			out.DisplayName = m.User.GlobalName
		}
	}
	if m.Nick != "" {
		out.DisplayName = m.Nick
	}
	return out
}

func toEmbeds(in []transport.Embed) []*discordgo.MessageEmbed {
	if len(in) == 0 {
		return []*discordgo.MessageEmbed{}
	}
	out := make([]*discordgo.MessageEmbed, 0, len(in))
	for _, e := range in {
		de := &discordgo.MessageEmbed{Title: e.Title, Description: e.Description, Color: e.Color}
		if e.Footer != "" {
			de.Footer = &discordgo.MessageEmbedFooter{Text: e.Footer}
		}
		if e.Thumbnail != "" {
			de.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: e.Thumbnail}
		}
		for _, f := range e.Fields {
			de.Fields = append(de.Fields, &discordgo.MessageEmbedField{Name: f.Name, Value: f.Value, Inline: f.Inline})
		}
		out = append(out, de)
	}
	return out
}

func toComponents(rows []transport.ActionRow) []discordgo.MessageComponent {
	out := make([]discordgo.MessageComponent, 0, len(rows))
	for _, r := range rows {
		if len(r.Buttons) == 0 {
			continue
		}
		row := discordgo.ActionsRow{}
		for _, b := range r.Buttons {
			row.Components = append(row.Components, discordgo.Button{
				Label:    b.Label,
				Style:    toButtonStyle(b.Style),
				CustomID: b.CustomID,
				Disabled: b.Disabled,
			})
		}
		out = append(out, row)
	}
	return out
}

func toButtonStyle(s transport.ButtonStyle) discordgo.ButtonStyle {
	switch s {
	case transport.ButtonSecondary:
		return discordgo.SecondaryButton
	case transport.ButtonSuccess:
		return discordgo.SuccessButton
	case transport.ButtonDanger:
		return discordgo.DangerButton
	default:
		return discordgo.PrimaryButton
	}
}

func fromButtonStyle(s discordgo.ButtonStyle) transport.ButtonStyle {
	switch s {
	case discordgo.SecondaryButton:
		return transport.ButtonSecondary
	case discordgo.SuccessButton:
		return transport.ButtonSuccess
	case discordgo.DangerButton:
		return transport.ButtonDanger
	default:
		return transport.ButtonPrimary
	}
}

func toApplicationCommands(specs []transport.CommandSpec) []*discordgo.ApplicationCommand {
	out := make([]*discordgo.ApplicationCommand, 0, len(specs))
	for _, s := range specs {
		c := &discordgo.ApplicationCommand{
			Name:        s.Name,
			Description: s.Description,
			Options:     toOptionSpecs(s.Options),
		}
		if s.AdminOnly {
			c.DefaultMemberPermissions = &adminPerm
		}
		out = append(out, c)
	}
	return out
}

func toOptionSpecs(in []transport.OptionSpec) []*discordgo.ApplicationCommandOption {
	if len(in) == 0 {
		return nil
	}
	out := make([]*discordgo.ApplicationCommandOption, 0, len(in))
	for _, o := range in {
		typ := toOptionType(o.Type)
		do := &discordgo.ApplicationCommandOption{
			Type:        typ,
			Name:        o.Name,
			Description: o.Description,
			Required:    o.Required,
			Options:     toOptionSpecs(o.Options),
		}
		for _, ch := range o.Choices {
			var v any = ch.Value
			if typ == discordgo.ApplicationCommandOptionInteger {
				if n, err := strconv.ParseInt(ch.Value, 10, 64); err == nil {
					v = n
				}
			}
			do.Choices = append(do.Choices, &discordgo.ApplicationCommandOptionChoice{Name: ch.Name, Value: v})
		}
		out = append(out, do)
	}
	return out
}

func toOptionType(t transport.OptionType) discordgo.ApplicationCommandOptionType {
	switch t {
	case transport.OptionTypeInteger:
		return discordgo.ApplicationCommandOptionInteger
	case transport.OptionTypeBoolean:
		return discordgo.ApplicationCommandOptionBoolean
	case transport.OptionTypeUser:
		return discordgo.ApplicationCommandOptionUser
	case transport.OptionTypeChannel:
		return discordgo.ApplicationCommandOptionChannel
	case transport.OptionTypeRole:
		return discordgo.ApplicationCommandOptionRole
	case transport.OptionTypeSubCommand:
		return discordgo.ApplicationCommandOptionSubCommand
	case transport.OptionTypeSubCommandGroup:
		return discordgo.ApplicationCommandOptionSubCommandGroup
	default:
		return discordgo.ApplicationCommandOptionString
	}
}
