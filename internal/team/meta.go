package team

import (
	"strconv"
	"strings"

	"raidbot/internal/command"
)

// Meta ties a private editor message back to the public team message.
// On the wire it is the editor's footer text:
// "{guildID},{channelID},{originalMessageID},{confirmedBefore}".
type Meta struct {
	GuildID         string
	ChannelID       string
	MessageID       string
	ConfirmedBefore bool
}

func EncodeMeta(m Meta) string {
	return strings.Join([]string{m.GuildID, m.ChannelID, m.MessageID, strconv.FormatBool(m.ConfirmedBefore)}, ",")
}

// ParseMeta decodes footer text. Anything that is not exactly four fields
// with numeric ids and a boolean flag reports false.
func ParseMeta(s string) (Meta, bool) {
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) != 4 {
		return Meta{}, false
	}
	for _, id := range parts[:3] {
		if !command.IsSnowflake(id) {
			return Meta{}, false
		}
	}
	confirmed, err := strconv.ParseBool(parts[3])
	if err != nil {
		return Meta{}, false
	}
	return Meta{GuildID: parts[0], ChannelID: parts[1], MessageID: parts[2], ConfirmedBefore: confirmed}, true
}
