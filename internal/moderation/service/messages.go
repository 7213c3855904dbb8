package service

import "maps"

// Message keys. Operators override any of them under `messages:` in the
// config file.
const (
	msgUsage             = "usage"
	msgNoPermission      = "no-permission"
	msgPlayerNotFound    = "player-not-found"
	msgPlayerOnly        = "player-only"
	msgInvalidDuration   = "invalid-duration"
	msgReasonUnspecified = "reason-unspecified"

	msgKickSuccess = "kick-success"
	msgKickTarget  = "kick-target"

	msgMuteSuccess = "mute-success"
	msgMuteTarget  = "mute-target"
	msgMuteBlocked = "mute-blocked"
	msgMuteExpired = "mute-expired"

	msgBanSuccess = "ban-success"
	msgBanTarget  = "ban-target"
	msgBanKick    = "ban-kick"

	msgCheckAlready        = "check-already"
	msgCheckSuccess        = "check-success"
	msgCheckTarget         = "check-target"
	msgCheckNotFound       = "check-not-found"
	msgCheckTitle          = "check-title"
	msgCheckSubtitle       = "check-subtitle"
	msgCheckBanAuto        = "check-ban-auto"
	msgCheckFormat         = "check.format"
	msgCheckAddTimeSuccess = "checkaddtime-success"
	msgCheckAddTimeTarget  = "checkaddtime-target"
	msgCheckReviseSuccess  = "checkrevise-success"
	msgCheckReviseTarget   = "checkrevise-target"
	msgCheckBanSuccess     = "checkban-success"
	msgCheckBanTarget      = "checkban-target"
	msgCheckBanPrizSuccess = "checkbanpriz-success"
	msgCheckBanPrizTarget  = "checkbanpriz-target"
	msgNoTeleport          = "no-teleport"

	msgDupeIPHeader      = "dupeip-header"
	msgDupeIPEntry       = "dupeip-entry"
	msgDupeIPBannedEntry = "dupeip-entry-banned"
	msgDupeIPUnknown     = "dupeip-unknown"

	msgBanInfoBanned    = "baninfo-banned"
	msgBanInfoNotBanned = "baninfo-not-banned"
	msgUnbanNotBanned   = "unban-not-banned"
	msgUnbanSuccess     = "unban-success"

	msgChatEnabled  = "chat-enabled"
	msgChatDisabled = "chat-disabled"
	msgChatUsage    = "chat-usage"
	msgChatFormat   = "chat.format"

	msgHelpHeader = "help-header"

	linesHelpCommands = "help-commands"
)

var defaultMessages = map[string]string{
	msgUsage:             "Usage: /warden <kick|chat|mute|ban|check|checkaddtime|checkrevise|checkban|checkbanpriz|checkchat|dupeip|baninfo|unban|help>",
	msgNoPermission:      "You do not have permission to do that.",
	msgPlayerNotFound:    "Player %player% not found.",
	msgPlayerOnly:        "Only players can use this command.",
	msgInvalidDuration:   "Invalid duration. Use a number and a unit, e.g. 30s, 5m, 1h or 4d.",
	msgReasonUnspecified: "unspecified",

	"kick-usage":   "Usage: /warden kick <name>",
	msgKickSuccess: "%player% was moved out of play.",
	msgKickTarget:  "You have been moved out of play.",

	"mute-usage":   "Usage: /warden mute <name> <reason> <duration>",
	msgMuteSuccess: "%player% muted for %duration%. Reason: %reason%",
	msgMuteTarget:  "You are muted for %duration%. Reason: %reason%",
	msgMuteBlocked: "You are muted and cannot chat.",
	msgMuteExpired: "Your mute has expired.",

	"ban-usage":   "Usage: /warden ban <name> <reason> <duration>",
	msgBanSuccess: "%player% banned for %duration%. Reason: %reason%",
	msgBanTarget:  "You are banned for %duration%. Reason: %reason%",
	msgBanKick:    "You are banned. Time left: %time%",

	"check-usage":          "Usage: /warden check <name>",
	"checkaddtime-usage":   "Usage: /warden checkaddtime <name>",
	"checkrevise-usage":    "Usage: /warden checkrevise <name>",
	"checkban-usage":       "Usage: /warden checkban <name>",
	"checkbanpriz-usage":   "Usage: /warden checkbanpriz <name>",
	"checkchat-usage":      "Usage: /warden checkchat <name> <message>",
	msgCheckAlready:        "%player% is already under review.",
	msgCheckSuccess:        "%player% has been called in for review.",
	msgCheckTarget:         "You are under review. Post your contact handle in chat.",
	msgCheckNotFound:       "%player% is not under review.",
	msgCheckTitle:          "Under review, post your contact handle",
	msgCheckSubtitle:       "Time left: %time%",
	msgCheckBanAuto:        "You were banned for %duration% because your review timed out.",
	msgCheckFormat:         "[Review] %player%: %message%",
	msgCheckAddTimeSuccess: "Review of %player% extended by %duration%.",
	msgCheckAddTimeTarget:  "Your review was extended by %duration%.",
	msgCheckReviseSuccess:  "%player% was cleared.",
	msgCheckReviseTarget:   "You have been cleared and released from review.",
	msgCheckBanSuccess:     "%player% banned for %duration% after review.",
	msgCheckBanTarget:      "You are banned for %duration% after review.",
	msgCheckBanPrizSuccess: "%player% banned for %duration% after review.",
	msgCheckBanPrizTarget:  "You are banned for %duration% after review.",
	msgNoTeleport:          "You cannot use that command during a review.",

	"dupeip-usage":       "Usage: /warden dupeip <name>",
	msgDupeIPHeader:      "Players on %ip%:",
	msgDupeIPEntry:       " - %player%",
	msgDupeIPBannedEntry: " - [banned] %player%",
	msgDupeIPUnknown:     "No address recorded for %player%.",

	"baninfo-usage":     "Usage: /warden baninfo <name>",
	"unban-usage":       "Usage: /warden unban <name>",
	msgBanInfoBanned:    "%player% is banned. Time left: %time%",
	msgBanInfoNotBanned: "%player% is not banned.",
	msgUnbanNotBanned:   "%player% is not banned.",
	msgUnbanSuccess:     "%player% was unbanned.",

	msgChatEnabled:  "Side chat enabled. Your messages now go to the side channel.",
	msgChatDisabled: "Side chat disabled.",
	msgChatUsage:    "Usage: /warden chat <message>",
	msgChatFormat:   "[Side] %player%: %message%",

	msgHelpHeader: "Moderation commands:",
}

var defaultLines = map[string][]string{
	linesHelpCommands: {
		"/warden kick <name> - move a player out of play",
		"/warden mute <name> <reason> <duration> - mute a player",
		"/warden ban <name> <reason> <duration> - ban a player",
		"/warden check <name> - start a review",
		"/warden checkaddtime <name> - extend a review",
		"/warden checkrevise <name> - clear a review",
		"/warden checkban <name> - ban after review",
		"/warden checkbanpriz <name> - ban after review, reduced",
		"/warden checkchat <name> <message> - talk in the review channel",
		"/warden dupeip <name> - list players sharing an address",
		"/warden baninfo <name> - show remaining ban time",
		"/warden unban <name> - lift a ban",
		"/warden chat [message] - toggle or write to the side channel",
	},
}

// DefaultMessages returns the built-in message templates keyed by name.
func DefaultMessages() map[string]string {
	return maps.Clone(defaultMessages)
}

// DefaultLines returns the built-in multi-line blocks.
func DefaultLines() map[string][]string {
	out := make(map[string][]string, len(defaultLines))
	for key, block := range defaultLines {
		out[key] = append([]string(nil), block...)
	}
	return out
}

func (s *Service) render(key string, values map[string]string) string {
	return s.templates.Render(key, defaultMessages[key], values)
}

func (s *Service) lines(key string) []string {
	return s.templates.Lines(key, defaultLines[key])
}
