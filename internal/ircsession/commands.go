package ircsession

import (
	"fmt"
	"strings"
)

const versionReply = "KGB relay"
const sourceReply = "https://github.com/kgbrelay/kgb"

// handleCTCP answers VERSION/USERINFO/CLIENTINFO/SOURCE with fixed strings
// (spec.md §4.7 "CTCP"); anything else is ignored.
func (s *Session) handleCTCP(prefix, target, payload string) {
	nick := Nick(prefix)
	if nick == "" {
		return
	}
	fields := strings.Fields(payload)
	if len(fields) == 0 {
		return
	}

	var reply string
	switch strings.ToUpper(fields[0]) {
	case "VERSION":
		reply = versionReply
	case "USERINFO":
		reply = "KGB commit relay bot"
	case "CLIENTINFO":
		reply = "VERSION USERINFO CLIENTINFO SOURCE"
	case "SOURCE":
		reply = sourceReply
	default:
		return
	}
	s.send(EncodeLine("NOTICE", nick, ctcpDelim+strings.Fields(payload)[0]+" "+reply+ctcpDelim))
}

// dispatchCommand implements the bot-addressed/private command grammar
// (spec.md §4.7 "Bot-addressed & private messages"). Only two commands
// exist; anything addressed to the bot that isn't a bangword and isn't
// from an admin gets a smart answer instead.
func (s *Session) dispatchCommand(senderMask, target, command string, isChannel bool) string {
	command = strings.TrimSpace(command)
	if command == "" {
		return ""
	}

	if strings.HasPrefix(command, "!") {
		word := strings.Fields(command)[0]
		if strings.EqualFold(word, "!version") {
			return fmt.Sprintf("Tried /CTCP %s VERSION?", s.currentNick())
		}
		return fmt.Sprintf("command '%s' is not known", word)
	}

	s.mu.RLock()
	full := s.cfgFull
	network := s.Network
	s.mu.RUnlock()
	if full == nil || full.IsAdmin(network, senderMask) {
		return ""
	}

	channel := target
	if !isChannel {
		channel = ""
	}
	return s.smartAnswer(channel)
}

// smartAnswer picks a random reply from the channel-scope pool, falling
// back to the global pool (spec.md §4.7). A polygen-like oracle would
// replace the random pick when smart_answers_polygen is set and such an
// oracle is configured; no such oracle ships with this relay, so that path
// always falls through to the plain pick.
func (s *Session) smartAnswer(channel string) string {
	s.mu.RLock()
	full := s.cfgFull
	network := s.Network
	s.mu.RUnlock()
	if full == nil {
		return ""
	}
	pool := full.SmartAnswersFor(network, channel)
	if len(pool) == 0 {
		return ""
	}
	return pool[s.rand.Intn(len(pool))]
}
