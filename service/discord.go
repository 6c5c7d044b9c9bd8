package service

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/pugmate/pugmate/server"
)

// promptEmojis is the reaction alphabet for interactive prompts; option i
// of a prompt is answered by reacting with emoji i.
var promptEmojis = []string{"✅", "❌", "1️⃣", "2️⃣", "3️⃣", "4️⃣", "5️⃣", "6️⃣", "7️⃣", "8️⃣", "9️⃣", "🔟"}

type activePrompt struct {
	channelID string
	messageID string
	options   []string // index-aligned with promptEmojis
}

// DiscordBot is the chat-platform adapter. It implements server.Messenger
// and server.IdentityProvider, translates text commands into core calls
// and reaction events into prompt responses.
type DiscordBot struct {
	logger  *zap.Logger
	config  *server.Config
	session *discordgo.Session

	core *server.Core

	mu      sync.Mutex
	prompts map[uuid.UUID]*activePrompt
}

func NewDiscordBot(config *server.Config, logger *zap.Logger) (*DiscordBot, error) {
	session, err := discordgo.New("Bot " + config.Discord.Token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMessageReactions |
		discordgo.IntentsDirectMessages
	return &DiscordBot{
		logger:  logger,
		config:  config,
		session: session,
		prompts: make(map[uuid.UUID]*activePrompt),
	}, nil
}

// SetCore attaches the core; the bot is constructed first because the core
// takes the bot as its Messenger.
func (b *DiscordBot) SetCore(core *server.Core) { b.core = core }

// Start opens the gateway connection and registers event handlers.
func (b *DiscordBot) Start(ctx context.Context) error {
	b.session.AddHandlerOnce(func(s *discordgo.Session, r *discordgo.Ready) {
		b.logger.Info("Discord connection established", zap.String("username", r.User.Username))
	})
	b.session.AddHandler(b.onMessageCreate)
	b.session.AddHandler(b.onReactionAdd)
	b.session.AddHandler(b.onReactionRemove)
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}
	go func() {
		<-ctx.Done()
		b.session.Close()
	}()
	return nil
}

func (b *DiscordBot) player(member *discordgo.Member, user *discordgo.User) server.Player {
	nick := user.Username
	if member != nil && member.Nick != "" {
		nick = member.Nick
	}
	var roles []string
	if member != nil {
		roles = member.Roles
	}
	return server.Player{ID: user.ID, Nick: nick, Roles: roles}
}

// Notify implements server.Messenger.
func (b *DiscordBot) Notify(audience server.Audience, text string) {
	if audience.Direct {
		for _, playerID := range audience.PlayerIDs {
			channel, err := b.session.UserChannelCreate(playerID)
			if err != nil {
				b.logger.Warn("Failed to open DM channel", zap.String("user_id", playerID), zap.Error(err))
				continue
			}
			if _, err := b.session.ChannelMessageSend(channel.ID, text); err != nil {
				b.logger.Warn("Failed to send DM", zap.String("user_id", playerID), zap.Error(err))
			}
		}
		return
	}

	var mentions []string
	for _, playerID := range audience.PlayerIDs {
		mentions = append(mentions, "<@"+playerID+">")
	}
	if audience.RoleID != "" {
		mentions = append(mentions, "<@&"+audience.RoleID+">")
	}
	if len(mentions) > 0 {
		text = strings.Join(mentions, " ") + " " + text
	}
	if _, err := b.session.ChannelMessageSend(audience.ChannelID, text); err != nil {
		b.logger.Warn("Failed to send channel message", zap.String("channel_id", audience.ChannelID), zap.Error(err))
	}
}

// Prompt implements server.Messenger: posts the prompt message, seeds one
// reaction per option and remembers the message so reactions can be routed
// back.
func (b *DiscordBot) Prompt(audience server.Audience, token uuid.UUID, text string, options []string) {
	if len(options) > len(promptEmojis) {
		options = options[:len(promptEmojis)]
	}
	var legend []string
	for i, option := range options {
		legend = append(legend, fmt.Sprintf("%s %s", promptEmojis[i], option))
	}
	body := text + "\n" + strings.Join(legend, " | ")

	b.mu.Lock()
	if previous, ok := b.prompts[token]; ok {
		// Refresh: edit in place, reactions stay valid.
		b.mu.Unlock()
		if _, err := b.session.ChannelMessageEdit(previous.channelID, previous.messageID, body); err != nil {
			b.logger.Warn("Failed to refresh prompt", zap.Error(err))
		}
		return
	}
	b.mu.Unlock()

	message, err := b.session.ChannelMessageSend(audience.ChannelID, body)
	if err != nil {
		b.logger.Warn("Failed to send prompt", zap.String("channel_id", audience.ChannelID), zap.Error(err))
		return
	}
	for i := range options {
		if err := b.session.MessageReactionAdd(audience.ChannelID, message.ID, promptEmojis[i]); err != nil {
			b.logger.Warn("Failed to seed prompt reaction", zap.Error(err))
		}
	}

	b.mu.Lock()
	b.prompts[token] = &activePrompt{channelID: audience.ChannelID, messageID: message.ID, options: options}
	b.mu.Unlock()
}

// Retract implements server.Messenger.
func (b *DiscordBot) Retract(token uuid.UUID) {
	b.mu.Lock()
	prompt, ok := b.prompts[token]
	delete(b.prompts, token)
	b.mu.Unlock()
	if !ok {
		return
	}
	if err := b.session.MessageReactionsRemoveAll(prompt.channelID, prompt.messageID); err != nil {
		b.logger.Warn("Failed to clear prompt reactions", zap.Error(err))
	}
}

// IsModerator implements server.IdentityProvider using the channel's
// configured moderator role.
func (b *DiscordBot) IsModerator(channelID, playerID string) bool {
	channel, ok := b.core.Channel(channelID)
	if !ok || channel.Config.ModeratorRoleID == "" {
		return false
	}
	guildChannel, err := b.session.Channel(channelID)
	if err != nil {
		return false
	}
	member, err := b.session.GuildMember(guildChannel.GuildID, playerID)
	if err != nil {
		return false
	}
	for _, role := range member.Roles {
		if role == channel.Config.ModeratorRoleID {
			return true
		}
	}
	return false
}

func (b *DiscordBot) promptByMessage(messageID string) (uuid.UUID, *activePrompt, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for token, prompt := range b.prompts {
		if prompt.messageID == messageID {
			return token, prompt, true
		}
	}
	return uuid.Nil, nil, false
}

func (b *DiscordBot) routeReaction(reaction *discordgo.MessageReaction, removed bool) {
	token, prompt, ok := b.promptByMessage(reaction.MessageID)
	if !ok {
		return
	}
	for i, emoji := range promptEmojis[:len(prompt.options)] {
		if reaction.Emoji.Name == emoji {
			b.core.HandlePromptResponse(context.Background(), token, reaction.UserID, prompt.options[i], removed)
			return
		}
	}
}

func (b *DiscordBot) onReactionAdd(s *discordgo.Session, e *discordgo.MessageReactionAdd) {
	if e.UserID == s.State.User.ID {
		return
	}
	b.routeReaction(e.MessageReaction, false)
}

func (b *DiscordBot) onReactionRemove(s *discordgo.Session, e *discordgo.MessageReactionRemove) {
	if e.UserID == s.State.User.ID {
		return
	}
	b.routeReaction(e.MessageReaction, true)
}
