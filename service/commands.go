package service

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/pugmate/pugmate/server"
)

// commandHandler processes one text command. args excludes the command
// word itself.
type commandHandler func(ctx context.Context, b *DiscordBot, m *discordgo.MessageCreate, args []string) error

var commandHandlers = map[string]commandHandler{
	"add":            handleAdd,
	"j":              handleAdd,
	"remove":         handleRemove,
	"l":              handleRemove,
	"who":            handleWho,
	"ready":          handleReady,
	"r":              handleReady,
	"notready":       handleNotReady,
	"discard":        handleDiscard,
	"pick":           handlePick,
	"p":              handlePick,
	"capfor":         handleCapFor,
	"rl":             handleReportLoss,
	"rd":             handleReportDraw,
	"rc":             handleReportCancel,
	"rw":             handleReportWin,
	"subme":          handleSubMe,
	"subfor":         handleSubFor,
	"put":            handlePut,
	"cancel_match":   handleCancelMatch,
	"expire":         handleExpire,
	"default_expire": handleDefaultExpire,
	"allow_dm":       handleAllowDM,
	"promote":        handlePromote,
	"start":          handleStart,
	"split":          handleSplit,
	"lb":             handleLeaderboard,
	"leaderboard":    handleLeaderboard,
	"seed":           handleSeed,
	"penalty":        handlePenalty,
	"hide":           handleHide,
	"unhide":         handleUnhide,
	"reset_ratings":  handleResetRatings,
	"snap_ratings":   handleSnapRatings,
	"undo_match":     handleUndoMatch,
	"fake_match":     handleFakeMatch,
}

func (b *DiscordBot) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	content := strings.TrimSpace(m.Content)
	ctx := context.Background()

	var err error
	switch {
	case content == "++":
		err = b.core.AddPlayer(ctx, m.ChannelID, b.player(m.Member, m.Author))
	case content == "--":
		err = b.core.RemovePlayer(ctx, m.ChannelID, m.Author.ID)
	case strings.HasPrefix(content, "+"):
		err = b.core.AddPlayer(ctx, m.ChannelID, b.player(m.Member, m.Author), strings.Fields(content[1:])...)
	case strings.HasPrefix(content, "-"):
		err = b.core.RemovePlayer(ctx, m.ChannelID, m.Author.ID, strings.Fields(content[1:])...)
	case strings.HasPrefix(content, "!"):
		fields := strings.Fields(content[1:])
		if len(fields) == 0 {
			return
		}
		handler, ok := commandHandlers[strings.ToLower(fields[0])]
		if !ok {
			return
		}
		err = handler(ctx, b, m, fields[1:])
	default:
		return
	}

	if err != nil {
		b.Notify(server.Audience{ChannelID: m.ChannelID, PlayerIDs: []string{m.Author.ID}}, err.Error())
		b.logger.Debug("Command rejected", zap.String("content", content), zap.Error(err))
	}
}

// parseMentions extracts user IDs from <@id> / <@!id> tokens in argument
// order; m.Mentions is unordered.
func parseMentions(args []string) []string {
	var ids []string
	for _, arg := range args {
		if !strings.HasPrefix(arg, "<@") || !strings.HasSuffix(arg, ">") {
			continue
		}
		id := strings.TrimSuffix(strings.TrimPrefix(strings.TrimPrefix(arg, "<@"), "!"), ">")
		if _, err := strconv.ParseUint(id, 10, 64); err == nil {
			ids = append(ids, id)
		}
	}
	return ids
}

func mentionedPlayer(m *discordgo.MessageCreate, id string) server.Player {
	for _, user := range m.Mentions {
		if user.ID == id {
			return server.Player{ID: user.ID, Nick: user.Username}
		}
	}
	return server.Player{ID: id, Nick: id}
}

func handleAdd(ctx context.Context, b *DiscordBot, m *discordgo.MessageCreate, args []string) error {
	return b.core.AddPlayer(ctx, m.ChannelID, b.player(m.Member, m.Author), args...)
}

func handleRemove(ctx context.Context, b *DiscordBot, m *discordgo.MessageCreate, args []string) error {
	return b.core.RemovePlayer(ctx, m.ChannelID, m.Author.ID, args...)
}

func handleWho(ctx context.Context, b *DiscordBot, m *discordgo.MessageCreate, args []string) error {
	b.Notify(server.Audience{ChannelID: m.ChannelID}, b.core.QueueStatus(m.ChannelID))
	return nil
}

func handleReady(ctx context.Context, b *DiscordBot, m *discordgo.MessageCreate, args []string) error {
	return b.core.SetReady(ctx, m.ChannelID, m.Author.ID, true)
}

func handleNotReady(ctx context.Context, b *DiscordBot, m *discordgo.MessageCreate, args []string) error {
	return b.core.SetReady(ctx, m.ChannelID, m.Author.ID, false)
}

func handleDiscard(ctx context.Context, b *DiscordBot, m *discordgo.MessageCreate, args []string) error {
	return b.core.DiscardCheckIn(ctx, m.ChannelID, m.Author.ID)
}

func handlePick(ctx context.Context, b *DiscordBot, m *discordgo.MessageCreate, args []string) error {
	targets := parseMentions(args)
	return b.core.Pick(ctx, m.ChannelID, m.Author.ID, targets...)
}

func handleCapFor(ctx context.Context, b *DiscordBot, m *discordgo.MessageCreate, args []string) error {
	if len(args) == 0 {
		return server.NewError(server.ValidationError, "usage: !capfor <team>")
	}
	return b.core.CapFor(ctx, m.ChannelID, b.player(m.Member, m.Author), strings.Join(args, " "))
}

func handleReportLoss(ctx context.Context, b *DiscordBot, m *discordgo.MessageCreate, args []string) error {
	return b.core.ReportLoss(ctx, m.ChannelID, m.Author.ID, server.DrawFlagNone)
}

func handleReportDraw(ctx context.Context, b *DiscordBot, m *discordgo.MessageCreate, args []string) error {
	return b.core.ReportLoss(ctx, m.ChannelID, m.Author.ID, server.DrawFlagWantsDraw)
}

func handleReportCancel(ctx context.Context, b *DiscordBot, m *discordgo.MessageCreate, args []string) error {
	return b.core.ReportLoss(ctx, m.ChannelID, m.Author.ID, server.DrawFlagWantsCancel)
}

func handleReportWin(ctx context.Context, b *DiscordBot, m *discordgo.MessageCreate, args []string) error {
	if len(args) < 2 {
		return server.NewError(server.ValidationError, "usage: !rw <match id> <team|draw>")
	}
	matchID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return server.NewError(server.ValidationError, "match id must be a number")
	}
	return b.core.ReportWin(ctx, m.ChannelID, m.Author.ID, matchID, strings.Join(args[1:], " "))
}

func handleSubMe(ctx context.Context, b *DiscordBot, m *discordgo.MessageCreate, args []string) error {
	return b.core.SubMe(ctx, m.ChannelID, m.Author.ID)
}

func handleSubFor(ctx context.Context, b *DiscordBot, m *discordgo.MessageCreate, args []string) error {
	targets := parseMentions(args)
	if len(targets) != 1 {
		return server.NewError(server.ValidationError, "usage: !subfor <@player>")
	}
	return b.core.SubFor(ctx, m.ChannelID, b.player(m.Member, m.Author), targets[0])
}

func handlePut(ctx context.Context, b *DiscordBot, m *discordgo.MessageCreate, args []string) error {
	targets := parseMentions(args)
	if len(args) < 3 || len(targets) != 1 {
		return server.NewError(server.ValidationError, "usage: !put <match id> <@player> <team>")
	}
	matchID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return server.NewError(server.ValidationError, "match id must be a number")
	}
	return b.core.Put(ctx, m.ChannelID, m.Author.ID, matchID, targets[0], args[len(args)-1])
}

func handleCancelMatch(ctx context.Context, b *DiscordBot, m *discordgo.MessageCreate, args []string) error {
	if len(args) != 1 {
		return server.NewError(server.ValidationError, "usage: !cancel_match <match id>")
	}
	matchID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return server.NewError(server.ValidationError, "match id must be a number")
	}
	return b.core.CancelMatch(ctx, m.ChannelID, m.Author.ID, matchID)
}

func handleExpire(ctx context.Context, b *DiscordBot, m *discordgo.MessageCreate, args []string) error {
	if len(args) == 0 {
		return b.core.SetExpire(ctx, m.ChannelID, m.Author.ID, 0)
	}
	after, err := time.ParseDuration(args[0])
	if err != nil {
		return server.NewError(server.ValidationError, "duration must look like 30m or 2h")
	}
	return b.core.SetExpire(ctx, m.ChannelID, m.Author.ID, after)
}

func handleDefaultExpire(ctx context.Context, b *DiscordBot, m *discordgo.MessageCreate, args []string) error {
	if len(args) == 0 {
		return b.core.SetDefaultExpire(ctx, m.Author.ID, 0)
	}
	after, err := time.ParseDuration(args[0])
	if err != nil {
		return server.NewError(server.ValidationError, "duration must look like 30m or 2h")
	}
	return b.core.SetDefaultExpire(ctx, m.Author.ID, after)
}

func handleAllowDM(ctx context.Context, b *DiscordBot, m *discordgo.MessageCreate, args []string) error {
	allow := len(args) == 0 || strings.EqualFold(args[0], "on")
	return b.core.SetAllowDM(ctx, m.Author.ID, allow)
}

func handlePromote(ctx context.Context, b *DiscordBot, m *discordgo.MessageCreate, args []string) error {
	if len(args) == 0 {
		return server.NewError(server.ValidationError, "usage: !promote <queue>")
	}
	return b.core.Promote(ctx, m.ChannelID, args[0])
}

func handleStart(ctx context.Context, b *DiscordBot, m *discordgo.MessageCreate, args []string) error {
	if len(args) == 0 {
		return server.NewError(server.ValidationError, "usage: !start <queue>")
	}
	return b.core.StartQueue(ctx, m.ChannelID, m.Author.ID, args[0])
}

func handleSplit(ctx context.Context, b *DiscordBot, m *discordgo.MessageCreate, args []string) error {
	if len(args) == 0 {
		return server.NewError(server.ValidationError, "usage: !split <queue> [group size] [sorted]")
	}
	groupSize := 0
	if len(args) > 1 {
		n, err := strconv.Atoi(args[1])
		if err != nil {
			return server.NewError(server.ValidationError, "group size must be a number")
		}
		groupSize = n
	}
	sorted := len(args) > 2 && strings.EqualFold(args[2], "sorted")
	return b.core.Split(ctx, m.ChannelID, args[0], groupSize, sorted)
}

func handleLeaderboard(ctx context.Context, b *DiscordBot, m *discordgo.MessageCreate, args []string) error {
	records, err := b.core.Leaderboard(ctx, m.ChannelID, 10)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		b.Notify(server.Audience{ChannelID: m.ChannelID}, "no rated players yet.")
		return nil
	}
	var sb strings.Builder
	for i, record := range records {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(strconv.Itoa(i+1) + ". " + record.Nick + " — " + strconv.Itoa(record.Rating))
	}
	b.Notify(server.Audience{ChannelID: m.ChannelID}, sb.String())
	return nil
}

func handleSeed(ctx context.Context, b *DiscordBot, m *discordgo.MessageCreate, args []string) error {
	targets := parseMentions(args)
	if len(args) < 2 || len(targets) != 1 {
		return server.NewError(server.ValidationError, "usage: !seed <@player> <rating> [deviation]")
	}
	ratingValue, err := strconv.Atoi(args[1])
	if err != nil {
		return server.NewError(server.ValidationError, "rating must be a number")
	}
	var deviation *int
	if len(args) > 2 {
		d, err := strconv.Atoi(args[2])
		if err != nil {
			return server.NewError(server.ValidationError, "deviation must be a number")
		}
		deviation = &d
	}
	return b.core.SeedRating(ctx, m.ChannelID, m.Author.ID, mentionedPlayer(m, targets[0]), ratingValue, deviation)
}

func handlePenalty(ctx context.Context, b *DiscordBot, m *discordgo.MessageCreate, args []string) error {
	targets := parseMentions(args)
	if len(args) < 2 || len(targets) != 1 {
		return server.NewError(server.ValidationError, "usage: !penalty <@player> <amount> [reason]")
	}
	amount, err := strconv.Atoi(args[1])
	if err != nil {
		return server.NewError(server.ValidationError, "amount must be a number")
	}
	reason := "moderator action"
	if len(args) > 2 {
		reason = strings.Join(args[2:], " ")
	}
	return b.core.AddPenalty(ctx, m.ChannelID, m.Author.ID, mentionedPlayer(m, targets[0]), amount, reason)
}

func handleHide(ctx context.Context, b *DiscordBot, m *discordgo.MessageCreate, args []string) error {
	targets := parseMentions(args)
	if len(targets) != 1 {
		return server.NewError(server.ValidationError, "usage: !hide <@player>")
	}
	return b.core.HidePlayer(ctx, m.ChannelID, m.Author.ID, mentionedPlayer(m, targets[0]), true)
}

func handleUnhide(ctx context.Context, b *DiscordBot, m *discordgo.MessageCreate, args []string) error {
	targets := parseMentions(args)
	if len(targets) != 1 {
		return server.NewError(server.ValidationError, "usage: !unhide <@player>")
	}
	return b.core.HidePlayer(ctx, m.ChannelID, m.Author.ID, mentionedPlayer(m, targets[0]), false)
}

func handleResetRatings(ctx context.Context, b *DiscordBot, m *discordgo.MessageCreate, args []string) error {
	return b.core.ResetRatings(ctx, m.ChannelID, m.Author.ID)
}

func handleSnapRatings(ctx context.Context, b *DiscordBot, m *discordgo.MessageCreate, args []string) error {
	return b.core.SnapRatings(ctx, m.ChannelID, m.Author.ID)
}

func handleUndoMatch(ctx context.Context, b *DiscordBot, m *discordgo.MessageCreate, args []string) error {
	if len(args) != 1 {
		return server.NewError(server.ValidationError, "usage: !undo_match <match id>")
	}
	matchID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return server.NewError(server.ValidationError, "match id must be a number")
	}
	return b.core.UndoMatch(ctx, m.ChannelID, m.Author.ID, matchID)
}

// handleFakeMatch registers a premade result: !fake_match <queue> <@winners...> vs <@losers...>.
func handleFakeMatch(ctx context.Context, b *DiscordBot, m *discordgo.MessageCreate, args []string) error {
	vs := -1
	for i, arg := range args {
		if strings.EqualFold(arg, "vs") {
			vs = i
			break
		}
	}
	if len(args) < 4 || vs < 2 {
		return server.NewError(server.ValidationError, "usage: !fake_match <queue> <@winners...> vs <@losers...>")
	}
	winners := parseMentions(args[1:vs])
	losers := parseMentions(args[vs+1:])
	if len(winners) == 0 || len(losers) == 0 {
		return server.NewError(server.ValidationError, "both sides need at least one player")
	}
	toPlayers := func(ids []string) []server.Player {
		players := make([]server.Player, 0, len(ids))
		for _, id := range ids {
			players = append(players, mentionedPlayer(m, id))
		}
		return players
	}
	_, err := b.core.FakeRankedMatch(ctx, m.ChannelID, m.Author.ID, args[0], toPlayers(winners), toPlayers(losers), false)
	return err
}
