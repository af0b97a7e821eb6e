package bot

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bigkaa/goartstore/relay-bot/internal/domain/model"
	"github.com/bigkaa/goartstore/relay-bot/internal/service"
)

// Тексты ответов пользователю.
const (
	ReplyInvalidToken   = "❌ Invalid link or File ID. Please check and try again."
	ReplyRelayNotFound  = "❌ File not found. It may have been removed by an admin."
	ReplyUploadFailed   = "❌ Failed to save your file. Please try again."
	ReplyDownloadFailed = "❌ Failed to download the file from this link. Please try again later."
	ReplyBanned         = "🚫 You are banned from using this bot."
	ReplyUnauthorized   = "❌ You are not authorized to use this command."
	ReplyGeneric        = "⚠️ Something went wrong, please try again."
	ReplyUnknown        = "❓ Unknown command. Use /help for available commands."
	ReplyNoHistory      = "📭 You have no uploads yet."
	ReplyNoRecipients   = "❌ No users found to announce to."
	ReplyAnnounceUsage  = "❌ Reply to a message with /announce, or use /announce <text>."
)

// replyFor возвращает ответ для ожидаемой ошибки обработки.
// false — ошибка непредвиденная.
func replyFor(err error, allowedExt []string) (string, bool) {
	switch {
	case errors.Is(err, service.ErrBanned):
		return ReplyBanned, true
	case errors.Is(err, service.ErrInvalidToken):
		return ReplyInvalidToken, true
	case errors.Is(err, service.ErrRelayNotFound):
		return ReplyRelayNotFound, true
	case errors.Is(err, service.ErrUnsupportedURL):
		return unsupportedURLReply(allowedExt), true
	case errors.Is(err, service.ErrDownloadFailed):
		return ReplyDownloadFailed, true
	case errors.Is(err, service.ErrUploadFailed):
		return ReplyUploadFailed, true
	case errors.Is(err, service.ErrUnauthorized):
		return ReplyUnauthorized, true
	default:
		return "", false
	}
}

func unsupportedURLReply(allowedExt []string) string {
	return "❌ This link is not supported.\n\n" +
		"Send a direct http(s) download link ending in one of:\n" +
		strings.Join(allowedExt, " ")
}

func welcomeReply(firstName string) string {
	if firstName == "" {
		firstName = "there"
	}
	return fmt.Sprintf("👋 Hi %s!\n\n"+
		"✨ Welcome to the File Relay Bot! ✨\n\n"+
		"📁 Upload any file or send a direct download link to get a unique File ID.\n"+
		"🔗 Use the File ID or deep link to retrieve it anytime.\n\n"+
		"📌 Commands:\n"+
		"• /help – How to use\n"+
		"• /history – Your recent uploads\n"+
		"• /stats – Session stats\n"+
		"• /announce – (Admin only) Broadcast a message", firstName)
}

func helpReply(linkBase string) string {
	return "📌 How to use this bot:\n\n" +
		"1. Send any file (document, photo, video, audio, voice, video note)\n" +
		"   or a direct download link.\n" +
		"2. Receive a File ID and a deep link.\n" +
		"3. Use the File ID or the link to get your file:\n\n" +
		linkBase + "?start=<FileID>\n\n" +
		"4. /history shows your recent uploads.\n" +
		"5. Admins can broadcast announcements with /announce."
}

func uploadReply(res *model.UploadResult) string {
	return fmt.Sprintf("🎉 Your file has been uploaded!\n\n"+
		"📂 File name: %s\n"+
		"📊 File size: %s\n"+
		"📁 Type: %s\n\n"+
		"🔗 Direct link:\n%s\n\n"+
		"🆔 File ID: %s\n\n"+
		"🚸 Your link stays valid until an admin removes the file.",
		res.Label, formatSize(res.Size), res.Kind, res.Link, res.Token)
}

func historyReply(records []model.HistoryRecord) string {
	if len(records) == 0 {
		return ReplyNoHistory
	}
	var b strings.Builder
	b.WriteString("🗂 Your recent uploads:\n")
	for i, rec := range records {
		fmt.Fprintf(&b, "\n%d. %s\n%s\n", i+1, rec.Label, rec.Link)
	}
	return b.String()
}

func statsReply(uploads int64, users int) string {
	return fmt.Sprintf("📊 Total files saved this session: %d\n👥 Known users: %d", uploads, users)
}

func broadcastStartedReply(recipients int, runID string) string {
	return fmt.Sprintf("📣 Broadcast started to %d users.\nRun ID: %s", recipients, runID)
}

func broadcastDoneReply(o model.BroadcastOutcome) string {
	var b strings.Builder
	if o.Cancelled {
		b.WriteString("⏹ Broadcast cancelled.\n")
	} else {
		b.WriteString("✅ Broadcast finished.\n")
	}
	fmt.Fprintf(&b, "Sent: %d\nFailed: %d", o.Succeeded, o.Failed)
	if o.Skipped > 0 {
		fmt.Fprintf(&b, "\nSkipped (empty message): %d", o.Skipped)
	}
	return b.String()
}

// formatSize форматирует размер в мегабайтах; 0 — размер неизвестен.
func formatSize(size int64) string {
	if size <= 0 {
		return "?"
	}
	return fmt.Sprintf("%.2f MB", float64(size)/(1024*1024))
}
