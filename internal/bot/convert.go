package bot

import (
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"tg_forwarder/internal/model"
	"tg_forwarder/internal/telegram"
)

// fromUpdateMessage converts a bot API update message into the transport
// record the pipeline consumes.
func fromUpdateMessage(m *tgbotapi.Message, channelPost bool) *telegram.Message {
	msg := &telegram.Message{
		ID:            int64(m.MessageID),
		Date:          time.Unix(int64(m.Date), 0),
		Text:          m.Text,
		IsChannelPost: channelPost,
	}
	if msg.Text == "" {
		msg.Text = m.Caption
	}
	if m.Chat != nil {
		msg.ChatID = m.Chat.ID
		msg.ChatTitle = m.Chat.Title
		msg.ChatUsername = m.Chat.UserName
	}
	if m.From != nil {
		msg.Sender = telegram.Sender{
			ID:        m.From.ID,
			FirstName: m.From.FirstName,
			LastName:  m.From.LastName,
			Username:  m.From.UserName,
		}
	}
	if m.MediaGroupID != "" {
		if id, err := strconv.ParseInt(m.MediaGroupID, 10, 64); err == nil {
			msg.GroupedID = id
		}
	}
	msg.Media = mediaInfoOf(m)
	return msg
}

func mediaInfoOf(m *tgbotapi.Message) *telegram.MediaInfo {
	switch {
	case len(m.Photo) > 0:
		largest := m.Photo[len(m.Photo)-1]
		return &telegram.MediaInfo{
			Kind:     model.MediaPhoto,
			Filename: largest.FileID + ".jpg",
			Size:     int64(largest.FileSize),
		}
	case m.Document != nil:
		return &telegram.MediaInfo{
			Kind:     model.MediaDocument,
			Filename: m.Document.FileName,
			Size:     int64(m.Document.FileSize),
		}
	case m.Video != nil:
		return &telegram.MediaInfo{
			Kind:     model.MediaVideo,
			Filename: m.Video.FileName,
			Size:     int64(m.Video.FileSize),
		}
	case m.Audio != nil:
		return &telegram.MediaInfo{
			Kind:     model.MediaAudio,
			Filename: m.Audio.FileName,
			Size:     int64(m.Audio.FileSize),
		}
	case m.Voice != nil:
		return &telegram.MediaInfo{
			Kind:     model.MediaVoice,
			Filename: m.Voice.FileID + ".ogg",
			Size:     int64(m.Voice.FileSize),
		}
	}
	return nil
}
