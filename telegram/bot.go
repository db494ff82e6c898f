package telegram

import (
	"fmt"
	"log"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api"

	"evhub/internal"
)

// TgBot implements EventHandler
type TgBot struct {
	api   *tgbotapi.BotAPI
	event chan MessageContent
	send  chan MessageContent

	mu          sync.Mutex
	subscribers map[int64]string
}

type MessageContent struct {
	ChatID int64
	Text   string
}

func NewBot(apiKey string) (*TgBot, error) {
	tgBot := &TgBot{
		subscribers: make(map[int64]string),
		event:       make(chan MessageContent, 100),
		send:        make(chan MessageContent, 100),
	}
	api, err := tgbotapi.NewBotAPI(apiKey)
	if err != nil {
		return nil, err
	}
	tgBot.api = api
	return tgBot, nil
}

func (b *TgBot) Start() {
	go b.sendPump()
	go b.eventPump()
	go b.updatesPump()
}

// Start listening for updates
func (b *TgBot) updatesPump() {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates, err := b.api.GetUpdatesChan(u)
	if err != nil {
		log.Printf("bot: error getting updates: %v", err)
		return
	}
	for update := range updates {
		if update.Message == nil {
			continue
		}
		if !update.Message.IsCommand() {
			continue
		}
		switch update.Message.Command() {
		case "start":
			b.mu.Lock()
			b.subscribers[update.Message.Chat.ID] = update.Message.From.UserName
			b.mu.Unlock()
			msg := fmt.Sprintf("Hello *%v*, you are now subscribed to updates", update.Message.From.UserName)
			b.send <- MessageContent{ChatID: update.Message.Chat.ID, Text: msg}
		case "stop":
			b.mu.Lock()
			delete(b.subscribers, update.Message.Chat.ID)
			b.mu.Unlock()
			b.send <- MessageContent{ChatID: update.Message.Chat.ID, Text: "Your subscription has been removed"}
		case "status":
			b.mu.Lock()
			count := len(b.subscribers)
			b.mu.Unlock()
			msg := fmt.Sprintf("Active subscriptions: %v", count)
			b.send <- MessageContent{ChatID: update.Message.Chat.ID, Text: msg}
		}
	}
}

// eventPump sending events to all subscribers
func (b *TgBot) eventPump() {
	for {
		if event, ok := <-b.event; ok {
			b.mu.Lock()
			chats := make([]int64, 0, len(b.subscribers))
			for chatId := range b.subscribers {
				chats = append(chats, chatId)
			}
			b.mu.Unlock()
			for _, chatId := range chats {
				b.sendMessage(chatId, event.Text)
			}
		}
	}
}

// sendPump sending messages to users
func (b *TgBot) sendPump() {
	for {
		if event, ok := <-b.send; ok {
			b.sendMessage(event.ChatID, event.Text)
		}
	}
}

// sendMessage common routine to send a message via bot API
func (b *TgBot) sendMessage(id int64, text string) {
	msg := tgbotapi.NewMessage(id, text)
	msg.ParseMode = "MarkdownV2"
	_, err := b.api.Send(msg)
	if err != nil {
		// maybe error was while parsing, so we can send a message about this error
		msg = tgbotapi.NewMessage(id, fmt.Sprintf("Error: %v", err))
		_, err = b.api.Send(msg)
		if err != nil {
			log.Printf("bot: error sending message: %v", err)
		}
	}
}

func (b *TgBot) OnStatusNotification(event *internal.EventMessage) {
	msg := fmt.Sprintf("*%v*: `%v`\n", event.ChargerId, event.Status)
	if event.Info != "" {
		msg += fmt.Sprintf("%v\n", sanitize(event.Info))
	}
	b.event <- MessageContent{Text: msg}
}

func (b *TgBot) OnTransactionStart(event *internal.EventMessage) {
	msg := fmt.Sprintf("*%v*: charging started\n", event.ChargerId)
	msg += fmt.Sprintf("Transaction ID: %v\n", event.TransactionId)
	b.event <- MessageContent{Text: msg}
}

func (b *TgBot) OnTransactionStop(event *internal.EventMessage) {
	msg := fmt.Sprintf("*%v*: charging stopped\n", event.ChargerId)
	msg += fmt.Sprintf("Transaction ID: %v\n", event.TransactionId)
	if event.Info != "" {
		msg += fmt.Sprintf("Info: %v\n", sanitize(event.Info))
	}
	b.event <- MessageContent{Text: msg}
}

func sanitize(input string) string {
	// Define a list of reserved characters that need to be escaped
	reservedChars := "\\`*_{}[]()#+-.!|"

	sanitized := ""
	for _, char := range input {
		if strings.ContainsRune(reservedChars, char) {
			sanitized += "\\" + string(char)
		} else {
			sanitized += string(char)
		}
	}
	return sanitized
}
