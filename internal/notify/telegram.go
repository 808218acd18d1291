package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Notifier posts case notifications to Telegram. Delivery is best-effort:
// errors are logged, never returned to callers, and never block a state
// transition. With an empty token the notifier is a no-op.
type Notifier struct {
	token       string
	alertChat   string
	channelNizh string
	channelRest string
	nizh        func(code string) bool
	http        *http.Client
	log         *logrus.Entry
}

func NewNotifier(token, alertChat, channelNizh, channelRest string, nizh func(string) bool, log *logrus.Logger) *Notifier {
	if nizh == nil {
		nizh = func(string) bool { return false }
	}
	return &Notifier{
		token:       token,
		alertChat:   alertChat,
		channelNizh: channelNizh,
		channelRest: channelRest,
		nizh:        nizh,
		http:        &http.Client{Timeout: 15 * time.Second},
		log:         log.WithField("component", "notify"),
	}
}

// SendTo routes a case notification to the regional channel for the station.
// Returns the Telegram message id for reply threading.
func (n *Notifier) SendTo(station, text string, replyTo int64) (int64, bool) {
	chat := n.channelRest
	if n.nizh(station) {
		chat = n.channelNizh
	}
	if chat == "" {
		chat = n.alertChat
	}
	return n.Send(chat, text, replyTo)
}

// Alert posts to the operator chat.
func (n *Notifier) Alert(text string) (int64, bool) {
	return n.Send(n.alertChat, text, 0)
}

// Send posts one message. A failed delivery is retried once.
func (n *Notifier) Send(chatID, text string, replyTo int64) (int64, bool) {
	if n.token == "" || chatID == "" || strings.TrimSpace(text) == "" {
		return 0, false
	}
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			time.Sleep(2 * time.Second)
		}
		id, err := n.send(chatID, text, replyTo)
		if err == nil {
			return id, true
		}
		lastErr = err
	}
	n.log.WithField("chat", chatID).Errorf("telegram delivery failed: %v", lastErr)
	return 0, false
}

func (n *Notifier) send(chatID, text string, replyTo int64) (int64, error) {
	payload := map[string]interface{}{
		"chat_id": chatID,
		"text":    text,
	}
	if replyTo != 0 {
		payload["reply_to_message_id"] = replyTo
	}
	buf, _ := json.Marshal(payload)

	url := "https://api.telegram.org/bot" + n.token + "/sendMessage"
	resp, err := n.http.Post(url, "application/json", bytes.NewReader(buf))
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return 0, fmt.Errorf("telegram status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	var parsed struct {
		OK     bool `json:"ok"`
		Result struct {
			MessageID int64 `json:"message_id"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return 0, err
	}
	if !parsed.OK {
		return 0, fmt.Errorf("telegram rejected message for chat %s", chatID)
	}
	return parsed.Result.MessageID, nil
}
