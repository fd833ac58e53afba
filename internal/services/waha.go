package services

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"eventpay_echo/internal/config"
)

// WhatsappSender delivers a WhatsApp text to a chat id or phone number
type WhatsappSender interface {
	SendMessage(chatId, text string) error
}

type WahaService struct {
	session string
	client  *resty.Client
	pause   func(time.Duration)
}

func NewWahaService(cfg config.WahaConfig) *WahaService {
	url := cfg.BaseURL
	if url == "" {
		url = "http://waha:3000"
	}
	session := cfg.Session
	if session == "" {
		session = "default"
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(url, "/")).
		SetHeader("Content-Type", "application/json").
		SetHeader("X-Api-Key", cfg.APIKey).
		SetTimeout(10 * time.Second)

	return &WahaService{
		session: session,
		client:  client,
		pause:   time.Sleep,
	}
}

func (s *WahaService) makeRequest(endpoint string, payload map[string]string) error {
	payload["session"] = s.session

	resp, err := s.client.R().SetBody(payload).Post(endpoint)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

func (s *WahaService) sendSeen(chatId string) error {
	return s.makeRequest("/api/sendSeen", map[string]string{"chatId": chatId})
}

func (s *WahaService) startTyping(chatId string) error {
	return s.makeRequest("/api/startTyping", map[string]string{"chatId": chatId})
}

func (s *WahaService) stopTyping(chatId string) error {
	return s.makeRequest("/api/stopTyping", map[string]string{"chatId": chatId})
}

func (s *WahaService) sendText(chatId, text string) error {
	return s.makeRequest("/api/sendText", map[string]string{
		"chatId": chatId,
		"text":   text,
	})
}

// NormalizeChatID normalizes WhatsApp chat IDs by adding required suffixes and standardizing country codes
func NormalizeChatID(chatId string) string {
	chatId = strings.TrimSpace(chatId)

	// If it's already a group ID, it's correct
	if strings.HasSuffix(chatId, "@g.us") {
		return chatId
	}

	chatId = strings.TrimSuffix(chatId, "@c.us")
	chatId = strings.TrimPrefix(chatId, "+")

	// Standardize Indonesian numbers starting with '0' to '62'
	if strings.HasPrefix(chatId, "0") {
		chatId = "62" + strings.TrimPrefix(chatId, "0")
	}

	return chatId + "@c.us"
}

// SendMessage sends a message the way a person would: seen, typing, then text
func (s *WahaService) SendMessage(chatId, text string) error {
	chatId = NormalizeChatID(chatId)

	if err := s.sendSeen(chatId); err != nil {
		return fmt.Errorf("failed to send seen: %w", err)
	}
	s.pause(100 * time.Millisecond)

	if err := s.startTyping(chatId); err != nil {
		return fmt.Errorf("failed to start typing: %w", err)
	}
	s.pause(150 * time.Millisecond)

	if err := s.stopTyping(chatId); err != nil {
		return fmt.Errorf("failed to stop typing: %w", err)
	}
	s.pause(50 * time.Millisecond)

	if err := s.sendText(chatId, text); err != nil {
		return fmt.Errorf("failed to send text: %w", err)
	}

	return nil
}
