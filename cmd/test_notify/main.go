package main

import (
	"flag"
	"log"

	"eventpay_echo/internal/config"
	"eventpay_echo/internal/services"
)

func main() {
	channel := flag.String("channel", "whatsapp", "Delivery channel: whatsapp or email")
	to := flag.String("to", "", "Phone number / group id (whatsapp) or email address (email)")
	subject := flag.String("subject", "Test notification", "Email subject")
	msg := flag.String("msg", "Test message from the notification worker", "Message body")
	flag.Parse()

	if *to == "" {
		log.Fatal("Please provide a recipient using -to flag")
	}

	cfg := config.Load()

	switch *channel {
	case "whatsapp":
		chatID := services.NormalizeChatID(*to)
		log.Printf("Sending WhatsApp message to %s: %s", chatID, *msg)
		if err := services.NewWahaService(cfg.Waha).SendMessage(chatID, *msg); err != nil {
			log.Fatalf("Failed to send message: %v", err)
		}
	case "email":
		log.Printf("Sending email to %s: %s", *to, *subject)
		if err := services.NewEmailService(cfg.SMTP).SendEmail([]string{*to}, *subject, *msg); err != nil {
			log.Fatalf("Failed to send email: %v", err)
		}
	default:
		log.Fatalf("Unknown channel %q", *channel)
	}

	log.Println("Message sent successfully!")
}
