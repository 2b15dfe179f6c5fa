package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/turnobot/libs/auth"
)

func main() {
	var (
		baseURL = flag.String("base-url", getenv("BASE_URL", "http://localhost:8080"), "conversation-service base url")
		from    = flag.String("from", getenv("FROM", ""), "customer phone, e.g. whatsapp:+5491123456789")
		to      = flag.String("to", getenv("TO", ""), "business phone")
		body    = flag.String("body", getenv("BODY", "turno"), "message text")
		format  = flag.String("format", getenv("FORMAT", "form"), "payload format: form or json")
		secret  = flag.String("secret", getenv("WEBHOOK_SECRET", ""), "signing secret; empty sends unsigned")
	)
	flag.Parse()

	if strings.TrimSpace(*from) == "" || strings.TrimSpace(*to) == "" {
		fatal("FROM and TO are required")
	}

	messageID := "SM" + strings.ReplaceAll(uuid.NewString(), "-", "")
	payload, contentType, err := buildPayload(*format, *from, *to, *body, messageID)
	if err != nil {
		fatal(err.Error())
	}

	req, err := http.NewRequest(http.MethodPost, strings.TrimRight(*baseURL, "/")+"/webhooks/messages", bytes.NewReader(payload))
	if err != nil {
		fatal(err.Error())
	}
	req.Header.Set("Content-Type", contentType)
	if *secret != "" {
		req.Header.Set(auth.SignatureHeader, auth.Sign(payload, *secret, time.Now()))
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		fatal(err.Error())
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	fmt.Printf("status=%d message_id=%s body=%s\n", resp.StatusCode, messageID, strings.TrimSpace(string(respBody)))
}

func buildPayload(format, from, to, body, messageID string) ([]byte, string, error) {
	switch format {
	case "form":
		form := url.Values{"From": {from}, "To": {to}, "Body": {body}, "MessageSid": {messageID}}
		return []byte(form.Encode()), "application/x-www-form-urlencoded", nil
	case "json":
		raw, err := json.Marshal(map[string]string{
			"from":      from,
			"to":        to,
			"body":      body,
			"messageId": messageID,
		})
		return raw, "application/json", err
	default:
		return nil, "", fmt.Errorf("unsupported format: %s", format)
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(2)
}
