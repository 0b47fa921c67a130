package client

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Publisher is the hook the CRUD handlers call after a successful write:
// it signs and posts the confirmed domain event to a node's internal
// publish endpoint for fan-out.
type Publisher struct {
	BaseURL string
	Secret  string
	HTTP    *http.Client
}

func NewPublisher(baseURL, secret string) *Publisher {
	return &Publisher{
		BaseURL: baseURL,
		Secret:  secret,
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
}

// PublishEvent pushes one domain event. toUser scopes delivery to a
// single user; empty means every authenticated connection.
// invalidateUsers names the users whose cached aggregates the write made
// stale.
func (p *Publisher) PublishEvent(kind, action string, payload interface{}, toUser string, invalidateUsers []string) error {
	d, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	body, err := json.Marshal(map[string]interface{}{
		"type":            kind,
		"action":          action,
		"payload":         json.RawMessage(d),
		"toUser":          toUser,
		"invalidateUsers": invalidateUsers,
	})
	if err != nil {
		return err
	}

	ts := fmt.Sprint(time.Now().Unix())
	sign := signMD5(p.Secret, string(body), ts)
	url := fmt.Sprintf("%s/internal/publish?ts=%s&sign=%s", p.BaseURL, ts, sign)

	resp, err := p.HTTP.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("publish: %s: %s", resp.Status, string(b))
	}
	return nil
}

func signMD5(secret, data, timestamp string) string {
	h := md5.New()
	h.Write([]byte(secret + data + timestamp))
	return hex.EncodeToString(h.Sum(nil))
}
