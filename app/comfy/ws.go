package comfy

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"

	log "github.com/go-pkgz/lgr"
	"github.com/gorilla/websocket"
)

// waitExecuted listens on the server event socket until the prompt reports
// completion or the context is done. The socket is advisory only, every
// failure is swallowed and the caller falls back to polling.
func (c *Client) waitExecuted(ctx context.Context, promptID string) {
	if c.wsURL == "" {
		return
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.eventURL(), nil) //nolint:bodyclose // closed with conn
	if err != nil {
		log.Printf("[DEBUG] can't connect event socket: %v", err)
		return
	}
	defer conn.Close() //nolint:errcheck // nothing to do on close failure

	// unblock ReadMessage on cancellation
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				log.Printf("[DEBUG] event socket closed: %v", err)
			}
			return
		}

		var event struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(message, &event); err != nil {
			continue // binary preview frames and malformed messages are expected
		}

		switch event.Type {
		case "executed":
			var data struct {
				PromptID string `json:"prompt_id"`
			}
			if err := json.Unmarshal(event.Data, &data); err == nil && data.PromptID == promptID {
				log.Printf("[DEBUG] prompt %s executed", promptID)
				return
			}

		case "progress_state":
			var data struct {
				Nodes map[string]struct {
					State string `json:"state"`
				} `json:"nodes"`
			}
			if err := json.Unmarshal(event.Data, &data); err != nil || len(data.Nodes) == 0 {
				continue
			}
			finished := true
			for _, node := range data.Nodes {
				if node.State != "finished" {
					finished = false
					break
				}
			}
			if finished {
				log.Printf("[DEBUG] all nodes finished for %s", promptID)
				return
			}
		}
	}
}

// eventURL appends the client identity to the socket address unless the
// configured address already pins one.
func (c *Client) eventURL() string {
	if strings.Contains(c.wsURL, "clientId=") {
		return c.wsURL
	}
	sep := "?"
	if strings.Contains(c.wsURL, "?") {
		sep = "&"
	}
	return c.wsURL + sep + "clientId=" + url.QueryEscape(c.clientID)
}
