// Package client provides chat room clients and the room directory call used
// before joining a room.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

// Client defines the interface for chat room clients.
type Client interface {
	Connect(ctx context.Context) error
	Disconnect()
	IsConnected() bool
	SendMessage(ctx context.Context, content string) error
	Ping(ctx context.Context) error
	Messages() <-chan string
	Err() error
}

// GetOrCreateRoom asks the server at baseURL for the room shared with
// otherUserID. token authenticates the caller.
func GetOrCreateRoom(ctx context.Context, hc *http.Client, baseURL, token, otherUserID string) (string, error) {
	if hc == nil {
		hc = http.DefaultClient
	}
	body, err := json.Marshal(map[string]string{"other_user_id": otherUserID})
	if err != nil {
		return "", err
	}
	endpoint := strings.TrimRight(baseURL, "/") + "/room/get_or_create"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := hc.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to reach server: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("room request failed with status %d: %s", resp.StatusCode, gjson.GetBytes(data, "error").String())
	}
	roomID := gjson.GetBytes(data, "room_id").String()
	if roomID == "" {
		return "", fmt.Errorf("room request returned no room id")
	}
	return roomID, nil
}
