package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// RoomServiceAuthorizer checks room access against the room service REST
// API. Ownership of rooms (chat sessions) lives in that service; this core
// only consumes the answer.
type RoomServiceAuthorizer struct {
	baseURL string
	client  *http.Client
}

func NewRoomServiceAuthorizer(baseURL string, timeout time.Duration) *RoomServiceAuthorizer {
	return &RoomServiceAuthorizer{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type accessResponse struct {
	Allowed bool `json:"allowed"`
}

// CheckRoomAccess calls GET /api/v1/rooms/{room_id}/access/{user_id}.
// 200 carries {"allowed": bool}; 404 means the room or membership does not
// exist and reads as denied.
func (a *RoomServiceAuthorizer) CheckRoomAccess(ctx context.Context, userID, roomID string) (bool, error) {
	endpoint := fmt.Sprintf("%s/api/v1/rooms/%s/access/%s",
		a.baseURL, url.PathEscape(roomID), url.PathEscape(userID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, fmt.Errorf("failed to build access request: %w", err)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("room access check failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var body accessResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return false, fmt.Errorf("failed to decode access response: %w", err)
		}
		return body.Allowed, nil
	case http.StatusNotFound, http.StatusForbidden:
		return false, nil
	default:
		return false, fmt.Errorf("room access check returned status %d", resp.StatusCode)
	}
}

// AllowAllAuthorizer grants every access check. Meant for local development
// when no room service is running.
type AllowAllAuthorizer struct{}

func (AllowAllAuthorizer) CheckRoomAccess(ctx context.Context, userID, roomID string) (bool, error) {
	return true, nil
}
