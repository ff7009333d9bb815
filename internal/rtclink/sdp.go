package rtclink

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// EncodeDescription packs a session description into a base64 blob safe to
// relay through the signaling server.
func EncodeDescription(desc webrtc.SessionDescription) (string, error) {
	raw, err := json.Marshal(desc)
	if err != nil {
		return "", fmt.Errorf("encode session description: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodeDescription unpacks a blob produced by EncodeDescription.
func DecodeDescription(blob string) (webrtc.SessionDescription, error) {
	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("decode session description: %w", err)
	}
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(raw, &desc); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("decode session description: %w", err)
	}
	return desc, nil
}
