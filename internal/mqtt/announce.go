package mqtt

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/AaronLay10/carla-go/carla"
)

// Announcement is the retained message a client publishes to describe the
// bindings it runs.
type Announcement struct {
	ClientID string   `json:"client_id"`
	Version  string   `json:"version"`
	Major    int      `json:"major"`
	Minor    int      `json:"minor"`
	Patch    int      `json:"patch"`
	Exports  []string `json:"exports"`
}

// NewAnnouncement describes info on behalf of clientID.
func NewAnnouncement(clientID string, info carla.Info) Announcement {
	return Announcement{
		ClientID: clientID,
		Version:  info.Version,
		Major:    info.Major,
		Minor:    info.Minor,
		Patch:    info.Patch,
		Exports:  carla.Exports(),
	}
}

// Info returns the version metadata carried by a.
func (a Announcement) Info() carla.Info {
	return carla.Info{Version: a.Version, Major: a.Major, Minor: a.Minor, Patch: a.Patch}
}

// VersionTopic returns the topic a client announces on.
func VersionTopic(prefix, clientID string) string {
	return prefix + "/clients/" + clientID + "/version"
}

// PeerTopicFilter matches every client's version topic under prefix.
func PeerTopicFilter(prefix string) string {
	return VersionTopic(prefix, "+")
}

// ClientIDFromTopic extracts the client segment of a version topic.
func ClientIDFromTopic(prefix, topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, prefix+"/clients/")
	if !ok {
		return "", false
	}
	id, ok := strings.CutSuffix(rest, "/version")
	if !ok || id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}

// ValidateClientID rejects IDs that cannot be used as a single topic level.
func ValidateClientID(id string) error {
	if id == "" {
		return fmt.Errorf("client id is required")
	}
	if strings.ContainsAny(id, "/+#") {
		return fmt.Errorf("client id %q must not contain '/', '+' or '#'", id)
	}
	return nil
}

// Announce publishes a retained announcement of info for clientID.
func Announce(pub Publisher, prefix, clientID string, info carla.Info) error {
	if err := ValidateClientID(clientID); err != nil {
		return err
	}

	b, err := json.Marshal(NewAnnouncement(clientID, info))
	if err != nil {
		return fmt.Errorf("failed to encode announcement: %w", err)
	}

	return pub.Publish(VersionTopic(prefix, clientID), 1, true, b)
}

// ParseAnnouncement decodes and checks an announcement payload.
func ParseAnnouncement(data []byte) (*Announcement, error) {
	var a Announcement
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("invalid announcement JSON: %w", err)
	}

	if err := ValidateClientID(a.ClientID); err != nil {
		return nil, err
	}

	return &a, nil
}
