package notify

import (
	"fmt"
	"sort"
	"strings"

	"ticker-provisioner/internal/domain"
)

const redacted = "<redacted>"

// AdminLog wraps one audit line for the operator channel.
func AdminLog(text string) Message {
	return Message{Title: "API Log", Body: text, Color: ColorAdmin}
}

// LaunchInfo describes a freshly launched worker for the operator channel.
type LaunchInfo struct {
	Ticker        string
	ContainerName string
	Image         string
	ClientID      string
	Env           map[string]string
	SecretKeys    []string // env keys whose values are redacted
}

// AdminLaunch renders a compose service snippet for the worker plus its invite link.
// Secret values never leave the process.
func AdminLaunch(info LaunchInfo) Message {
	secret := make(map[string]bool, len(info.SecretKeys))
	for _, k := range info.SecretKeys {
		secret[k] = true
	}

	keys := make([]string, 0, len(info.Env))
	for k := range info.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	fmt.Fprintf(&sb, "  %s:\n", info.ContainerName)
	fmt.Fprintf(&sb, "    image: %s\n", info.Image)
	sb.WriteString("    restart: unless-stopped\n")
	fmt.Fprintf(&sb, "    container_name: %s\n", info.ContainerName)
	sb.WriteString("    environment:\n")
	for _, k := range keys {
		v := info.Env[k]
		if secret[k] {
			v = redacted
		}
		fmt.Fprintf(&sb, "      - %s=%s\n", k, v)
	}
	sb.WriteString("\n")
	fmt.Fprintf(&sb, "[%s](%s)\n", info.Ticker, domain.InviteURL(info.ClientID))

	return AdminLog(sb.String())
}

// Announcement is the public message for a newly available bot.
func Announcement(ticker, clientID string) Message {
	return Message{
		Title: strings.ToUpper(ticker),
		Body:  domain.InviteURL(clientID),
		Color: ColorPublic,
	}
}
