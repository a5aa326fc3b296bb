package domain

import (
	"fmt"
	"strings"
)

// ContainerPrefix is prepended to every worker container name.
const ContainerPrefix = "ticker-"

// ContainerHandle is the runtime identity of a launched worker.
type ContainerHandle struct {
	ID     string
	Name   string
	Status string // runtime status as reported by the orchestrator (running, exited, ...)
}

// Running reports whether the orchestrator considers the worker alive.
func (h ContainerHandle) Running() bool {
	return h.Status == "running" || h.Status == "restarting"
}

// ContainerName returns the deterministic worker name for a ticker.
func ContainerName(ticker string) string {
	return ContainerPrefix + SanitizeTicker(ticker)
}

// SanitizeTicker maps a ticker onto the container name alphabet [a-z0-9_.-].
//
// '^' and '=' become '_' so names match workers launched by earlier deployments.
// Any other byte outside the alphabet is escaped as "--" followed by two hex digits.
//
// The mapping is collision-free only for canonical tickers, which never contain
// '_' or "--": CoinGecko symbols are alphanumeric and Yahoo tickers add '.', '-',
// a leading '^' and a trailing "=x" or "=f". A literal '_' collides with '^'
// ("_gspc" and "^gspc") and a literal "--" can collide with an escape.
func SanitizeTicker(ticker string) string {
	t := NormalizeTicker(ticker)

	var b strings.Builder
	b.Grow(len(t))
	for i := 0; i < len(t); i++ {
		ch := t[i]
		switch {
		case ch >= 'a' && ch <= 'z', ch >= '0' && ch <= '9', ch == '_', ch == '.', ch == '-':
			b.WriteByte(ch)
		case ch == '^', ch == '=':
			b.WriteByte('_')
		default:
			fmt.Fprintf(&b, "--%02x", ch)
		}
	}
	return b.String()
}

// InviteURL returns the OAuth invite link for a bot client id.
func InviteURL(clientID string) string {
	return fmt.Sprintf("https://discord.com/api/oauth2/authorize?client_id=%s&permissions=0&scope=bot", clientID)
}
