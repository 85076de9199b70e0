package store

import "fmt"

// The shared namespace is partitioned by prefix. Saves use the bare
// "<gameId>:<playerId>:<saveKey>" form; everything else carries an explicit
// prefix. No component reads outside its own prefix.
const (
	PrefixAPIKey    = "apikey:"
	PrefixStats     = "stats:"
	PrefixProject   = "project:"
	PrefixSubdomain = "subdomain:"
	PrefixRoomState = "roomstate:"
)

// SaveKey builds the composite key for one player save entry.
func SaveKey(gameID, playerID, saveKey string) string {
	return fmt.Sprintf("%s:%s:%s", gameID, playerID, saveKey)
}

// SavePrefix is the scan prefix covering all of one player's saves.
func SavePrefix(gameID, playerID string) string {
	return fmt.Sprintf("%s:%s:", gameID, playerID)
}

// APIKeyKey addresses one API key record.
func APIKeyKey(apiKey string) string {
	return PrefixAPIKey + apiKey
}

// StatsKey addresses the per-game counter record.
func StatsKey(gameID string) string {
	return PrefixStats + gameID
}

// StatsDailyKey addresses the daily unique-player set for a date stamp (YYYY-MM-DD).
func StatsDailyKey(gameID, day string) string {
	return fmt.Sprintf("%s%s:daily:%s", PrefixStats, gameID, day)
}

// StatsMonthlyKey addresses the monthly unique-player set for a month stamp (YYYY-MM).
func StatsMonthlyKey(gameID, month string) string {
	return fmt.Sprintf("%s%s:monthly:%s", PrefixStats, gameID, month)
}

// StatsPlayerKey addresses one per-player record.
func StatsPlayerKey(gameID, playerID string) string {
	return fmt.Sprintf("%s%s:player:%s", PrefixStats, gameID, playerID)
}

// ProjectSubdomainKey addresses the project → subdomain mapping.
func ProjectSubdomainKey(projectID string) string {
	return fmt.Sprintf("%s%s:subdomain", PrefixProject, projectID)
}

// SubdomainKey addresses the subdomain → project mapping.
func SubdomainKey(subdomain string) string {
	return PrefixSubdomain + subdomain
}

// RoomStateKey addresses the durable snapshot of one room actor.
func RoomStateKey(gameID, code string) string {
	return fmt.Sprintf("%s%s:%s", PrefixRoomState, gameID, code)
}
