package store

import "fmt"

// Key families, per spec §6. Exactly two token-storage keys are ever
// written for a given user: the canonical key and, when that user is the
// configured master, one alias. This replaces the teacher's original
// six-pattern token write (Design Note §9).
func PostExitCooldownKey(date, symbol string) string {
	return fmt.Sprintf("post_exit_cooldown:%s:%s", date, symbol)
}

func BrokerTokenKey(userID string) string {
	return fmt.Sprintf("broker_token:%s", userID)
}

func MasterBrokerTokenAliasKey() string {
	return "broker_token:master"
}

func LastSyncKey(userID string) string {
	return fmt.Sprintf("last_sync:%s", userID)
}

const BiasSnapshotKey = "bias:snapshot"

func DedupFingerprintKey(symbol string) string {
	return fmt.Sprintf("dedup_fingerprint:%s", symbol)
}

func HistoricalCandleCacheKey(symbol, interval string) string {
	return fmt.Sprintf("candles:%s:%s", symbol, interval)
}
