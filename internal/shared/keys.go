package shared

import "fmt"

// RateKey builds the redis key holding the last-known reference quote for a currency.
func RateKey(code string) string {
	return fmt.Sprintf("rates:%s", code)
}

// RateCodesKey is the redis set of currency codes with a stored quote.
const RateCodesKey = "rates:codes"

// TillSnapshotKey builds the redis key caching a till report snapshot.
func TillSnapshotKey(tillID int64) string {
	return fmt.Sprintf("report:till:%d", tillID)
}
