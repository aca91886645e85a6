package db

import (
	"context"
	"fmt"
	"time"
)

// NextNumber allocates the next per-day document number for prefix, e.g.
// RFQ-20250101-007. The counter row is upserted so concurrent callers in
// separate transactions serialise on it.
func NextNumber(ctx context.Context, q DBTX, prefix string, day time.Time) (string, error) {
	var seq int
	err := q.QueryRow(ctx, `
		INSERT INTO document_sequences (prefix, day, last_value)
		VALUES ($1, $2, 1)
		ON CONFLICT (prefix, day) DO UPDATE SET last_value = document_sequences.last_value + 1
		RETURNING last_value`, prefix, day.Format(time.DateOnly)).Scan(&seq)
	if err != nil {
		return "", fmt.Errorf("platform/db: next %s number: %w", prefix, err)
	}
	return FormatNumber(prefix, day, seq), nil
}

// FormatNumber renders prefix-YYYYMMDD-NNN. Sequences above 999 keep all digits.
func FormatNumber(prefix string, day time.Time, seq int) string {
	return fmt.Sprintf("%s-%s-%03d", prefix, day.Format("20060102"), seq)
}
