package remote

import (
	"context"
	"fmt"
	"time"
)

type DayPoint struct {
	LocalDate     string  `json:"local_date"`
	Entries       int     `json:"entries"`
	MeanIntensity float64 `json:"mean_intensity"`
}

// Overview holds service-wide counters for administrators.
type Overview struct {
	TotalUsers          int `json:"total_users"`
	TotalEntries        int `json:"total_entries"`
	ActiveUsersThisWeek int `json:"active_users_this_week"`
	EntriesThisWeek     int `json:"entries_this_week"`
	CBTSessions         int `json:"cbt_sessions"`
}

// DailyEmotionSummary returns one point per day for the days ending at
// refDate (inclusive), oldest first. Days without entries have zero values.
func (t *Tables) DailyEmotionSummary(ctx context.Context, userID string, refDate time.Time, days int) ([]DayPoint, error) {
	if days <= 0 {
		days = 7
	}
	rows, err := t.db.QueryxContext(ctx, `
		SELECT d::date AS local_date,
			COUNT(e.id) AS entries,
			COALESCE(AVG(e.intensity), 0) AS mean_intensity
		FROM generate_series($2::date - ($3::int - 1) * INTERVAL '1 day', $2::date, INTERVAL '1 day') AS d
		LEFT JOIN emotion_entries e ON e.user_id = $1 AND e.created_at::date = d::date
		GROUP BY d
		ORDER BY d`, userID, refDate, days)
	if err != nil {
		return nil, fmt.Errorf("daily emotion summary: %w", err)
	}
	defer rows.Close()

	var out []DayPoint
	for rows.Next() {
		var d time.Time
		var p DayPoint
		if err := rows.Scan(&d, &p.Entries, &p.MeanIntensity); err != nil {
			return nil, fmt.Errorf("scanning summary row: %w", err)
		}
		p.LocalDate = d.Format("2006-01-02")
		out = append(out, p)
	}
	return out, rows.Err()
}

// EmotionCounts counts a user's entries per primary emotion since the given time.
func (t *Tables) EmotionCounts(ctx context.Context, userID string, since time.Time) (map[string]int, error) {
	var rows []struct {
		Emotion string `db:"primary_emotion"`
		Count   int    `db:"n"`
	}
	err := t.db.SelectContext(ctx, &rows, `
		SELECT COALESCE(primary_emotion, 'neutral') AS primary_emotion, COUNT(*) AS n
		FROM emotion_entries
		WHERE user_id = $1 AND created_at >= $2
		GROUP BY 1`, userID, since)
	if err != nil {
		return nil, fmt.Errorf("emotion counts: %w", err)
	}
	out := make(map[string]int, len(rows))
	for _, r := range rows {
		out[r.Emotion] = r.Count
	}
	return out, nil
}

func (t *Tables) Overview(ctx context.Context) (*Overview, error) {
	var out Overview
	err := t.db.QueryRowxContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM users) AS total_users,
			(SELECT COUNT(*) FROM emotion_entries) AS total_entries,
			(SELECT COUNT(DISTINCT user_id) FROM emotion_entries WHERE created_at >= date_trunc('week', NOW())) AS active_users_this_week,
			(SELECT COUNT(*) FROM emotion_entries WHERE created_at >= date_trunc('week', NOW())) AS entries_this_week,
			(SELECT COUNT(*) FROM cbt_sessions) AS cbt_sessions`).
		Scan(&out.TotalUsers, &out.TotalEntries, &out.ActiveUsersThisWeek, &out.EntriesThisWeek, &out.CBTSessions)
	if err != nil {
		return nil, fmt.Errorf("admin overview: %w", err)
	}
	return &out, nil
}
