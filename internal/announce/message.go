package announce

import (
	"fmt"

	"trackbot/internal/store"
)

// Message is the structured notification payload handed to the chat
// platform. The platform client owns actual transmission.
type Message struct {
	Title        string
	Description  string
	Fields       []Field
	ThumbnailURL string
	Color        int
}

type Field struct {
	Name   string
	Value  string
	Inline bool
}

const (
	colorTime = 0x2ecc71
	colorRank = 0x3498db
)

// FormatTime renders integer milliseconds as m:ss.mmm.
func FormatTime(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	min := ms / 60_000
	sec := (ms % 60_000) / 1000
	rem := ms % 1000
	return fmt.Sprintf("%d:%02d.%03d", min, sec, rem)
}

// FormatDelta renders an improvement in seconds, e.g. "-0.342s".
func FormatDelta(ms int64) string {
	return fmt.Sprintf("-%d.%03ds", ms/1000, ms%1000)
}

func renderTime(row store.TimeRecordRow, prev *int64) Message {
	m := Message{
		Title:        "New personal best",
		Description:  fmt.Sprintf("**%s** set a new time on **%s**", row.Player.DisplayName, row.Track.Name),
		ThumbnailURL: row.Track.ThumbnailURL,
		Color:        colorTime,
		Fields: []Field{
			{Name: "Time", Value: FormatTime(row.Record.TimeMS), Inline: true},
		},
	}
	if prev != nil && *prev > row.Record.TimeMS {
		m.Fields = append(m.Fields, Field{
			Name:   "Improvement",
			Value:  FormatDelta(*prev - row.Record.TimeMS),
			Inline: true,
		})
	}
	return m
}

func renderRank(row store.RankRecordRow) Message {
	m := Message{
		Title:        "Leaderboard update",
		Description:  fmt.Sprintf("**%s** moved on the world leaderboard of **%s**", row.Player.DisplayName, row.Track.Name),
		ThumbnailURL: row.Track.ThumbnailURL,
		Color:        colorRank,
	}
	if row.Record.Position != nil {
		m.Fields = append(m.Fields, Field{
			Name:   "World rank",
			Value:  fmt.Sprintf("#%d", *row.Record.Position),
			Inline: true,
		})
	}
	return m
}
