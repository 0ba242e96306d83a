package ui

import (
	"fmt"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/bamsammich/cellar/internal/versioning"
)

const activeMark = "●"

// StateTable renders a bottle's states, oldest first, marking the active
// one.
func StateTable(st versioning.States) string {
	activeRow := -1
	rows := make([][]string, 0, len(st.States))
	for i, s := range st.States {
		mark := ""
		if s.ID == st.Active {
			mark = activeMark
			activeRow = i
		}
		rows = append(rows, []string{mark, strconv.Itoa(s.ID), FormatTimestamp(s.Timestamp), s.Message})
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(styleDivider).
		Headers("", "ID", "CREATED", "MESSAGE").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return styleHeader
			case row == activeRow:
				return styleActive
			case col == 2:
				return styleMuted
			}
			return styleCell
		})
	return t.String()
}

// StateSummary is the one-line footer printed under StateTable.
func StateSummary(kind string, st versioning.States) string {
	active := "none"
	if st.Active >= 0 {
		active = strconv.Itoa(st.Active)
	}
	return fmt.Sprintf("%d states  active %s  backend %s", len(st.States), active, kind)
}
