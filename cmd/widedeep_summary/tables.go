// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
)

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)
	oddRowStyle = lipgloss.NewStyle().Faint(false).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Faint(true).
			PaddingLeft(1).PaddingRight(1)
	totalRowStyle = lipgloss.NewStyle().Bold(true).
			PaddingLeft(1).PaddingRight(1)

	titleStyle = lipgloss.NewStyle().Bold(true).Padding(1, 4, 1, 4)
)

// summaryTable is a lipgloss table whose last row, if marked with Total, is rendered in bold.
type summaryTable struct {
	Table    *lgtable.Table
	count    int
	totalRow int
}

func newSummaryTable(headers []string, alignments ...lipgloss.Position) *summaryTable {
	t := &summaryTable{totalRow: -1}
	t.Table = lgtable.New().
		Headers(headers...).
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			switch {
			case row < 0:
				return headerRowStyle
			case row == t.totalRow:
				s = totalRowStyle
			case row%2 == 0:
				s = oddRowStyle
			default:
				s = evenRowStyle
			}
			alignment := lipgloss.Left
			if col < len(alignments) {
				alignment = alignments[col]
			} else if len(alignments) > 0 {
				alignment = alignments[len(alignments)-1]
			}
			return s.Align(alignment)
		})
	return t
}

// Row appends a row.
func (t *summaryTable) Row(row ...string) {
	t.Table.Row(row...)
	t.count++
}

// Total appends a row rendered in bold.
func (t *summaryTable) Total(row ...string) {
	t.totalRow = t.count
	t.Row(row...)
}

// Render returns the table as a string.
func (t *summaryTable) Render() string {
	return t.Table.Render()
}
