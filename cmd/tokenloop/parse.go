package main

import (
	"fmt"
	"strconv"
	"strings"
)

// parseIntRows parses "1,2,3;4,5,6" into one row per ';' separated group.
func parseIntRows(s string) ([][]int, error) {
	var rows [][]int
	for i, group := range strings.Split(s, ";") {
		group = strings.TrimSpace(group)
		if group == "" {
			continue
		}
		row, err := parseInts(group)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("no token ids given")
	}
	return rows, nil
}

func parseInts(s string) ([]int, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' })
	out := make([]int, 0, len(fields))
	for _, f := range fields {
		v, err := strconv.Atoi(f)
		if err != nil {
			return nil, fmt.Errorf("invalid token id %q", f)
		}
		out = append(out, v)
	}
	return out, nil
}

// parseFloatRows parses "0.1,2.5;-1,3" into a score matrix.
func parseFloatRows(s string) ([][]float64, error) {
	var rows [][]float64
	for i, group := range strings.Split(s, ";") {
		group = strings.TrimSpace(group)
		if group == "" {
			continue
		}
		fields := strings.FieldsFunc(group, func(r rune) bool { return r == ',' || r == ' ' })
		row := make([]float64, 0, len(fields))
		for _, f := range fields {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, fmt.Errorf("row %d: invalid score %q", i, f)
			}
			row = append(row, v)
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("no scores given")
	}
	return rows, nil
}

// repeatRows tiles a single prompt row into a batch of n.
func repeatRows(rows [][]int, n int) [][]int {
	if n <= 1 || len(rows) != 1 {
		return rows
	}
	out := make([][]int, n)
	for i := range out {
		out[i] = append([]int(nil), rows[0]...)
	}
	return out
}

func formatRow(row []int) string {
	parts := make([]string, len(row))
	for i, id := range row {
		parts[i] = strconv.Itoa(id)
	}
	return strings.Join(parts, " ")
}
