package bot

import (
	"fmt"
	"strconv"
	"strings"

	"channel_monitor/internal/model"
)

// ParseIDArg extracts a numeric ID from a command argument string.
func ParseIDArg(args string) (int64, error) {
	s := strings.TrimSpace(args)
	if s == "" {
		return 0, fmt.Errorf("ID is required")
	}
	id, err := strconv.ParseInt(strings.Fields(s)[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid ID %q", s)
	}
	return id, nil
}

// ParseLimitArg extracts a result count between 1 and 50.
func ParseLimitArg(args string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(args))
	if err != nil || n < 1 || n > 50 {
		return 0, fmt.Errorf("count must be between 1 and 50")
	}
	return n, nil
}

// ParseWindowArgs parses /addwindow arguments.
// Format: <name> <HH:MM> <HH:MM> [days]
func ParseWindowArgs(args string) (model.ScheduleWindow, error) {
	parts := strings.Fields(args)
	if len(parts) < 3 {
		return model.ScheduleWindow{}, fmt.Errorf("usage: /addwindow <name> <HH:MM> <HH:MM> [days]")
	}

	w := model.ScheduleWindow{
		Name:      parts[0],
		StartTime: parts[1],
		EndTime:   parts[2],
	}
	if len(parts) > 3 {
		w.Days = parts[3]
	}
	return w, nil
}
