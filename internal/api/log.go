package api

import (
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"bairrosgo/pkg/logging"
)

// Regex to capture key=value or key="value with spaces"
var logRegex = regexp.MustCompile(`([a-zA-Z0-9_\-.]+)=(?:"([^"]*)"|([^ ]+))`)

// maxLogParam drops attribute values longer than this from the formatted line.
const maxLogParam = 40

// handleLatestLog serves GET /api/log/latest, or the last n lines with ?n=.
func handleLatestLog(w http.ResponseWriter, r *http.Request) {
	if s := r.URL.Query().Get("n"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("n must be a positive integer"))
			return
		}
		lines := logging.GlobalLogCapture.Tail(n)
		formatted := make([]string, len(lines))
		for i, l := range lines {
			formatted[i] = formatLogLine(l)
		}
		writeJSON(w, http.StatusOK, map[string][]string{"logs": formatted})
		return
	}
	line := logging.GlobalLogCapture.GetLastLine()
	writeJSON(w, http.StatusOK, map[string]string{"log": formatLogLine(line)})
}

// formatLogLine reduces a slog text line to "HH:MM:SS msg (k=v, ...)": level dropped,
// parameters sorted, long values removed.
func formatLogLine(raw string) string {
	matches := logRegex.FindAllStringSubmatch(raw, -1)
	if len(matches) == 0 {
		return raw
	}

	var msg string
	var timeStr string
	var params []string

	for _, m := range matches {
		key := m[1]
		val := m[2]
		if val == "" {
			val = m[3]
		}
		val = strings.TrimSpace(val)

		switch key {
		case "time":
			if t, err := time.Parse(time.RFC3339, val); err == nil {
				timeStr = t.Format("15:04:05")
			}
			continue
		case "level":
			continue
		case "msg":
			msg = val
			continue
		}

		if len(val) > maxLogParam {
			continue
		}
		params = append(params, fmt.Sprintf("%s=%s", key, val))
	}

	if msg == "" {
		return raw
	}

	sort.Strings(params)

	output := msg
	if timeStr != "" {
		output = fmt.Sprintf("%s %s", timeStr, msg)
	}

	if len(params) > 0 {
		return fmt.Sprintf("%s (%s)", output, strings.Join(params, ", "))
	}
	return output
}
