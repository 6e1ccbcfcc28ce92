package logging

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// followInterval is how often Follow polls the file for new lines.
const followInterval = 100 * time.Millisecond

// maxLineSize bounds one log line; longer lines are split by the scanner.
const maxLineSize = 1024 * 1024

// Entry is one parsed log line.
type Entry struct {
	Time  time.Time
	Level string
	Msg   string
	Attrs map[string]any

	// Raw is the original line. Lines that are not JSON records are shown
	// as is and never filtered by level.
	Raw   string
	Valid bool
}

// ViewerConfig configures a Viewer.
type ViewerConfig struct {
	// Level hides records below it.
	Level string

	// Pattern, when set, hides lines it does not match.
	Pattern *regexp.Regexp

	NoColor bool
}

// Viewer reads, filters and formats the JSON log written by Setup.
type Viewer struct {
	cfg ViewerConfig
	out io.Writer

	levels map[string]lipgloss.Style
	dim    lipgloss.Style
	code   lipgloss.Style
}

// NewViewer returns a viewer writing to out.
func NewViewer(cfg ViewerConfig, out io.Writer) *Viewer {
	v := &Viewer{cfg: cfg, out: out, levels: map[string]lipgloss.Style{}}
	if !cfg.NoColor {
		v.levels["DEBUG"] = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
		v.levels["INFO"] = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
		v.levels["WARN"] = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
		v.levels["ERROR"] = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
		v.dim = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
		v.code = lipgloss.NewStyle().Foreground(lipgloss.Color("5"))
	}
	return v
}

// Tail returns the matching entries among the last n lines of path.
func (v *Viewer) Tail(path string, n int) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() { _ = f.Close() }()

	if n <= 0 {
		return nil, nil
	}

	// Ring of the last n lines.
	ring := make([]string, n)
	count := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		ring[count%n] = scanner.Text()
		count++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read log file: %w", err)
	}

	first := 0
	if count > n {
		first = count - n
	}
	var entries []Entry
	for i := first; i < count; i++ {
		e := ParseEntry(ring[i%n])
		if v.Matches(e) {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

// Follow sends entries appended to path after the call until ctx is done.
func (v *Viewer) Follow(ctx context.Context, path string, entries chan<- Entry) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() { _ = f.Close() }()

	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("failed to seek to end: %w", err)
	}

	reader := bufio.NewReader(f)
	ticker := time.NewTicker(followInterval)
	defer ticker.Stop()

	var partial string
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		for {
			chunk, err := reader.ReadString('\n')
			partial += chunk
			if err != nil {
				// Incomplete line: keep it until the rest arrives.
				break
			}
			line := strings.TrimRight(partial, "\r\n")
			partial = ""
			if line == "" {
				continue
			}
			e := ParseEntry(line)
			if !v.Matches(e) {
				continue
			}
			select {
			case entries <- e:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// ParseEntry parses one line of the JSON log.
func ParseEntry(line string) Entry {
	e := Entry{Raw: line}

	var data map[string]any
	if err := json.Unmarshal([]byte(line), &data); err != nil {
		return e
	}
	e.Valid = true

	if t, ok := data["time"].(string); ok {
		if parsed, err := time.Parse(time.RFC3339Nano, t); err == nil {
			e.Time = parsed
		}
	}
	e.Level, _ = data["level"].(string)
	e.Msg, _ = data["msg"].(string)

	delete(data, "time")
	delete(data, "level")
	delete(data, "msg")
	e.Attrs = data
	return e
}

// Matches reports whether e passes the level and pattern filters.
func (v *Viewer) Matches(e Entry) bool {
	if v.cfg.Level != "" && e.Valid && ParseLevel(e.Level) < ParseLevel(v.cfg.Level) {
		return false
	}
	if v.cfg.Pattern != nil && !v.cfg.Pattern.MatchString(e.Raw) {
		return false
	}
	return true
}

// Format renders an entry as "15:04:05.000 LEVEL msg key=value ...",
// attributes sorted by key with error_code first.
func (v *Viewer) Format(e Entry) string {
	if !e.Valid {
		return e.Raw
	}

	level := fmt.Sprintf("%-5s", strings.ToUpper(e.Level))
	if style, ok := v.levels[strings.ToUpper(e.Level)]; ok {
		level = style.Render(level)
	}

	var sb strings.Builder
	sb.WriteString(v.render(v.dim, e.Time.Format("15:04:05.000")))
	sb.WriteString(" ")
	sb.WriteString(level)
	sb.WriteString(" ")
	sb.WriteString(e.Msg)

	keys := make([]string, 0, len(e.Attrs))
	for k := range e.Attrs {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if (keys[i] == "error_code") != (keys[j] == "error_code") {
			return keys[i] == "error_code"
		}
		return keys[i] < keys[j]
	})
	for _, k := range keys {
		kv := fmt.Sprintf("%s=%v", k, e.Attrs[k])
		if k == "error_code" {
			kv = v.render(v.code, kv)
		}
		sb.WriteString(" ")
		sb.WriteString(kv)
	}
	return sb.String()
}

func (v *Viewer) render(style lipgloss.Style, s string) string {
	if v.cfg.NoColor {
		return s
	}
	return style.Render(s)
}

// Print writes entries, one per line.
func (v *Viewer) Print(entries []Entry) {
	for _, e := range entries {
		_, _ = fmt.Fprintln(v.out, v.Format(e))
	}
}
