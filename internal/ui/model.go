// ABOUTME: Bubbletea model for the playback monitor
// ABOUTME: Shows device latency, sync error and correction counters
package ui

import (
	"fmt"
	"strings"

	"github.com/Sendspin/sendspin-playback/internal/source"
	isync "github.com/Sendspin/sendspin-playback/internal/sync"
	"github.com/Sendspin/sendspin-playback/pkg/playback"
	tea "github.com/charmbracelet/bubbletea"
)

const boxWidth = 54

// Model represents the TUI state
type Model struct {
	// Device
	backend string
	device  string

	// Metadata
	title  string
	artist string
	album  string

	// Playback
	pipeline playback.PipelineStats
	havePipe bool

	// Source
	src     source.Stats
	haveSrc bool

	// Runtime
	goroutines int
	memAlloc   uint64
	memSys     uint64

	showDebug bool
	ctrl      *Control

	// Dimensions
	width  int
	height int
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return nil
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case StatusMsg:
		m.applyStatus(msg)
	}

	return m, nil
}

// View renders the TUI
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString(m.renderOutput())
	b.WriteString(m.renderSync())
	b.WriteString(m.renderStats())
	if m.showDebug {
		b.WriteString(m.renderDebug())
	}
	b.WriteString(m.renderHelp())
	return b.String()
}

func line(format string, args ...any) string {
	return fmt.Sprintf("│ %-*s │\n", boxWidth-2, truncate(fmt.Sprintf(format, args...), boxWidth-2))
}

// renderHeader renders pipeline status and the current track
func (m Model) renderHeader() string {
	status := "Idle"
	if m.havePipe {
		status = m.pipeline.Status.String()
	}

	s := "┌─ Sendspin Playback ──────────────────────────────────┐\n"
	s += line("Status: %s", status)
	if m.title != "" {
		s += line("Track:  %s", m.title)
		s += line("Artist: %s", m.artist)
		s += line("Album:  %s", m.album)
	} else {
		s += line("(No metadata)")
	}
	return s
}

// renderOutput renders the device and its measured latency
func (m Model) renderOutput() string {
	s := "├──────────────────────────────────────────────────────┤\n"
	s += line("Output: %s %s", m.backend, m.device)
	if !m.havePipe {
		return s + line("Not configured")
	}

	p := m.pipeline
	s += line("Format: %dHz %s %s", p.DeviceFormat.SampleRate, channelName(p.DeviceFormat.Channels), p.DeviceFormat.BitDepth)
	if p.StreamRate != 0 && p.StreamRate != p.DeviceFormat.SampleRate {
		s += line("Stream: %dHz (converted)", p.StreamRate)
	}
	s += line("Latency: %.1fms actual (%.1fms requested)",
		p.Latency.ActualLatencyMs, float64(p.Latency.RequestedMicros)/1000)
	s += line("Buffer: %d frames, period %d", p.Latency.ActualBufferFrames, p.Latency.ActualPeriodFrames)
	return s
}

// renderSync renders the sync error and correction strategy
func (m Model) renderSync() string {
	s := "├──────────────────────────────────────────────────────┤\n"

	icon, text := "✗", "Lost"
	if m.haveSrc {
		switch m.src.Quality {
		case isync.QualityGood:
			icon = "✓"
			text = fmt.Sprintf("Synced (error: %+.1fms)", float64(m.src.SyncErrorMicros)/1000)
		case isync.QualityDegraded:
			icon = "⚠"
			text = fmt.Sprintf("Degraded (error: %+.1fms)", float64(m.src.SyncErrorMicros)/1000)
		}
	}
	s += line("Sync: %s %s", icon, text)

	if m.havePipe {
		strategy := m.pipeline.Strategy
		if strategy == playback.StrategyRate {
			strategy = fmt.Sprintf("%s (%.4fx)", strategy, m.pipeline.PlaybackRate)
		}
		s += line("Correction: %s", strategy)
	}
	if m.haveSrc {
		s += line("Buffered: %dms", m.src.Buffered.Milliseconds())
	}
	return s
}

// renderStats renders correction and device counters
func (m Model) renderStats() string {
	s := "├──────────────────────────────────────────────────────┤\n"
	d := m.pipeline.Diagnostics
	s += line("Dropped: %d  Inserted: %d  Silence: %d", d.Dropped, d.Inserted, d.Silence)
	s += line("XRuns: %d  Recoveries: %d  Frames: %d", m.pipeline.XRuns, m.pipeline.Recoveries, m.pipeline.FramesWritten)
	if m.haveSrc {
		s += line("Chunks: RX %d  Played %d  Late %d  Overflow %d",
			m.src.Received, m.src.Played, m.src.Late, m.src.Overflowed)
	}
	return s
}

// renderHelp renders keyboard shortcuts
func (m Model) renderHelp() string {
	return line("r:Re-anchor  d:Debug  q:Quit") +
		"└──────────────────────────────────────────────────────┘\n"
}

// renderDebug renders debug information
func (m Model) renderDebug() string {
	d := m.pipeline.Diagnostics
	s := line("DEBUG:")
	s += line("  Reads: %d (%d empty)", d.TotalReads, d.ZeroReads)
	if !d.FirstSuccessfulRead.IsZero() && !d.FirstRead.IsZero() {
		s += line("  First audio after: %v", d.FirstSuccessfulRead.Sub(d.FirstRead))
	}
	s += line("  Upstream dropped: %d samples", d.UpstreamDropped)
	s += line("  Skipped at start: %d frames", m.src.SkippedFrames)
	s += line("  Goroutines: %d", m.goroutines)
	s += line("  Memory: %.1f MB alloc / %.1f MB sys",
		float64(m.memAlloc)/(1024*1024), float64(m.memSys)/(1024*1024))
	return s
}

// handleKey handles keyboard input
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		if m.ctrl != nil {
			m.ctrl.signalQuit()
		}
		return m, tea.Quit
	case "r":
		if m.ctrl != nil {
			m.ctrl.signalReanchor()
		}
	case "d":
		m.showDebug = !m.showDebug
	}

	return m, nil
}

// applyStatus updates model from status message
func (m *Model) applyStatus(msg StatusMsg) {
	if msg.Backend != "" {
		m.backend = msg.Backend
		m.device = msg.Device
	}
	if msg.Title != "" {
		m.title = msg.Title
		m.artist = msg.Artist
		m.album = msg.Album
	}
	if msg.Pipeline != nil {
		m.pipeline = *msg.Pipeline
		m.havePipe = true
	}
	if msg.Source != nil {
		m.src = *msg.Source
		m.haveSrc = true
	}
	if msg.Goroutines != 0 {
		m.goroutines = msg.Goroutines
		m.memAlloc = msg.MemAlloc
		m.memSys = msg.MemSys
	}
}

// StatusMsg updates TUI state. Zero or nil fields leave the current value.
type StatusMsg struct {
	Backend    string
	Device     string
	Title      string
	Artist     string
	Album      string
	Pipeline   *playback.PipelineStats
	Source     *source.Stats
	Goroutines int
	MemAlloc   uint64
	MemSys     uint64
}

func truncate(s string, length int) string {
	if len([]rune(s)) <= length {
		return s
	}
	r := []rune(s)
	return string(r[:length-3]) + "..."
}

func channelName(channels int) string {
	switch channels {
	case 1:
		return "Mono"
	case 2:
		return "Stereo"
	default:
		return fmt.Sprintf("%dch", channels)
	}
}
