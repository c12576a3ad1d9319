package ui

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zhoujie-jay/kcore/internal/bcache"
	"github.com/zhoujie-jay/kcore/internal/queue"
)

type fakeStats struct {
	stats bcache.Stats
}

func (f *fakeStats) Stats() bcache.Stats {
	return f.stats
}

func newTestModel(t *testing.T) (TeaModel, *Handler) {
	t.Helper()

	handler := &Handler{
		workload: queue.NewGenericQueue[int](),
		cache:    &fakeStats{},
	}

	return NewTeaModel(handler, func() {}), handler
}

func update(t *testing.T, m TeaModel, msg tea.Msg) TeaModel {
	t.Helper()

	updated, _ := m.Update(msg)

	model, ok := updated.(TeaModel)
	require.True(t, ok)

	return model
}

// TestTeaModel_View_Success tests rendering before and after the first
// window size.
func TestTeaModel_View_Success(t *testing.T) {
	t.Parallel()

	m, handler := newTestModel(t)
	assert.Equal(t, "Loading the monitor...", m.View())

	m = update(t, m, tea.WindowSizeMsg{Width: 160, Height: 50})
	assert.True(t, handler.Ready.Load())
	assert.Equal(t, 78, m.splitWidthWithBorders)
	assert.Equal(t, 158, m.logsViewport.Width)
	assert.Equal(t, 27, m.logsViewport.Height)

	view := m.View()
	assert.Contains(t, view, "Workload")
	assert.Contains(t, view, "Block Cache")
	assert.Contains(t, view, "Kernel Log")
}

// TestTeaModel_Status_Success tests that status snapshots reach the panels.
func TestTeaModel_Status_Success(t *testing.T) {
	t.Parallel()

	m, _ := newTestModel(t)
	m = update(t, m, tea.WindowSizeMsg{Width: 200, Height: 60})

	now := time.Now()
	m = update(t, m, StatusMsg{
		t: now,
		workload: queue.Progress{
			HasStarted:        true,
			StartTime:         now,
			ProgressPct:       50,
			TotalItems:        10,
			ProcessedItems:    5,
			SuccessItems:      4,
			FailedItems:       1,
			Bytes:             3 << 20,
			ETA:               now.Add(time.Minute),
			TransferSpeed:     1 << 20,
			TransferSpeedUnit: queue.UnitBytes,
		},
		cache: bcache.Stats{
			BlockSize:     4096,
			BlocksPerArea: 256,
			Areas:         2,
			Present:       512,
			InUse:         300,
			Free:          212,
			MappedBytes:   2 << 20,
		},
	})

	workload := m.workloadDetails()
	assert.Contains(t, workload, "Progress: 50.00% (5/10)")
	assert.Contains(t, workload, "Success=4, Failed=1")
	assert.Contains(t, workload, "Moved: 3.0 MiB (1.0 MiB/s)")
	assert.Contains(t, workload, "(1m0s left)")

	cache := m.cacheDetails()
	assert.Contains(t, cache, "InUse=300, Free=212")
	assert.Contains(t, cache, "Areas: 2 of 4.0 KiB x 256 (2.0 MiB mapped)")

	m = update(t, m, StatusMsg{
		t: now,
		workload: queue.Progress{
			HasStarted:        true,
			HasFinished:       true,
			StartTime:         now,
			FinishTime:        now,
			TransferSpeedUnit: queue.UnitItems,
		},
	})
	assert.Contains(t, m.workloadDetails(), "Finished=")
}

// TestTeaModel_Logs_Success tests that the log buffer is bounded.
func TestTeaModel_Logs_Success(t *testing.T) {
	t.Parallel()

	m, _ := newTestModel(t)
	m = update(t, m, tea.WindowSizeMsg{Width: 120, Height: 40})

	for range maxLogLines + 20 {
		m = update(t, m, LogMsg("line\n"))
	}
	m = update(t, m, LogMsg("last\n"))

	require.Len(t, m.logs, maxLogLines)
	assert.Equal(t, "last\n", m.logs[maxLogLines-1])
}

// TestTeaUI is an integration test for the monitor.
func TestTeaUI(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	var in bytes.Buffer

	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Second)
	defer cancel()

	q := queue.NewGenericQueue[int]()
	handler := &Handler{workload: q, cache: &fakeStats{stats: bcache.Stats{BlockSize: 4096, BlocksPerArea: 8}}}
	model := NewTeaModel(handler, cancel)
	program := tea.NewProgram(model, tea.WithInput(&in), tea.WithOutput(&buf), tea.WithAltScreen(), tea.WithContext(ctx))

	handler.program = program
	handler.LogWriter = NewTeaLogWriter(handler.program)

	go func() {
		for !handler.Ready.Load() && !handler.Failed.Load() {
			time.Sleep(time.Millisecond)
			program.Send(tea.WindowSizeMsg{Width: 200, Height: 200})
		}

		q.Enqueue(1, 2, 3)
		_ = q.DequeueAndProcess(ctx, func(int) int {
			time.Sleep(100 * time.Millisecond)

			return queue.DecisionSuccess
		})
	}()

	go func() {
		for !handler.Ready.Load() {
			if handler.Failed.Load() {
				return
			}
			time.Sleep(time.Millisecond)
		}

		program.Send(LogMsg("log1"))
		time.Sleep(time.Millisecond)

		_, _ = handler.LogWriter.Write([]byte("log2"))
		for range 150 {
			_, _ = handler.LogWriter.Write([]byte("fast logs"))
		}

		program.Send(tea.WindowSizeMsg{Width: 200, Height: 250})

		time.Sleep(3 * time.Second)
		handler.Quit()
	}()

	require.NoError(t, handler.Launch())

	by := buf.Bytes()
	require.NotEmpty(t, by, "monitor generated no output at all")
	assert.True(t, bytes.Contains(by, []byte("log1")), "first log message not shown")
	assert.True(t, bytes.Contains(by, []byte("log2")), "second log message not shown")
	assert.True(t, bytes.Contains(by, []byte("Finished")), "progress panel not updated")
}

// TestTeaUI_Ctrl_C tests that ctrl+c cancels the upstream context.
func TestTeaUI_Ctrl_C(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	var in bytes.Buffer

	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Second)
	defer cancel()

	handler := &Handler{workload: queue.NewGenericQueue[int](), cache: &fakeStats{}}

	model := NewTeaModel(handler, cancel)
	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithInput(&in), tea.WithOutput(&buf), tea.WithContext(ctx))

	handler.program = program
	handler.LogWriter = NewTeaLogWriter(handler.program)

	go func() {
		for !handler.Ready.Load() {
			if handler.Failed.Load() {
				return
			}
			time.Sleep(time.Millisecond)
			program.Send(tea.WindowSizeMsg{Width: 100, Height: 40})
		}

		program.Send(tea.KeyMsg{Type: tea.KeyCtrlC})
	}()

	err := handler.Launch()
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
	assert.NotZero(t, buf.Len())
}
