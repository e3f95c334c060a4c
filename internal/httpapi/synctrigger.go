package httpapi

import (
	"context"
	"io"
	"log"
	"sync"

	"pglo/internal/archive"
	"pglo/internal/httpapi/handlers"
)

type archiveRunner interface {
	Run(context.Context) (archive.Summary, error)
}

// SyncTrigger starts archive runs on demand, one at a time.
type SyncTrigger struct {
	runner archiveRunner
	logger *log.Logger

	mu         sync.Mutex
	running    bool
	lastResult *archive.Summary
	lastError  error
	done       chan struct{}
}

func NewSyncTrigger(runner archiveRunner, logger *log.Logger) *SyncTrigger {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &SyncTrigger{runner: runner, logger: logger}
}

func (st *SyncTrigger) TriggerSync(_ context.Context) (bool, error) {
	st.mu.Lock()
	if st.running {
		st.mu.Unlock()
		return false, nil
	}
	st.running = true
	done := make(chan struct{})
	st.done = done
	st.mu.Unlock()

	go func() {
		defer close(done)
		summary, err := st.runner.Run(context.Background())

		st.mu.Lock()
		st.running = false
		st.lastResult = &summary
		if err != nil {
			st.lastError = err
			st.logger.Printf("manual archive run failed: %v", err)
		} else {
			st.lastError = nil
			st.logger.Printf(
				"manual archive run finished: objects=%d exported=%d failed=%d bytes=%d",
				summary.Objects, summary.Exported, summary.Failed, summary.Bytes,
			)
		}
		st.mu.Unlock()
	}()

	return true, nil
}

// Wait blocks until the current run, if any, has finished.
func (st *SyncTrigger) Wait() {
	st.mu.Lock()
	done := st.done
	st.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (st *SyncTrigger) Status() handlers.SyncStatus {
	st.mu.Lock()
	defer st.mu.Unlock()

	errStr := ""
	if st.lastError != nil {
		errStr = st.lastError.Error()
	}
	return handlers.SyncStatus{
		Running:    st.running,
		LastResult: st.lastResult,
		LastError:  errStr,
	}
}
