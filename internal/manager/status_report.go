package manager

import (
	"time"

	"inferbridge/pkg/types"
)

// Status returns the bridge state together with server metadata.
func (m *Manager) Status() types.StatusResponse {
	now := time.Now()
	m.mu.Lock()
	var last *types.ErrorDetail
	if m.lastErr != nil {
		e := *m.lastErr
		last = &e
	}
	m.mu.Unlock()
	return types.StatusResponse{
		Status:         string(m.br.Status()),
		Model:          m.br.Model(),
		WorkerMode:     m.workerMode,
		LastError:      last,
		UptimeSeconds:  int64(now.Sub(m.startedAt).Seconds()),
		ServerTimeUnix: now.Unix(),
	}
}
