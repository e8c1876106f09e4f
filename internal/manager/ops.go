package manager

import (
	"context"
	"errors"

	"inferbridge/internal/bridge"
	"inferbridge/internal/registry"
	"inferbridge/pkg/types"
)

// Init loads model (or the configured default) and reports the outcome.
// Load failures are data in the response; the error return is for requests
// that could not be attempted.
func (m *Manager) Init(ctx context.Context, model string) (types.InitResponse, error) {
	id, err := m.resolveModel(model)
	if err != nil {
		return types.InitResponse{}, err
	}
	ok, err := m.br.Init(ctx, id)
	if err != nil {
		return types.InitResponse{}, mapBridgeErr(err)
	}
	resp := types.InitResponse{Success: ok, Model: id, Status: string(m.br.Status())}
	if !ok {
		resp.Error = detailOf(m.br.LastInitError())
	}
	return resp, nil
}

// Abort stops the running generation, if any.
func (m *Manager) Abort() {
	m.br.Abort()
}

// Terminate stops the worker. The next Init starts a fresh one.
func (m *Manager) Terminate() error {
	return m.br.Terminate()
}

func (m *Manager) resolveModel(model string) (string, error) {
	if model == "" {
		model = m.defaultModel
	}
	if model == "" {
		return "", badRequestError{msg: "model is required (no default configured)"}
	}
	if len(m.registry) > 0 {
		if _, ok := registry.Find(m.registry, model); !ok {
			return "", ErrModelNotFound(model)
		}
	}
	return model, nil
}

// ensureModel loads model unless it is already the ready one.
func (m *Manager) ensureModel(ctx context.Context, model string) error {
	if model == "" || (m.br.Model() == model && m.Ready()) {
		return nil
	}
	resp, err := m.Init(ctx, model)
	if err != nil {
		return err
	}
	if !resp.Success {
		d := types.ErrorDetail{Code: "MODEL_LOAD_FAILED", Message: "model load failed"}
		if resp.Error != nil {
			d = *resp.Error
		}
		return loadFailedError{detail: d}
	}
	return nil
}

func mapBridgeErr(err error) error {
	switch {
	case errors.Is(err, bridge.ErrBusy):
		return tooBusyError{reason: "a chat is in progress"}
	case errors.Is(err, bridge.ErrInitPending):
		return tooBusyError{reason: "another model is loading"}
	case errors.Is(err, bridge.ErrNotReady):
		return notReadyError{}
	case errors.Is(err, bridge.ErrClosed):
		return closedError{}
	case errors.Is(err, bridge.ErrEmptyModel), errors.Is(err, bridge.ErrNoMessages):
		return badRequestError{msg: err.Error()}
	}
	return err
}
