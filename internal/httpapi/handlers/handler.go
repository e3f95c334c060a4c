package handlers

import (
	"context"

	"pglo/internal/archive"
	"pglo/internal/service"
)

type SyncTrigger interface {
	TriggerSync(context.Context) (bool, error)
	Status() SyncStatus
}

type SyncStatus struct {
	Running    bool
	LastResult *archive.Summary
	LastError  string
}

type Handler struct {
	svc         *service.Service
	syncTrigger SyncTrigger
}

func New(svc *service.Service, syncTrigger SyncTrigger) *Handler {
	return &Handler{
		svc:         svc,
		syncTrigger: syncTrigger,
	}
}
