package handler

import (
	"warden/internal/moderation/models"
	id "warden/pkg/domain"
	"warden/pkg/platform/audit"
)

type HealthResponse struct {
	Status  string            `json:"status"`
	Failing map[string]string `json:"failing,omitempty"`
}

type SubjectResponse struct {
	models.SubjectStatus
	Address string `json:"address,omitempty"`
}

type CorrelatedSubject struct {
	Subject id.SubjectID `json:"subject"`
	Banned  bool         `json:"banned"`
}

type CorrelateResponse struct {
	Address  string              `json:"address"`
	Subjects []CorrelatedSubject `json:"subjects"`
}

type RestrictionView struct {
	models.Restriction
	Active    bool   `json:"active"`
	Remaining string `json:"remaining"`
}

type RestrictionsResponse struct {
	Kind         models.Kind       `json:"kind"`
	Restrictions []RestrictionView `json:"restrictions"`
}

type AuditResponse struct {
	Events []audit.Event `json:"events"`
}
