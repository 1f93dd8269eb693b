// Package fhir holds the FHIR resource primitives shared by the domain
// packages. Only the datatypes the server actually emits are modelled;
// resources are rendered as maps by each domain's ToFHIR method.
package fhir

import (
	"time"
)

type Meta struct {
	VersionID   string    `json:"versionId,omitempty"`
	LastUpdated time.Time `json:"lastUpdated,omitempty"`
	Profile     []string  `json:"profile,omitempty"`
}

// Extension is a key/value pair attached to a resource. Exactly one Value*
// field is set per extension.
type Extension struct {
	URL           string     `json:"url"`
	ValueString   string     `json:"valueString,omitempty"`
	ValueInteger  *int       `json:"valueInteger,omitempty"`
	ValueDateTime *time.Time `json:"valueDateTime,omitempty"`
}

// StringExtension builds a valueString extension.
func StringExtension(url, value string) Extension {
	return Extension{URL: url, ValueString: value}
}

// IntExtension builds a valueInteger extension.
func IntExtension(url string, value int) Extension {
	return Extension{URL: url, ValueInteger: &value}
}

// DateTimeExtension builds a valueDateTime extension.
func DateTimeExtension(url string, value time.Time) Extension {
	return Extension{URL: url, ValueDateTime: &value}
}

// FindExtension returns the first extension with the given URL, or nil.
func FindExtension(exts []Extension, url string) *Extension {
	for i := range exts {
		if exts[i].URL == url {
			return &exts[i]
		}
	}
	return nil
}

// OperationOutcome represents a FHIR OperationOutcome for errors.
type OperationOutcome struct {
	ResourceType string                  `json:"resourceType"`
	Issue        []OperationOutcomeIssue `json:"issue"`
}

type OperationOutcomeIssue struct {
	Severity    string `json:"severity"`
	Code        string `json:"code"`
	Diagnostics string `json:"diagnostics,omitempty"`
}

func NewOperationOutcome(severity, code, diagnostics string) *OperationOutcome {
	return &OperationOutcome{
		ResourceType: "OperationOutcome",
		Issue: []OperationOutcomeIssue{
			{
				Severity:    severity,
				Code:        code,
				Diagnostics: diagnostics,
			},
		},
	}
}

func ErrorOutcome(diagnostics string) *OperationOutcome {
	return NewOperationOutcome("error", "processing", diagnostics)
}
