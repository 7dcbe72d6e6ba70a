// Package models keeps the capability registry in sync with the target page
// and warms sessions on demand.
//
// The registry is extracted from model objects embedded escaped in the page
// HTML, classified by output modality, and pushed wholesale; the orchestrator
// replaces, never merges. Warmup issues a throwaway evaluation for one model
// just to mint session identifiers, hanging up as soon as it has them.
package models
