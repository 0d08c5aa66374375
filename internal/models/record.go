package models

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
	"time"
)

// Record is one extracted relationship entry. DedupKey is derived from the
// canonicalized profile reference so the same person seen on different pages
// (or across job resumes) collapses to one record per tenant.
type Record struct {
	DedupKey         string    `json:"dedup_key"`
	TenantID         string    `json:"tenant_id" badgerhold:"index"`
	DisplayName      string    `json:"display_name"`
	Headline         string    `json:"headline,omitempty"`
	Organization     string    `json:"organization,omitempty"`
	RelationshipDate string    `json:"relationship_date,omitempty"`
	ProfileRef       string    `json:"profile_ref"`
	ExtractedAt      time.Time `json:"extracted_at"`
}

// StorageKey scopes the dedup key to the tenant; two tenants extracting the
// same profile keep independent records.
func (r *Record) StorageKey() string {
	return r.TenantID + "/" + r.DedupKey
}

// Merge folds another extraction of the same entity into this record,
// keeping the most recently observed non-empty value for each field. An
// observation older than what is already stored only fills fields the
// stored record is missing; out-of-order upserts never clobber newer data.
func (r *Record) Merge(in *Record) {
	newer := !in.ExtractedAt.Before(r.ExtractedAt)
	if in.DisplayName != "" && (newer || r.DisplayName == "") {
		r.DisplayName = in.DisplayName
	}
	if in.Headline != "" && (newer || r.Headline == "") {
		r.Headline = in.Headline
	}
	if in.Organization != "" && (newer || r.Organization == "") {
		r.Organization = in.Organization
	}
	if in.RelationshipDate != "" && (newer || r.RelationshipDate == "") {
		r.RelationshipDate = in.RelationshipDate
	}
	if in.ProfileRef != "" && (newer || r.ProfileRef == "") {
		r.ProfileRef = in.ProfileRef
	}
	if in.ExtractedAt.After(r.ExtractedAt) {
		r.ExtractedAt = in.ExtractedAt
	}
}

// DedupKeyFromProfileRef canonicalizes the profile URL (lowercased host,
// query and fragment stripped, trailing slash trimmed) and hashes it, so
// cosmetic URL variations map to the same key.
func DedupKeyFromProfileRef(profileRef string) string {
	canonical := strings.TrimSpace(profileRef)
	if u, err := url.Parse(canonical); err == nil && u.Host != "" {
		u.Host = strings.ToLower(u.Host)
		u.RawQuery = ""
		u.Fragment = ""
		u.Path = strings.TrimSuffix(u.Path, "/")
		canonical = u.String()
	} else {
		canonical = strings.TrimSuffix(canonical, "/")
	}

	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:16])
}
