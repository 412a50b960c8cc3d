package api

import (
	"time"

	"github.com/mr1hm/go-unrest-alerts/internal/models"
)

type locationDTO struct {
	Latitude   float64 `json:"latitude"`
	Longitude  float64 `json:"longitude"`
	PlaceName  string  `json:"place_name,omitempty"`
	Confidence float64 `json:"confidence"`
}

type incidentDTO struct {
	ID             string       `json:"id"`
	Title          string       `json:"title"`
	Description    string       `json:"description,omitempty"`
	Status         string       `json:"status"`
	Severity       string       `json:"severity"`
	Confidence     float64      `json:"confidence"`
	Location       *locationDTO `json:"location,omitempty"`
	WindowStart    time.Time    `json:"window_start"`
	WindowEnd      time.Time    `json:"window_end"`
	Keywords       []string     `json:"keywords,omitempty"`
	SourceKinds    []string     `json:"source_kinds,omitempty"`
	PostCount      int          `json:"post_count"`
	MergedInto     string       `json:"merged_into,omitempty"`
	StatusLocked   bool         `json:"status_locked,omitempty"`
	SeverityLocked bool         `json:"severity_locked,omitempty"`
	LockReason     string       `json:"lock_reason,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

func toIncidentDTO(inc models.Incident) incidentDTO {
	dto := incidentDTO{
		ID:             inc.ID,
		Title:          inc.Title,
		Description:    inc.Description,
		Status:         string(inc.Status),
		Severity:       string(inc.Severity),
		Confidence:     inc.Confidence,
		WindowStart:    inc.WindowStart,
		WindowEnd:      inc.WindowEnd,
		Keywords:       inc.Keywords,
		PostCount:      inc.PostCount,
		MergedInto:     inc.MergedInto,
		StatusLocked:   inc.StatusLocked,
		SeverityLocked: inc.SeverityLocked,
		LockReason:     inc.LockReason,
		CreatedAt:      inc.CreatedAt,
		UpdatedAt:      inc.UpdatedAt,
	}
	if inc.Location != nil {
		dto.Location = &locationDTO{
			Latitude:   inc.Location.Latitude,
			Longitude:  inc.Location.Longitude,
			PlaceName:  inc.Location.PlaceName,
			Confidence: inc.Location.Confidence,
		}
	}
	for _, k := range inc.SourceKinds {
		dto.SourceKinds = append(dto.SourceKinds, string(k))
	}
	return dto
}

func toIncidentDTOs(incidents []models.Incident) []incidentDTO {
	out := make([]incidentDTO, 0, len(incidents))
	for _, inc := range incidents {
		out = append(out, toIncidentDTO(inc))
	}
	return out
}

type featuresDTO struct {
	Relevance    *float64 `json:"relevance,omitempty"`
	Sentiment    string   `json:"sentiment,omitempty"`
	Entities     []string `json:"entities,omitempty"`
	Keywords     []string `json:"keywords,omitempty"`
	LocationText string   `json:"location_text,omitempty"`
	Participants *int     `json:"participants,omitempty"`
	Language     string   `json:"language,omitempty"`
}

type postDTO struct {
	ID          string       `json:"id"`
	SourceKind  string       `json:"source_kind"`
	Author      string       `json:"author,omitempty"`
	Text        string       `json:"text"`
	URL         string       `json:"url,omitempty"`
	LocationRaw string       `json:"location_raw,omitempty"`
	PublishedAt time.Time    `json:"published_at"`
	Features    *featuresDTO `json:"features,omitempty"`
	Resolved    *locationDTO `json:"resolved,omitempty"`
	IncidentID  string       `json:"incident_id,omitempty"`
	IngestedAt  time.Time    `json:"ingested_at"`
}

func toPostDTO(p models.Post) postDTO {
	dto := postDTO{
		ID:          p.ID,
		SourceKind:  string(p.SourceKind),
		Author:      p.Author,
		Text:        p.Text,
		URL:         p.URL,
		LocationRaw: p.LocationRaw,
		PublishedAt: p.PublishedAt,
		IncidentID:  p.IncidentID,
		IngestedAt:  p.IngestedAt,
	}
	if p.Features != nil {
		f := &featuresDTO{
			Relevance:    p.Features.Relevance,
			Entities:     p.Features.Entities,
			Keywords:     p.Features.Keywords,
			LocationText: p.Features.LocationText,
			Participants: p.Features.Participants,
			Language:     p.Features.Language,
		}
		if p.Features.Sentiment != nil {
			f.Sentiment = string(*p.Features.Sentiment)
		}
		dto.Features = f
	}
	if p.Resolved != nil {
		dto.Resolved = &locationDTO{
			Latitude:   p.Resolved.Latitude,
			Longitude:  p.Resolved.Longitude,
			PlaceName:  p.Resolved.PlaceName,
			Confidence: p.Resolved.Confidence,
		}
	}
	return dto
}

func toPostDTOs(posts []models.Post) []postDTO {
	out := make([]postDTO, 0, len(posts))
	for _, p := range posts {
		out = append(out, toPostDTO(p))
	}
	return out
}

type auditDTO struct {
	ID         string    `json:"id"`
	IncidentID string    `json:"incident_id"`
	TargetID   string    `json:"target_id,omitempty"`
	Action     string    `json:"action"`
	Reason     string    `json:"reason,omitempty"`
	Actor      string    `json:"actor"`
	CreatedAt  time.Time `json:"created_at"`
}

func toAuditDTOs(entries []models.AuditEntry) []auditDTO {
	out := make([]auditDTO, 0, len(entries))
	for _, e := range entries {
		out = append(out, auditDTO{
			ID:         e.ID,
			IncidentID: e.IncidentID,
			TargetID:   e.TargetID,
			Action:     string(e.Action),
			Reason:     e.Reason,
			Actor:      e.Actor,
			CreatedAt:  e.CreatedAt,
		})
	}
	return out
}

type riskFactorDTO struct {
	Name   string  `json:"name"`
	Value  float64 `json:"value"`
	Weight float64 `json:"weight,omitempty"`
	Detail string  `json:"detail,omitempty"`
}

type riskDTO struct {
	Region                string          `json:"region"`
	Window                string          `json:"window"`
	Score                 float64         `json:"score"`
	Level                 string          `json:"level"`
	Confidence            float64         `json:"confidence"`
	SampleSize            int             `json:"sample_size"`
	InsufficientHistory   bool            `json:"insufficient_history,omitempty"`
	EscalationProbability float64         `json:"escalation_probability"`
	Factors               []riskFactorDTO `json:"factors"`
	Reason                string          `json:"reason"`
	GeneratedAt           time.Time       `json:"generated_at"`
}

func toRiskDTO(a models.RiskAssessment) riskDTO {
	dto := riskDTO{
		Region:                a.Region,
		Window:                a.Window.String(),
		Score:                 a.Score,
		Level:                 string(a.Level),
		Confidence:            a.Confidence,
		SampleSize:            a.SampleSize,
		InsufficientHistory:   a.InsufficientHistory,
		EscalationProbability: a.EscalationProbability,
		Reason:                a.Reason,
		GeneratedAt:           a.GeneratedAt,
	}
	for _, f := range a.Factors {
		dto.Factors = append(dto.Factors, riskFactorDTO{
			Name:   f.Name,
			Value:  f.Value,
			Weight: f.Weight,
			Detail: f.Detail,
		})
	}
	return dto
}

type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}
type Feature struct {
	Type       string         `json:"type"`
	Geometry   Geometry       `json:"geometry"`
	Properties map[string]any `json:"properties"`
}
type Geometry struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates"`
}

// toGeoJSON shapes located incidents for map frontends. Unlocated
// incidents have no point to plot and are left out.
func toGeoJSON(incidents []models.Incident) FeatureCollection {
	features := make([]Feature, 0, len(incidents))

	for _, inc := range incidents {
		if inc.Location == nil {
			continue
		}
		f := Feature{
			Type: "Feature",
			Geometry: Geometry{
				Type:        "Point",
				Coordinates: []float64{inc.Location.Longitude, inc.Location.Latitude},
			},
			Properties: map[string]any{
				"id":           inc.ID,
				"title":        inc.Title,
				"status":       string(inc.Status),
				"severity":     string(inc.Severity),
				"confidence":   inc.Confidence,
				"place":        inc.Location.PlaceName,
				"post_count":   inc.PostCount,
				"window_start": inc.WindowStart,
				"window_end":   inc.WindowEnd,
			},
		}
		features = append(features, f)
	}

	return FeatureCollection{
		Type:     "FeatureCollection",
		Features: features,
	}
}
