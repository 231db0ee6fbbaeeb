package bunstore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/xraph/hookline/id"
	"github.com/xraph/hookline/internal/entity"
	"github.com/xraph/hookline/record"
	"github.com/xraph/hookline/route"
)

// --- Relay record models ---

type relayModel struct {
	bun.BaseModel `bun:"table:hookline_relays,alias:r"`

	ID              string          `bun:"id,pk"`
	Mode            string          `bun:"mode"`
	RouteID         string          `bun:"route_id,nullzero"`
	ReferenceID     string          `bun:"reference_id"`
	Status          int             `bun:"status"`
	SourceIP        string          `bun:"source_ip"`
	Provider        string          `bun:"provider"`
	Headers         json.RawMessage `bun:"headers,type:jsonb"`
	Method          string          `bun:"method"`
	URL             string          `bun:"url"`
	Payload         json.RawMessage `bun:"payload,type:jsonb"`
	ResponseStatus  int             `bun:"response_status"`
	ResponsePayload json.RawMessage `bun:"response_payload,type:jsonb"`
	FailureReason   *int            `bun:"failure_reason"`
	AttemptCount    int             `bun:"attempt_count"`
	NextRetryAt     *time.Time      `bun:"next_retry_at"`
	ProcessingAt    *time.Time      `bun:"processing_at"`
	CompletedAt     *time.Time      `bun:"completed_at"`
	CreatedAt       time.Time       `bun:"created_at"`
	UpdatedAt       time.Time       `bun:"updated_at"`
}

func toRelayModel(rec *record.Relay) *relayModel {
	headers, _ := json.Marshal(rec.Headers)       //nolint:errcheck // string map
	payload, _ := json.Marshal(rec.Payload)       //nolint:errcheck // captured values are JSON-safe
	resp, _ := json.Marshal(rec.ResponsePayload)  //nolint:errcheck // bounded snapshot
	m := &relayModel{
		ID:              rec.ID.String(),
		Mode:            string(rec.Mode),
		RouteID:         rec.RouteID.String(),
		ReferenceID:     rec.ReferenceID,
		Status:          int(rec.Status),
		SourceIP:        rec.SourceIP,
		Provider:        rec.Provider,
		Headers:         headers,
		Method:          rec.Method,
		URL:             rec.URL,
		Payload:         payload,
		ResponseStatus:  rec.ResponseStatus,
		ResponsePayload: resp,
		AttemptCount:    rec.AttemptCount,
		NextRetryAt:     rec.NextRetryAt,
		ProcessingAt:    rec.ProcessingAt,
		CompletedAt:     rec.CompletedAt,
		CreatedAt:       rec.CreatedAt,
		UpdatedAt:       rec.UpdatedAt,
	}
	if rec.FailureReason != nil {
		n := int(*rec.FailureReason)
		m.FailureReason = &n
	}
	return m
}

func fromRelayModel(m *relayModel) (*record.Relay, error) {
	recID, err := id.ParseRecordID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse record ID %q: %w", m.ID, err)
	}
	routeID := id.Nil
	if m.RouteID != "" {
		routeID, err = id.ParseRouteID(m.RouteID)
		if err != nil {
			return nil, fmt.Errorf("parse route ID %q: %w", m.RouteID, err)
		}
	}
	rec := &record.Relay{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:             recID,
		Mode:           record.Mode(m.Mode),
		RouteID:        routeID,
		ReferenceID:    m.ReferenceID,
		Status:         record.Status(m.Status),
		SourceIP:       m.SourceIP,
		Provider:       m.Provider,
		Method:         m.Method,
		URL:            m.URL,
		ResponseStatus: m.ResponseStatus,
		AttemptCount:   m.AttemptCount,
		NextRetryAt:    m.NextRetryAt,
		ProcessingAt:   m.ProcessingAt,
		CompletedAt:    m.CompletedAt,
	}
	if m.FailureReason != nil {
		r := record.FailureReason(*m.FailureReason)
		rec.FailureReason = &r
	}
	if len(m.Headers) > 0 {
		if err := json.Unmarshal(m.Headers, &rec.Headers); err != nil {
			return nil, fmt.Errorf("decode headers for %s: %w", m.ID, err)
		}
	}
	rec.Payload = decodeJSONColumn(m.Payload)
	rec.ResponsePayload = decodeJSONColumn(m.ResponsePayload)
	return rec, nil
}

// decodeJSONColumn turns a stored jsonb value back into the loose any the
// domain types carry. JSON null means the field was never set.
func decodeJSONColumn(raw json.RawMessage) any {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	return v
}

// --- Archive models ---

// archiveModel mirrors relayModel with the archive stamp. The primary key is
// the original relay id, so a record can be archived at most once.
type archiveModel struct {
	bun.BaseModel `bun:"table:hookline_relay_archives,alias:a"`

	ID              string          `bun:"id,pk"`
	Mode            string          `bun:"mode"`
	RouteID         string          `bun:"route_id,nullzero"`
	ReferenceID     string          `bun:"reference_id"`
	Status          int             `bun:"status"`
	SourceIP        string          `bun:"source_ip"`
	Provider        string          `bun:"provider"`
	Headers         json.RawMessage `bun:"headers,type:jsonb"`
	Method          string          `bun:"method"`
	URL             string          `bun:"url"`
	Payload         json.RawMessage `bun:"payload,type:jsonb"`
	ResponseStatus  int             `bun:"response_status"`
	ResponsePayload json.RawMessage `bun:"response_payload,type:jsonb"`
	FailureReason   *int            `bun:"failure_reason"`
	AttemptCount    int             `bun:"attempt_count"`
	NextRetryAt     *time.Time      `bun:"next_retry_at"`
	ProcessingAt    *time.Time      `bun:"processing_at"`
	CompletedAt     *time.Time      `bun:"completed_at"`
	ArchivedAt      time.Time       `bun:"archived_at"`
	CreatedAt       time.Time       `bun:"created_at"`
	UpdatedAt       time.Time       `bun:"updated_at"`
}

func toArchiveModel(arc *record.Archive) *archiveModel {
	rm := toRelayModel(&arc.Relay)
	return &archiveModel{
		ID:              rm.ID,
		Mode:            rm.Mode,
		RouteID:         rm.RouteID,
		ReferenceID:     rm.ReferenceID,
		Status:          rm.Status,
		SourceIP:        rm.SourceIP,
		Provider:        rm.Provider,
		Headers:         rm.Headers,
		Method:          rm.Method,
		URL:             rm.URL,
		Payload:         rm.Payload,
		ResponseStatus:  rm.ResponseStatus,
		ResponsePayload: rm.ResponsePayload,
		FailureReason:   rm.FailureReason,
		AttemptCount:    rm.AttemptCount,
		NextRetryAt:     rm.NextRetryAt,
		ProcessingAt:    rm.ProcessingAt,
		CompletedAt:     rm.CompletedAt,
		ArchivedAt:      arc.ArchivedAt,
		CreatedAt:       rm.CreatedAt,
		UpdatedAt:       rm.UpdatedAt,
	}
}

func fromArchiveModel(m *archiveModel) (*record.Archive, error) {
	rec, err := fromRelayModel(&relayModel{
		ID:              m.ID,
		Mode:            m.Mode,
		RouteID:         m.RouteID,
		ReferenceID:     m.ReferenceID,
		Status:          m.Status,
		SourceIP:        m.SourceIP,
		Provider:        m.Provider,
		Headers:         m.Headers,
		Method:          m.Method,
		URL:             m.URL,
		Payload:         m.Payload,
		ResponseStatus:  m.ResponseStatus,
		ResponsePayload: m.ResponsePayload,
		FailureReason:   m.FailureReason,
		AttemptCount:    m.AttemptCount,
		NextRetryAt:     m.NextRetryAt,
		ProcessingAt:    m.ProcessingAt,
		CompletedAt:     m.CompletedAt,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	})
	if err != nil {
		return nil, err
	}
	return &record.Archive{Relay: *rec, ArchivedAt: m.ArchivedAt}, nil
}

// --- Route models ---

type routeModel struct {
	bun.BaseModel `bun:"table:hookline_routes,alias:rt"`

	ID             string          `bun:"id,pk"`
	Identifier     string          `bun:"identifier,unique"`
	Method         string          `bun:"method"`
	Path           string          `bun:"path"`
	Mode           string          `bun:"mode"`
	DestinationURL string          `bun:"destination_url"`
	Headers        json.RawMessage `bun:"headers,type:jsonb"`
	Policy         json.RawMessage `bun:"policy,type:jsonb"`
	Enabled        bool            `bun:"enabled"`
	CreatedAt      time.Time       `bun:"created_at"`
	UpdatedAt      time.Time       `bun:"updated_at"`
}

func toRouteModel(rt *route.Route) *routeModel {
	headers, _ := json.Marshal(rt.Headers) //nolint:errcheck // string map
	policy, _ := json.Marshal(rt.Policy)   //nolint:errcheck // plain struct
	return &routeModel{
		ID:             rt.ID.String(),
		Identifier:     rt.Identifier,
		Method:         rt.Method,
		Path:           rt.Path,
		Mode:           string(rt.Mode),
		DestinationURL: rt.DestinationURL,
		Headers:        headers,
		Policy:         policy,
		Enabled:        rt.Enabled,
		CreatedAt:      rt.CreatedAt,
		UpdatedAt:      rt.UpdatedAt,
	}
}

func fromRouteModel(m *routeModel) (*route.Route, error) {
	rtID, err := id.ParseRouteID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse route ID %q: %w", m.ID, err)
	}
	rt := &route.Route{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:             rtID,
		Identifier:     m.Identifier,
		Method:         m.Method,
		Path:           m.Path,
		Mode:           record.Mode(m.Mode),
		DestinationURL: m.DestinationURL,
		Enabled:        m.Enabled,
	}
	if len(m.Headers) > 0 {
		if err := json.Unmarshal(m.Headers, &rt.Headers); err != nil {
			return nil, fmt.Errorf("decode headers for %s: %w", m.ID, err)
		}
	}
	if len(m.Policy) > 0 {
		if err := json.Unmarshal(m.Policy, &rt.Policy); err != nil {
			return nil, fmt.Errorf("decode policy for %s: %w", m.ID, err)
		}
	}
	return rt, nil
}
