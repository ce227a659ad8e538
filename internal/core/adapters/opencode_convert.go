package adapters

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/neilberkman/agentrider/internal/core/models"
)

// ocDocument is the shape of `opencode export`; the storage reader assembles the same
type ocDocument struct {
	Info     ocSessionInfo `json:"info"`
	Messages []ocMessage   `json:"messages"`
}

type ocSessionInfo struct {
	ID        string `json:"id"`
	Slug      string `json:"slug,omitempty"`
	Version   string `json:"version,omitempty"`
	ProjectID string `json:"projectID,omitempty"`
	Directory string `json:"directory,omitempty"`
	Title     string `json:"title,omitempty"`
	ParentID  string `json:"parentID,omitempty"`
	Time      struct {
		Created int64 `json:"created"`
		Updated int64 `json:"updated"`
	} `json:"time"`
	Summary *struct {
		Additions int `json:"additions"`
		Deletions int `json:"deletions"`
		Files     int `json:"files"`
	} `json:"summary,omitempty"`
}

type ocMessage struct {
	Info  ocMessageInfo `json:"info"`
	Parts []ocPart      `json:"parts"`
}

type ocMessageInfo struct {
	ID         string `json:"id"`
	SessionID  string `json:"sessionID"`
	Role       string `json:"role"`
	ModelID    string `json:"modelID,omitempty"`
	ProviderID string `json:"providerID,omitempty"`
	Model      *struct {
		ProviderID string `json:"providerID"`
		ModelID    string `json:"modelID"`
	} `json:"model,omitempty"`
	Cost   float64 `json:"cost,omitempty"`
	Tokens *struct {
		Input     int64 `json:"input"`
		Output    int64 `json:"output"`
		Reasoning int64 `json:"reasoning"`
	} `json:"tokens,omitempty"`
	Time struct {
		Created   int64 `json:"created"`
		Completed int64 `json:"completed,omitempty"`
	} `json:"time"`
	Error json.RawMessage `json:"error,omitempty"`
}

type ocPart struct {
	ID        string       `json:"id"`
	MessageID string       `json:"messageID,omitempty"`
	Type      string       `json:"type"`
	Text      string       `json:"text,omitempty"`
	Synthetic bool         `json:"synthetic,omitempty"`
	Filename  string       `json:"filename,omitempty"`
	CallID    string       `json:"callID,omitempty"`
	Tool      string       `json:"tool,omitempty"`
	State     *ocToolState `json:"state,omitempty"`
}

type ocToolState struct {
	Status string          `json:"status"`
	Input  json.RawMessage `json:"input,omitempty"`
	Output string          `json:"output,omitempty"`
	Error  string          `json:"error,omitempty"`
	Time   *struct {
		Start int64 `json:"start"`
		End   int64 `json:"end"`
	} `json:"time,omitempty"`
}

// epochTime converts OpenCode timestamps, which are millis when > 1e12 and seconds otherwise
func epochTime(v int64) time.Time {
	if v <= 0 {
		return time.Time{}
	}
	if v > 1e12 {
		return time.UnixMilli(v).UTC()
	}
	return time.Unix(v, 0).UTC()
}

// convertDocument maps an export document onto a session draft
func convertDocument(doc *ocDocument) (SessionDraft, error) {
	if doc.Info.ID == "" {
		return SessionDraft{}, fmt.Errorf("session info has no id")
	}

	var (
		events     []models.Event
		seen       span
		cost       float64
		prompt     int64
		completion int64
		model      string
		provider   string
	)
	seen.add(epochTime(doc.Info.Time.Created))
	seen.add(epochTime(doc.Info.Time.Updated))

	for i, msg := range doc.Messages {
		created := epochTime(msg.Info.Time.Created)
		if created.IsZero() {
			created = epochTime(doc.Info.Time.Created)
		}
		seen.add(created)

		if m, p := msg.Info.modelProvider(); m != "" {
			model, provider = m, p
		}
		cost += msg.Info.Cost
		if msg.Info.Tokens != nil {
			prompt += msg.Info.Tokens.Input
			completion += msg.Info.Tokens.Output + msg.Info.Tokens.Reasoning
		}

		ordinal := 0
		next := func() int {
			ordinal++
			return lineSeq(i+1, ordinal-1)
		}

		role := models.RoleFrom(msg.Info.Role)
		if text := messageText(msg.Parts); text != "" {
			kind := models.KindMessage
			if role == models.RoleNone {
				kind = models.KindSystem
			}
			events = append(events, models.Event{
				Kind:       kind,
				Role:       role,
				Content:    text,
				Timestamp:  created,
				Seq:        next(),
				NativeID:   msg.Info.ID,
				RawPayload: marshalRaw(msg.Info),
			})
		}

		for _, part := range msg.Parts {
			if part.Type != "tool" {
				continue
			}
			events = append(events, toolEvents(part, created, next)...)
		}
	}

	meta := payload{}
	meta.set("project_id", doc.Info.ProjectID).
		set("slug", doc.Info.Slug).
		set("version", doc.Info.Version).
		set("model", model).
		set("provider", provider).
		set("cost", cost).
		set("prompt_tokens", prompt).
		set("completion_tokens", completion)
	if doc.Info.Summary != nil {
		meta.set("summary", doc.Info.Summary)
	}

	createdAt, updatedAt := seen.bounds(time.Time{})
	return SessionDraft{
		Session: models.Session{
			Source:     models.SourceOpenCode,
			ExternalID: doc.Info.ID,
			Project:    doc.Info.Directory,
			Title:      doc.Info.Title,
			CreatedAt:  createdAt,
			UpdatedAt:  updatedAt,
			RawPayload: meta.raw(),
		},
		Events: events,
	}, nil
}

func (m *ocMessageInfo) modelProvider() (string, string) {
	if m.ModelID != "" {
		return m.ModelID, m.ProviderID
	}
	if m.Model != nil {
		return m.Model.ModelID, m.Model.ProviderID
	}
	return "", ""
}

// messageText joins the text parts; attachments are named, tool parts become their own events
func messageText(parts []ocPart) string {
	var texts []string
	for _, p := range parts {
		switch p.Type {
		case "text":
			if strings.TrimSpace(p.Text) != "" {
				texts = append(texts, p.Text)
			}
		case "reasoning":
			if strings.TrimSpace(p.Text) != "" {
				texts = append(texts, thinkingPrefix+p.Text)
			}
		case "file":
			texts = append(texts, "[file: "+p.Filename+"]")
		}
	}
	return strings.Join(texts, "\n\n")
}

// toolEvents turns one tool part into a call and, once finished, its result
func toolEvents(part ocPart, fallback time.Time, seq func() int) []models.Event {
	state := part.State
	if state == nil {
		state = &ocToolState{Status: "pending"}
	}
	start, end := fallback, time.Time{}
	if state.Time != nil {
		if t := epochTime(state.Time.Start); !t.IsZero() {
			start = t
		}
		end = epochTime(state.Time.End)
	}

	args := string(state.Input)
	if args == "" {
		args = "{}"
	}
	failed := state.Status == "error"
	events := []models.Event{{
		Kind:       models.KindToolCall,
		Role:       models.RoleAssistant,
		Content:    models.ToolCallContent(part.Tool, args),
		Timestamp:  start,
		Seq:        seq(),
		NativeID:   part.ID,
		ToolName:   part.Tool,
		ToolCallID: part.CallID,
		IsError:    failed,
		RawPayload: marshalRaw(part),
	}}

	if state.Status != "completed" && state.Status != "error" {
		return events
	}
	if end.IsZero() {
		end = start
	}
	output := state.Output
	if failed && state.Error != "" {
		output = state.Error
	}
	return append(events, models.Event{
		Kind:       models.KindToolResult,
		Content:    output,
		Timestamp:  end,
		Seq:        seq(),
		NativeID:   part.ID + ":result",
		ToolName:   part.Tool,
		ToolCallID: part.CallID,
		IsError:    failed,
	})
}

func marshalRaw(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}
