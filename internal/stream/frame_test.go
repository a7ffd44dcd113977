package stream

import (
	"encoding/json"
	"testing"
)

func TestParseFrameEventAndData(t *testing.T) {
	frame, err := ParseFrame("event: assistant_delta\ndata: {\"delta\":\"Hi\"}")
	if err != nil {
		t.Fatalf("ParseFrame: %v", err)
	}
	if frame.Event != "assistant_delta" {
		t.Fatalf("Event = %q, want assistant_delta", frame.Event)
	}

	var payload struct {
		Delta string `json:"delta"`
	}
	if err := json.Unmarshal(frame.Data, &payload); err != nil {
		t.Fatalf("unmarshal data: %v", err)
	}
	if payload.Delta != "Hi" {
		t.Fatalf("delta = %q, want Hi", payload.Delta)
	}
}

func TestParseFrameMultipleDataLinesConcatenate(t *testing.T) {
	raw := "event: task_summary\n" +
		"data: {\"tasks\":[\n" +
		"data: {\"id\":\"t1\",\"status\":\"pending\"}\n" +
		"data: ]}"
	frame, err := ParseFrame(raw)
	if err != nil {
		t.Fatalf("ParseFrame: %v", err)
	}

	var payload struct {
		Tasks []struct {
			ID string `json:"id"`
		} `json:"tasks"`
	}
	if err := json.Unmarshal(frame.Data, &payload); err != nil {
		t.Fatalf("unmarshal concatenated data: %v", err)
	}
	if len(payload.Tasks) != 1 || payload.Tasks[0].ID != "t1" {
		t.Fatalf("tasks = %+v", payload.Tasks)
	}
}

func TestParseFrameNoEventHeader(t *testing.T) {
	frame, err := ParseFrame("data: {\"type\":\"start\",\"data\":{}}")
	if err != nil {
		t.Fatalf("ParseFrame: %v", err)
	}
	if frame.Event != "" {
		t.Fatalf("Event = %q, want empty (no explicit header)", frame.Event)
	}
}

func TestParseFrameEmptyDataParsesToObject(t *testing.T) {
	frame, err := ParseFrame("event: interrupted")
	if err != nil {
		t.Fatalf("ParseFrame: %v", err)
	}
	if string(frame.Data) != "{}" {
		t.Fatalf("Data = %s, want {}", frame.Data)
	}
}

func TestParseFrameMalformedJSON(t *testing.T) {
	_, err := ParseFrame("event: error\ndata: {broken")
	if err == nil {
		t.Fatal("expected error for malformed json")
	}
}
