package protocol

import (
	"encoding/json"
	"testing"
)

func TestCloseCodesDistinct(t *testing.T) {
	codes := []int{
		int(CloseBadHandshake),
		int(CloseAuthFailed),
		int(CloseEvicted),
		int(CloseAlreadyAttached),
		int(CloseCapacity),
		int(CloseInternal),
	}
	seen := make(map[int]bool)
	for _, c := range codes {
		if c < 4000 || c > 4999 {
			t.Errorf("close code %d outside the application range", c)
		}
		if seen[c] {
			t.Errorf("close code %d used twice", c)
		}
		seen[c] = true
	}
}

func TestExitFrame_OmitsNilExitCode(t *testing.T) {
	data, err := json.Marshal(ExitFrame(nil, "idle timeout"))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, present := m["exitCode"]; present {
		t.Error("nil exit code serialized")
	}
	if m["reason"] != "idle timeout" {
		t.Errorf("reason = %v", m["reason"])
	}
}

func TestExitFrame_ZeroExitCodeSerialized(t *testing.T) {
	code := 0
	data, err := json.Marshal(ExitFrame(&code, "shell exited"))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	// A clean zero exit must still reach the client.
	if v, present := m["exitCode"]; !present || v != float64(0) {
		t.Errorf("exitCode = %v, present = %v", v, present)
	}
}

func TestHandshake_FieldNames(t *testing.T) {
	data := []byte(`{"apiKey":"app.k:s","accessToken":"tok","sessionId":"abc"}`)
	var hs Handshake
	if err := json.Unmarshal(data, &hs); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if hs.APIKey != "app.k:s" || hs.AccessToken != "tok" || hs.SessionID != "abc" {
		t.Errorf("handshake = %+v", hs)
	}
}
