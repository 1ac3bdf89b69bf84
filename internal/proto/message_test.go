package proto

import (
	"encoding/json"
	"testing"
)

func TestDecodeFlatFrames(t *testing.T) {
	in, err := Decode([]byte(`{"type":"message","sessionId":"S1","text":"hi"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if in.Type != TypeMessage || in.SessionID != "S1" || in.Text != "hi" {
		t.Fatalf("unexpected frame: %+v", in)
	}

	if _, err := Decode([]byte(`{"type":`)); err == nil {
		t.Fatalf("expected malformed frame error")
	}
}

func TestPresenceFrameKeepsOfflineFlag(t *testing.T) {
	offline := false
	data, err := json.Marshal(Outbound{Type: TypePresence, UserID: "alice", Online: &offline})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `{"type":"presence","userId":"alice","online":false}` {
		t.Fatalf("unexpected presence frame: %s", data)
	}
}
