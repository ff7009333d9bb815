package protocol

import (
	"encoding/json"
	"testing"
)

func TestNewEnvelope(t *testing.T) {
	payload := Handshake{PeerID: "p1", Nickname: "ann", Priority: 3}

	env, err := NewEnvelope(TypeHandshake, "p1", payload)
	if err != nil {
		t.Fatalf("NewEnvelope failed: %v", err)
	}

	if env.V != ProtocolVersion {
		t.Errorf("V = %d, want %d", env.V, ProtocolVersion)
	}
	if env.Type != TypeHandshake {
		t.Errorf("Type = %s, want %s", env.Type, TypeHandshake)
	}
	if env.From != "p1" {
		t.Errorf("From = %s, want p1", env.From)
	}
	if len(env.MsgID) != 16 {
		t.Errorf("MsgID length = %d, want 16", len(env.MsgID))
	}
	if env.SentAt == 0 {
		t.Error("SentAt not stamped")
	}

	var decoded Handshake
	if err := env.DecodePayload(&decoded); err != nil {
		t.Fatalf("DecodePayload failed: %v", err)
	}
	if decoded != payload {
		t.Errorf("decoded payload = %+v, want %+v", decoded, payload)
	}
}

func TestNewEnvelope_NilPayload(t *testing.T) {
	env, err := NewEnvelope(TypePing, "p1", nil)
	if err != nil {
		t.Fatalf("NewEnvelope failed: %v", err)
	}
	if len(env.Payload) != 0 {
		t.Errorf("Payload = %s, want empty", env.Payload)
	}
}

func TestEnvelope_RoundTrip(t *testing.T) {
	env, err := NewEnvelope(TypeSync, "leader", Sync{Playing: true, Position: 42.5, SentAt: 1234})
	if err != nil {
		t.Fatalf("NewEnvelope failed: %v", err)
	}

	data, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var got Envelope
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if err := got.ValidateBasic(); err != nil {
		t.Fatalf("ValidateBasic failed: %v", err)
	}

	var sample Sync
	if err := got.DecodePayload(&sample); err != nil {
		t.Fatalf("DecodePayload failed: %v", err)
	}
	if !sample.Playing || sample.Position != 42.5 || sample.SentAt != 1234 {
		t.Errorf("sample = %+v, want Playing=true Position=42.5 SentAt=1234", sample)
	}
}

func TestEnvelope_ValidateBasic(t *testing.T) {
	tests := []struct {
		name    string
		env     Envelope
		wantErr bool
	}{
		{"valid", Envelope{V: ProtocolVersion, Type: TypePing, MsgID: "abc"}, false},
		{"wrong version", Envelope{V: 99, Type: TypePing, MsgID: "abc"}, true},
		{"missing type", Envelope{V: ProtocolVersion, MsgID: "abc"}, true},
		{"missing msg_id", Envelope{V: ProtocolVersion, Type: TypePing}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.env.ValidateBasic()
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateBasic() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDecodePayload_Empty(t *testing.T) {
	env := Envelope{V: ProtocolVersion, Type: TypePing, MsgID: "abc"}
	var out Handshake
	if err := env.DecodePayload(&out); err == nil {
		t.Error("DecodePayload on empty payload should fail")
	}
}

func TestNewMsgID_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewMsgID()
		if len(id) != 16 {
			t.Fatalf("MsgID length = %d, want 16", len(id))
		}
		if seen[id] {
			t.Fatalf("duplicate MsgID: %s", id)
		}
		seen[id] = true
	}
}
