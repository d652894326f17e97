package cloudlink

import (
	"encoding/json"
	"testing"

	"github.com/nerrad567/gray-logic-cloudlink/internal/infrastructure/mqtt"
)

func TestBuildEnvelope(t *testing.T) {
	tests := []struct {
		name     string
		topic    string
		payload  string
		wantData string
	}{
		{"object", "t1", `{"a":1}`, `{"a":1}`},
		{"object with spaces", "t1", "{ \"a\" : [1, 2] }", `{"a":[1,2]}`},
		{"number", "t2", `42`, `42`},
		{"plain text", "t3", `not-json`, `"not-json"`},
		{"empty", "t4", ``, `""`},
		{"quotes in text", "t5", `say "hi"`, `"say \"hi\""`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := BuildEnvelope("plugin/unicom/callback", "handler", tt.topic, []byte(tt.payload))
			if err != nil {
				t.Fatalf("BuildEnvelope() error: %v", err)
			}

			env := decodeEnvelope(t, raw)
			if env.Method != "call" || env.Module != "plugin/unicom/callback" || env.Function != "handler" {
				t.Errorf("envelope head = %+v", env)
			}
			if env.Args.Topic != tt.topic {
				t.Errorf("topic = %q, want %q", env.Args.Topic, tt.topic)
			}
			if env.Args.To != mqtt.ReplyPrefix {
				t.Errorf("to = %q, want %q", env.Args.To, mqtt.ReplyPrefix)
			}
			if string(env.Args.Data) != tt.wantData {
				t.Errorf("data = %s, want %s", env.Args.Data, tt.wantData)
			}
		})
	}
}

func TestBuildEnvelope_FallbackIsString(t *testing.T) {
	raw, err := BuildEnvelope("m", "f", "t", []byte("not-json"))
	if err != nil {
		t.Fatalf("BuildEnvelope() error: %v", err)
	}

	var env struct {
		Param []any `json:"param"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	args, ok := env.Param[2].(map[string]any)
	if !ok {
		t.Fatalf("param[2] = %T, want object", env.Param[2])
	}
	if data, ok := args["data"].(string); !ok || data != "not-json" {
		t.Errorf("data = %#v, want string not-json", args["data"])
	}
}

func TestIsNoData(t *testing.T) {
	tests := []struct {
		payload string
		want    bool
	}{
		{`{"code":-10405}`, true},
		{`{"code": -10405, "msg": "no data"}`, true},
		{`{"code":-10405.0}`, true},
		{`{"code":0,"data":{}}`, false},
		{`{"code":"-10405"}`, false},
		{`{"data":{"code":-10405}}`, false},
		{`[{"code":-10405}]`, false},
		{`-10405`, false},
		{`null`, false},
		{`garbage`, false},
		{``, false},
	}

	for _, tt := range tests {
		if got := isNoData([]byte(tt.payload)); got != tt.want {
			t.Errorf("isNoData(%q) = %v, want %v", tt.payload, got, tt.want)
		}
	}
}

func TestParseReport(t *testing.T) {
	tests := []struct {
		raw  string
		ok   bool
		data string
	}{
		{`{"code":0,"data":{"method":"call"}}`, true, `{"method":"call"}`},
		{`{"code":0.0,"data":{}}`, true, `{}`},
		{`{"code":2,"data":{"method":"call"}}`, false, ""},
		{`{"code":0,"data":"call"}`, false, ""},
		{`{"code":0}`, false, ""},
		{`{"data":{}}`, false, ""},
		{`nope`, false, ""},
	}

	for _, tt := range tests {
		data, ok := parseReport(tt.raw)
		if ok != tt.ok {
			t.Errorf("parseReport(%s) ok = %v, want %v", tt.raw, ok, tt.ok)
			continue
		}
		if ok && string(data) != tt.data {
			t.Errorf("parseReport(%s) data = %s, want %s", tt.raw, data, tt.data)
		}
	}
}

func TestNewClientID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 16; i++ {
		id, err := NewClientID()
		if err != nil {
			t.Fatalf("NewClientID() error: %v", err)
		}
		if len(id) != 20 {
			t.Errorf("NewClientID() = %q, want 20 chars", id)
		}
		if seen[id] {
			t.Errorf("NewClientID() repeated %q", id)
		}
		seen[id] = true
	}
}
