package cloudlink

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/nerrad567/gray-logic-cloudlink/internal/infrastructure/mqtt"
)

// CloudConfig holds the cloud broker parameters returned by get_config.
type CloudConfig struct {
	Address   string
	ClientID  string
	Username  string
	Password  string
	TopicSub  string
	TopicPub  string
	QoS       byte
	KeepAlive uint16
}

// providerResponse is the outer shape of get_config and gen_request answers.
type providerResponse struct {
	Code json.RawMessage `json:"code"`
	Data json.RawMessage `json:"data"`
}

type cloudConfigData struct {
	Address   *string         `json:"address"`
	ClientID  *string         `json:"client_id"`
	User      *string         `json:"user"`
	Password  *string         `json:"password"`
	TopicSub  *string         `json:"topic_sub"`
	TopicPub  *string         `json:"topic_pub"`
	QoS       json.RawMessage `json:"qos"`
	KeepAlive json.RawMessage `json:"keepalive"`
}

// ParseCloudConfig validates a get_config response.
//
// The response must be {"code":0,"data":{...}} with every field present and
// correctly typed. Any violation rejects the whole response.
func ParseCloudConfig(raw string) (CloudConfig, error) {
	data, err := decodeResponse([]byte(raw))
	if err != nil {
		return CloudConfig{}, err
	}

	var d cloudConfigData
	if err := json.Unmarshal(data, &d); err != nil {
		return CloudConfig{}, fmt.Errorf("%w: data: %w", ErrInvalidCloudConfig, err)
	}

	for _, f := range []struct {
		name string
		v    *string
	}{
		{"address", d.Address},
		{"client_id", d.ClientID},
		{"user", d.User},
		{"password", d.Password},
		{"topic_sub", d.TopicSub},
		{"topic_pub", d.TopicPub},
	} {
		if f.v == nil {
			return CloudConfig{}, fmt.Errorf("%w: missing %s", ErrInvalidCloudConfig, f.name)
		}
	}

	if *d.Address == "" {
		return CloudConfig{}, fmt.Errorf("%w: empty address", ErrInvalidCloudConfig)
	}
	if _, err := mqtt.ParseAddress(*d.Address); err != nil {
		return CloudConfig{}, fmt.Errorf("%w: address: %w", ErrInvalidCloudConfig, err)
	}
	if *d.TopicSub == "" {
		return CloudConfig{}, fmt.Errorf("%w: empty topic_sub", ErrInvalidCloudConfig)
	}
	if err := mqtt.ValidateTopic(*d.TopicPub); err != nil {
		return CloudConfig{}, fmt.Errorf("%w: topic_pub: %w", ErrInvalidCloudConfig, err)
	}

	qos, err := integerField("qos", d.QoS, 0, 2)
	if err != nil {
		return CloudConfig{}, err
	}
	keepalive, err := integerField("keepalive", d.KeepAlive, 0, math.MaxUint16)
	if err != nil {
		return CloudConfig{}, err
	}

	return CloudConfig{
		Address:   *d.Address,
		ClientID:  *d.ClientID,
		Username:  *d.User,
		Password:  *d.Password,
		TopicSub:  *d.TopicSub,
		TopicPub:  *d.TopicPub,
		QoS:       byte(qos),
		KeepAlive: uint16(keepalive),
	}, nil
}

// decodeResponse checks code == 0 and returns the raw data member.
func decodeResponse(raw []byte) (json.RawMessage, error) {
	var resp providerResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCloudConfig, err)
	}
	code, ok := numberValue(resp.Code)
	if !ok {
		return nil, fmt.Errorf("%w: code is not a number", ErrInvalidCloudConfig)
	}
	if code != 0 {
		return nil, fmt.Errorf("%w: code %v", ErrInvalidCloudConfig, code)
	}
	if !isJSONObject(resp.Data) {
		return nil, fmt.Errorf("%w: data is not an object", ErrInvalidCloudConfig)
	}
	return resp.Data, nil
}

// numberValue returns the value of a raw JSON number. Strings, booleans,
// null and absent members are not numbers.
func numberValue(raw json.RawMessage) (float64, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return 0, false
	}
	if c := trimmed[0]; c != '-' && (c < '0' || c > '9') {
		return 0, false
	}
	f, err := strconv.ParseFloat(string(trimmed), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// integerField checks that raw is an integer within [lo, hi].
func integerField(name string, raw json.RawMessage, lo, hi int64) (int64, error) {
	f, ok := numberValue(raw)
	if !ok {
		return 0, fmt.Errorf("%w: %s must be a number", ErrInvalidCloudConfig, name)
	}
	if f != math.Trunc(f) || f < float64(lo) || f > float64(hi) {
		return 0, fmt.Errorf("%w: %s %v out of range %d-%d", ErrInvalidCloudConfig, name, f, lo, hi)
	}
	return int64(f), nil
}

// isJSONObject reports whether raw holds a JSON object.
func isJSONObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}
