package fvt

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, s string) any {
	t.Helper()
	var v any
	require.NoError(t, json.Unmarshal([]byte(s), &v))
	return v
}

func TestSubsetObjects(t *testing.T) {
	actual := decode(t, `{"Version":"v1","ConnectionPolicy":{"TestConnPol":{"ClientID":"*","Description":"x","AllowDurable":true,"MaxSessionExpiryInterval":0}}}`)

	require.NoError(t, Subset(map[string]any{
		"ConnectionPolicy": map[string]any{"TestConnPol": map[string]any{"ClientID": "*", "AllowDurable": true}},
	}, actual))

	// YAML integers compare with JSON numbers
	require.NoError(t, Subset(map[string]any{
		"ConnectionPolicy": map[string]any{"TestConnPol": map[string]any{"MaxSessionExpiryInterval": 0}},
	}, actual))

	err := Subset(map[string]any{"ConnectionPolicy": map[string]any{"Other": map[string]any{}}}, actual)
	require.EqualError(t, err, "$.ConnectionPolicy.Other: missing")

	err = Subset(map[string]any{"ConnectionPolicy": map[string]any{"TestConnPol": map[string]any{"ClientID": "a"}}}, actual)
	require.EqualError(t, err, `$.ConnectionPolicy.TestConnPol.ClientID: expected "a", got "*"`)
}

func TestSubsetArraysUnordered(t *testing.T) {
	actual := decode(t, `{"MQTTClient":[{"ClientID":"a-ian-uid11","IsConnected":false},{"ClientID":"d:org:pub:cid1","IsConnected":false}],"Version":"v1"}`)

	require.NoError(t, Subset(decode(t, `{"MQTTClient":[{"ClientID":"d:org:pub:cid1"},{"ClientID":"a-ian-uid11"}]}`), actual))

	err := Subset(decode(t, `{"MQTTClient":[]}`), actual)
	require.EqualError(t, err, "$.MQTTClient: expected 0 elements, got 2")

	err = Subset(decode(t, `{"MQTTClient":[{"ClientID":"a-ian-uid11"},{"ClientID":"a-ian-uid11"}]}`), actual)
	require.Error(t, err)
	require.Contains(t, err.Error(), "$.MQTTClient[1]: no element matches")
}

func TestSubsetArraysBroadElementFirst(t *testing.T) {
	// {} matches either element; it must leave {"a":1} for the second one.
	require.NoError(t, Subset(decode(t, `[{},{"a":1}]`), decode(t, `[{"a":1},{"b":2}]`)))

	actual := decode(t, `{"MQTTClient":[{"ClientID":"c1","IsConnected":false},{"ClientID":"c2","IsConnected":false},{"ClientID":"c3","IsConnected":true}]}`)
	require.NoError(t, Subset(decode(t, `{"MQTTClient":[{"IsConnected":false},{"IsConnected":true},{"ClientID":"c1"}]}`), actual))

	err := Subset(decode(t, `[{"a":1},{"a":1}]`), decode(t, `[{"a":1},{"b":2}]`))
	require.EqualError(t, err, `$[1]: no element matches {"a":1}`)
}

func TestSubsetTypeMismatch(t *testing.T) {
	require.Error(t, Subset(map[string]any{"a": 1}, []any{}))
	require.Error(t, Subset([]any{1}, map[string]any{}))
	require.Error(t, Subset(nil, "x"))
	require.NoError(t, Subset(nil, nil))
}
