package models

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// ObjectType names a configuration object class under /ima/v1/configuration.
type ObjectType string

const (
	MessageHub             ObjectType = "MessageHub"
	ConnectionPolicy       ObjectType = "ConnectionPolicy"
	MessagingPolicy        ObjectType = "MessagingPolicy"
	TopicPolicy            ObjectType = "TopicPolicy"
	SubscriptionPolicy     ObjectType = "SubscriptionPolicy"
	QueuePolicy            ObjectType = "QueuePolicy"
	Endpoint               ObjectType = "Endpoint"
	SecurityProfile        ObjectType = "SecurityProfile"
	CertificateProfile     ObjectType = "CertificateProfile"
	CRLProfile             ObjectType = "CRLProfile"
	LTPAProfile            ObjectType = "LTPAProfile"
	OAuthProfile           ObjectType = "OAuthProfile"
	ConfigurationPolicy    ObjectType = "ConfigurationPolicy"
	AdminEndpoint          ObjectType = "AdminEndpoint"
	Queue                  ObjectType = "Queue"
	QueueManagerConnection ObjectType = "QueueManagerConnection"
	DestinationMappingRule ObjectType = "DestinationMappingRule"
	TrustedCertificate     ObjectType = "TrustedCertificate"
	ClientCertificate      ObjectType = "ClientCertificate"
	LDAP                   ObjectType = "LDAP"
	ClusterMembership      ObjectType = "ClusterMembership"
	HighAvailability       ObjectType = "HighAvailability"
	Plugin                 ObjectType = "Plugin"
)

var knownTypes = map[ObjectType]struct {
	singleton bool
	deletable bool
}{
	MessageHub:             {false, true},
	ConnectionPolicy:       {false, true},
	MessagingPolicy:        {false, true},
	TopicPolicy:            {false, true},
	SubscriptionPolicy:     {false, true},
	QueuePolicy:            {false, true},
	Endpoint:               {false, true},
	SecurityProfile:        {false, true},
	CertificateProfile:     {false, true},
	CRLProfile:             {false, true},
	LTPAProfile:            {false, true},
	OAuthProfile:           {false, true},
	ConfigurationPolicy:    {false, true},
	AdminEndpoint:          {true, false},
	Queue:                  {false, true},
	QueueManagerConnection: {false, true},
	DestinationMappingRule: {false, true},
	TrustedCertificate:     {false, true},
	ClientCertificate:      {false, true},
	LDAP:                   {true, true},
	ClusterMembership:      {true, true},
	HighAvailability:       {true, true},
	Plugin:                 {false, true},
}

// Known reports whether t is an object type the console manages.
func (t ObjectType) Known() bool {
	_, ok := knownTypes[t]
	return ok
}

// Singleton is true for types configured as one unnamed object.
func (t ObjectType) Singleton() bool {
	return knownTypes[t].singleton
}

// Deletable is false for types the server never lets an admin delete.
func (t ObjectType) Deletable() bool {
	k, ok := knownTypes[t]
	return !ok || k.deletable
}

// ObjectTypes lists the known types in name order.
func ObjectTypes() []ObjectType {
	out := make([]ObjectType, 0, len(knownTypes))
	for t := range knownTypes {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ParseObjectType accepts any known type name, ignoring case.
func ParseObjectType(s string) (ObjectType, error) {
	t := ObjectType(s)
	if t.Known() {
		return t, nil
	}
	for k := range knownTypes {
		if strings.EqualFold(string(k), s) {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown configuration object type %q", s)
}

// Properties are the attributes of a single configuration object. Values are
// kept as the server sent them.
type Properties map[string]any

// ConfigDocument is the body of configuration GET responses and POST
// requests: {"Version":"v1","<Type>":{"<Name>":{...}}}. Singletons hold their
// properties directly under the type key.
type ConfigDocument struct {
	Version string
	Objects map[ObjectType]json.RawMessage
}

func (d ConfigDocument) MarshalJSON() ([]byte, error) {
	m := make(map[string]json.RawMessage, len(d.Objects)+1)
	for t, raw := range d.Objects {
		m[string(t)] = raw
	}
	if d.Version != "" {
		v, _ := json.Marshal(d.Version)
		m["Version"] = v
	}
	return json.Marshal(m)
}

func (d *ConfigDocument) UnmarshalJSON(b []byte) error {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	d.Objects = make(map[ObjectType]json.RawMessage, len(m))
	for k, raw := range m {
		if k == "Version" {
			if err := json.Unmarshal(raw, &d.Version); err != nil {
				return fmt.Errorf("version: %w", err)
			}
			continue
		}
		d.Objects[ObjectType(k)] = raw
	}
	return nil
}

// Named decodes the objects of type t as a name → properties map.
func (d ConfigDocument) Named(t ObjectType) (map[string]Properties, error) {
	raw, ok := d.Objects[t]
	if !ok {
		return nil, nil
	}
	var out map[string]Properties
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%s: %w", t, err)
	}
	return out, nil
}

// Single decodes a singleton object's properties.
func (d ConfigDocument) Single(t ObjectType) (Properties, error) {
	raw, ok := d.Objects[t]
	if !ok {
		return nil, nil
	}
	var out Properties
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%s: %w", t, err)
	}
	return out, nil
}

// Types returns the object types present, sorted.
func (d ConfigDocument) Types() []ObjectType {
	out := make([]ObjectType, 0, len(d.Objects))
	for t := range d.Objects {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// NamedPayload builds the POST body that creates or updates one object.
// A nil props deletes the object when posted.
func NamedPayload(t ObjectType, name string, props Properties) ([]byte, error) {
	if t.Singleton() {
		return json.Marshal(map[string]any{string(t): props})
	}
	return json.Marshal(map[string]any{string(t): map[string]any{name: props}})
}
