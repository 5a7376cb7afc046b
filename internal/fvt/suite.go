// Package fvt runs function verification suites against a live messaging
// server: REST calls to the admin endpoint checked against expected replies,
// and MQTT clients that publish, subscribe and count deliveries.
package fvt

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Duration reads "5s"-style strings or plain seconds.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	var s string
	if err := n.Decode(&s); err != nil {
		return err
	}
	if v, err := time.ParseDuration(s); err == nil {
		*d = Duration(v)
		return nil
	}
	var secs float64
	if err := n.Decode(&secs); err != nil {
		return fmt.Errorf("invalid duration %q", s)
	}
	*d = Duration(secs * float64(time.Second))
	return nil
}

// Std converts to time.Duration, falling back to def when unset.
func (d Duration) Std(def time.Duration) time.Duration {
	if d == 0 {
		return def
	}
	return time.Duration(d)
}

// Server is an admin endpoint a suite talks to.
type Server struct {
	URL      string `yaml:"url"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Insecure bool   `yaml:"insecure"`
}

// Suite is one file of test cases.
type Suite struct {
	Name    string            `yaml:"name"`
	Servers map[string]Server `yaml:"servers"`
	// Brokers maps an alias to an MQTT broker URL.
	Brokers map[string]string `yaml:"brokers"`
	Vars    map[string]string `yaml:"vars"`
	Timeout Duration          `yaml:"timeout"`
	Cases   []Case            `yaml:"cases"`

	File string `yaml:"-"`
}

// Case is a named sequence of steps. A case stops at its first failing step.
type Case struct {
	Name    string   `yaml:"name"`
	Skip    bool     `yaml:"skip"`
	Timeout Duration `yaml:"timeout"`
	Steps   []Step   `yaml:"steps"`
}

// Step is either a REST call, a pause, a restart wait or an MQTT action.
type Step struct {
	Name string `yaml:"name"`

	Method string            `yaml:"method"`
	Server string            `yaml:"server"`
	Path   string            `yaml:"path"`
	Query  map[string]string `yaml:"query"`
	// Body is a JSON string or an object encoded as JSON.
	Body any `yaml:"body"`
	// Set overrides body fields by JSON path after substitution.
	Set    map[string]any `yaml:"set"`
	Expect *Expect        `yaml:"expect"`

	Sleep          Duration  `yaml:"sleep"`
	WaitForRestart *WaitSpec `yaml:"waitForRestart"`

	MQTT *MQTTStep `yaml:"mqtt"`
}

// Expect describes an acceptable reply.
type Expect struct {
	// Status defaults to any 2xx.
	Status int    `yaml:"status"`
	Code   string `yaml:"code"`
	// Message must equal the reply message; MessageContains is a substring.
	Message         string `yaml:"message"`
	MessageContains string `yaml:"messageContains"`
	// JSON is matched as a subset of the reply.
	JSON any `yaml:"json"`
	// Absent maps a list key such as ConnectionPolicy to object names that
	// must not appear under it.
	Absent map[string][]string `yaml:"absent"`
	// Paths maps JSON paths to the values expected there. Variables in a
	// path expand to a single path component.
	Paths map[string]any `yaml:"paths"`
}

// WaitSpec waits for a server to come back from a restart.
type WaitSpec struct {
	Server  string   `yaml:"server"`
	Delay   Duration `yaml:"delay"`
	Timeout Duration `yaml:"timeout"`
}

// MQTT step actions.
const (
	ActionConnect     = "connect"
	ActionDisconnect  = "disconnect"
	ActionPublish     = "publish"
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
	ActionExpect      = "expect"
	ActionProbe       = "probe"
)

// MQTTStep drives named MQTT clients.
type MQTTStep struct {
	Action string `yaml:"action"`
	Client string `yaml:"client"`
	Broker string `yaml:"broker"`
	// Clients fans connect out to several clients named client#0..n-1;
	// publish and disconnect then apply to all of them.
	Clients      int      `yaml:"clients"`
	ClientID     string   `yaml:"clientID"`
	Username     string   `yaml:"username"`
	Password     string   `yaml:"password"`
	CleanSession *bool    `yaml:"cleanSession"`
	Topic        string   `yaml:"topic"`
	QoS          byte     `yaml:"qos"`
	Retained     bool     `yaml:"retained"`
	Payload      string   `yaml:"payload"`
	Count        int      `yaml:"count"`
	Messages     int64    `yaml:"messages"`
	Payloads     []string `yaml:"payloads"`
	Timeout      Duration `yaml:"timeout"`
	Subprotocols []string `yaml:"subprotocols"`

	// Connect tuning.
	Retries         uint64   `yaml:"retries"`
	ProtocolVersion uint     `yaml:"protocolVersion"`
	KeepAlive       Duration `yaml:"keepAlive"`
	Insecure        bool     `yaml:"insecure"`
	WillTopic       string   `yaml:"willTopic"`
	WillPayload     string   `yaml:"willPayload"`
	WillQoS         byte     `yaml:"willQoS"`
	WillRetained    bool     `yaml:"willRetained"`

	// Fail inverts the outcome: the action is expected to be refused.
	Fail bool `yaml:"fail"`
}

// Kind names what a step does, for reports.
func (s Step) Kind() string {
	switch {
	case s.MQTT != nil:
		return "mqtt " + s.MQTT.Action
	case s.WaitForRestart != nil:
		return "waitForRestart"
	case s.Sleep != 0 && s.Path == "":
		return "sleep"
	}
	return strings.ToUpper(s.method()) + " " + s.Path
}

func (s Step) method() string {
	if s.Method == "" {
		return "GET"
	}
	return strings.ToUpper(s.Method)
}

// Label is the step name or its kind.
func (s Step) Label(i int) string {
	if s.Name != "" {
		return fmt.Sprintf("#%d %s", i+1, s.Name)
	}
	return fmt.Sprintf("#%d %s", i+1, s.Kind())
}

// ParseSuite decodes a suite. JSON (with comments) is accepted as well as
// YAML.
func ParseSuite(data []byte, name string) (*Suite, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json", ".jsonc":
		data = jsonc.ToJSON(data)
	}
	var s Suite
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	s.File = name
	if s.Name == "" {
		s.Name = strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return &s, nil
}

// LoadSuite reads a suite file.
func LoadSuite(path string) (*Suite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseSuite(data, path)
}

// LoadSuites reads files and, for directories, every suite file inside.
func LoadSuites(paths ...string) ([]*Suite, error) {
	var out []*Suite
	for _, p := range paths {
		st, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if !st.IsDir() {
			s, err := LoadSuite(p)
			if err != nil {
				return nil, err
			}
			out = append(out, s)
			continue
		}
		entries, err := os.ReadDir(p)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if e.IsDir() || !isSuiteFile(e.Name()) {
				continue
			}
			s, err := LoadSuite(filepath.Join(p, e.Name()))
			if err != nil {
				return nil, err
			}
			out = append(out, s)
		}
	}
	return out, nil
}

func isSuiteFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml", ".json", ".jsonc":
		return true
	}
	return false
}

// Validate checks the structure before anything is sent.
func (s *Suite) Validate() error {
	if len(s.Cases) == 0 {
		return fmt.Errorf("suite %q has no cases", s.Name)
	}
	for ci, c := range s.Cases {
		if c.Name == "" {
			return fmt.Errorf("case %d has no name", ci+1)
		}
		for si, st := range c.Steps {
			if err := s.validateStep(st); err != nil {
				return fmt.Errorf("case %q step %d: %w", c.Name, si+1, err)
			}
		}
	}
	return nil
}

func (s *Suite) validateStep(st Step) error {
	kinds := 0
	if st.Path != "" {
		kinds++
		switch st.method() {
		case "GET", "POST", "PUT", "DELETE":
		default:
			return fmt.Errorf("unsupported method %q", st.Method)
		}
		if _, err := s.server(st.Server); err != nil {
			return err
		}
	}
	if st.WaitForRestart != nil {
		kinds++
		if _, err := s.server(st.WaitForRestart.Server); err != nil {
			return err
		}
	}
	if st.MQTT != nil {
		kinds++
		switch st.MQTT.Action {
		case ActionConnect, ActionDisconnect, ActionPublish, ActionSubscribe,
			ActionUnsubscribe, ActionExpect, ActionProbe:
		default:
			return fmt.Errorf("unknown mqtt action %q", st.MQTT.Action)
		}
		if st.MQTT.Action != ActionProbe && st.MQTT.Client == "" {
			return fmt.Errorf("mqtt %s needs a client name", st.MQTT.Action)
		}
		switch st.MQTT.ProtocolVersion {
		case 0, 3, 4:
		default:
			return fmt.Errorf("unsupported MQTT protocol version %d", st.MQTT.ProtocolVersion)
		}
	}
	if kinds == 0 && st.Sleep == 0 {
		return fmt.Errorf("step does nothing")
	}
	if kinds > 1 {
		return fmt.Errorf("step mixes request, restart wait and mqtt action")
	}
	return nil
}

// server resolves an alias. An empty alias picks "default" or the only
// server defined.
func (s *Suite) server(alias string) (Server, error) {
	if alias != "" {
		srv, ok := s.Servers[alias]
		if !ok {
			return Server{}, fmt.Errorf("unknown server %q", alias)
		}
		return srv, nil
	}
	if srv, ok := s.Servers["default"]; ok {
		return srv, nil
	}
	if len(s.Servers) == 1 {
		for _, srv := range s.Servers {
			return srv, nil
		}
	}
	return Server{}, fmt.Errorf("no server given and no default server")
}

// broker resolves a broker alias; anything with a scheme is used as is.
func (s *Suite) broker(alias string) (string, error) {
	if strings.Contains(alias, "://") {
		return alias, nil
	}
	if alias == "" {
		alias = "default"
	}
	if b, ok := s.Brokers[alias]; ok {
		return b, nil
	}
	if len(s.Brokers) == 1 && alias == "default" {
		for _, b := range s.Brokers {
			return b, nil
		}
	}
	return "", fmt.Errorf("unknown broker %q", alias)
}
