package fvt

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"golang.org/x/sync/errgroup"

	"github.com/insikl/messaging-admin-ambassador/internal/admin"
	"github.com/insikl/messaging-admin-ambassador/internal/logger"
)

// Defaults follow the REST suites: most cases finish well within the
// default timeout, restart waits get the HA start allowance.
const (
	DefaultCaseTimeout    = 30 * time.Second
	DefaultRestartTimeout = 120 * time.Second
)

// Publisher receives suite results. *nats.Conn satisfies it.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Runner executes suites.
type Runner struct {
	parallel    int
	poolSize    int
	userAgent   string
	publisher   Publisher
	subjectBase string
	filter      *regexp.Regexp
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithParallel bounds how many suites run at once.
func WithParallel(n int) RunnerOption {
	return func(r *Runner) {
		if n > 0 {
			r.parallel = n
		}
	}
}

// WithPoolSize bounds concurrent MQTT client operations per suite.
func WithPoolSize(n int) RunnerOption {
	return func(r *Runner) {
		if n > 0 {
			r.poolSize = n
		}
	}
}

// WithUserAgent sets the admin client user agent.
func WithUserAgent(ua string) RunnerOption {
	return func(r *Runner) { r.userAgent = ua }
}

// WithPublisher publishes each suite result as JSON on
// <subjectBase>.fvt.<suite>.
func WithPublisher(p Publisher, subjectBase string) RunnerOption {
	return func(r *Runner) {
		r.publisher = p
		r.subjectBase = strings.TrimSuffix(subjectBase, ".")
	}
}

// WithCaseFilter only runs cases whose name matches re.
func WithCaseFilter(re *regexp.Regexp) RunnerOption {
	return func(r *Runner) { r.filter = re }
}

func NewRunner(opts ...RunnerOption) *Runner {
	r := &Runner{parallel: 1, poolSize: 16}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Run executes suites concurrently (bounded by WithParallel) and their cases
// in order. Case failures are recorded in the report; the error is only set
// when ctx ends before the run completes.
func (r *Runner) Run(ctx context.Context, suites ...*Suite) (*Report, error) {
	rep := &Report{
		RunID:   uuid.NewString(),
		Started: time.Now(),
		Suites:  make([]SuiteResult, len(suites)),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.parallel)
	for i, s := range suites {
		g.Go(func() error {
			res := r.runSuite(gctx, rep.RunID, s)
			rep.Suites[i] = res
			r.publish(res)
			return gctx.Err()
		})
	}
	err := g.Wait()
	rep.Duration = time.Since(rep.Started)
	return rep, err
}

func (r *Runner) publish(res SuiteResult) {
	if r.publisher == nil {
		return
	}
	data, err := json.Marshal(res)
	if err != nil {
		logger.Error("encode result of suite [%v]: %v", res.Name, err)
		return
	}
	subj := r.subjectBase + ".fvt." + subjectToken(res.Name)
	if err := r.publisher.Publish(subj, data); err != nil {
		logger.Error("publish result of suite [%v] on [%v]: %v", res.Name, subj, err)
		return
	}
	logger.Debug("published result of suite [%v] on [%v]", res.Name, subj)
}

var subjectUnsafe = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// subjectToken turns a suite name into a single NATS subject token.
func subjectToken(s string) string {
	return strings.Trim(subjectUnsafe.ReplaceAllString(s, "_"), "_")
}

func (r *Runner) runSuite(ctx context.Context, runID string, s *Suite) SuiteResult {
	res := SuiteResult{Name: s.Name, File: s.File, RunID: runID, Started: time.Now()}
	logger.Info("suite [%v]: %d cases", s.Name, len(s.Cases))

	pool, err := ants.NewPool(r.poolSize)
	if err != nil {
		res.Cases = append(res.Cases, CaseResult{Name: "setup", Error: err.Error()})
		return res
	}
	defer pool.Release()

	env := &suiteEnv{
		suite:   s,
		runner:  r,
		pool:    pool,
		clients: make(map[string]*admin.Client),
		vars:    make(vars, len(s.Vars)+2),
	}
	env.vars["runID"] = runID
	env.vars["suite"] = s.Name
	for k, v := range s.Vars {
		env.vars[k] = v
	}

	for _, c := range s.Cases {
		if r.filter != nil && !r.filter.MatchString(c.Name) {
			continue
		}
		if c.Skip {
			res.Cases = append(res.Cases, CaseResult{Name: c.Name, Skipped: true})
			continue
		}
		cr := env.runCase(ctx, c)
		if cr.Passed {
			logger.Info("suite [%v] case [%v] passed", s.Name, c.Name)
		} else {
			logger.Error("suite [%v] case [%v] failed at %v: %v", s.Name, c.Name, cr.FailedStep, cr.Error)
		}
		res.Cases = append(res.Cases, cr)
		if ctx.Err() != nil {
			break
		}
	}
	res.Duration = time.Since(res.Started)
	return res
}

// suiteEnv is per-suite state shared by its cases.
type suiteEnv struct {
	suite  *Suite
	runner *Runner
	pool   *ants.Pool
	vars   vars

	mu      sync.Mutex
	clients map[string]*admin.Client
}

func (e *suiteEnv) runCase(ctx context.Context, c Case) CaseResult {
	start := time.Now()
	cr := CaseResult{Name: c.Name, Steps: len(c.Steps)}

	timeout := c.Timeout.Std(e.suite.Timeout.Std(DefaultCaseTimeout))
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	mq := newMQTTState()
	defer mq.closeAll()

	for i, st := range c.Steps {
		if err := e.runStep(ctx, mq, st); err != nil {
			cr.FailedStep = st.Label(i)
			cr.Error = err.Error()
			cr.Duration = time.Since(start)
			return cr
		}
	}
	cr.Passed = true
	cr.Duration = time.Since(start)
	return cr
}

func (e *suiteEnv) runStep(ctx context.Context, mq *mqttState, st Step) error {
	if st.Sleep != 0 {
		t := time.NewTimer(time.Duration(st.Sleep))
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	switch {
	case st.MQTT != nil:
		return e.runMQTT(ctx, mq, *st.MQTT)
	case st.WaitForRestart != nil:
		return e.waitForRestart(ctx, *st.WaitForRestart)
	case st.Path != "":
		return e.request(ctx, st)
	}
	return nil
}

func (e *suiteEnv) client(alias string) (*admin.Client, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if c, ok := e.clients[alias]; ok {
		return c, nil
	}
	srv, err := e.suite.server(alias)
	if err != nil {
		return nil, err
	}
	opts := []admin.Option{admin.WithUserAgent(e.runner.userAgent)}
	if srv.User != "" {
		opts = append(opts, admin.WithBasicAuth(e.vars.expand(srv.User), e.vars.expand(srv.Password)))
	}
	if srv.Insecure {
		opts = append(opts, admin.WithInsecureTLS())
	}
	c, err := admin.NewClient(e.vars.expand(srv.URL), opts...)
	if err != nil {
		return nil, err
	}
	e.clients[alias] = c
	return c, nil
}

func (e *suiteEnv) waitForRestart(ctx context.Context, w WaitSpec) error {
	c, err := e.client(w.Server)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, w.Timeout.Std(DefaultRestartTimeout))
	defer cancel()
	s, err := c.WaitForRestart(ctx, w.Delay.Std(admin.DefaultRestartDelay))
	if err != nil {
		return err
	}
	logger.Debug("server [%v] back in state %d", c.BaseURL(), s.Server.State)
	return nil
}

// buildBody expands variables in the step body and applies Set overrides.
func (e *suiteEnv) buildBody(st Step) ([]byte, error) {
	if st.Body == nil && len(st.Set) == 0 {
		return nil, nil
	}
	var body []byte
	switch b := st.Body.(type) {
	case nil:
		body = []byte("{}")
	case string:
		body = []byte(e.vars.expand(b))
	default:
		var err error
		if body, err = json.Marshal(e.vars.expandAny(b)); err != nil {
			return nil, fmt.Errorf("encode body: %w", err)
		}
	}

	paths := make([]string, 0, len(st.Set))
	for p := range st.Set {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		var err error
		body, err = sjson.SetBytes(body, e.vars.expandPath(p), e.vars.expandAny(st.Set[p]))
		if err != nil {
			return nil, fmt.Errorf("set %s: %w", p, err)
		}
	}
	return body, nil
}

func (e *suiteEnv) request(ctx context.Context, st Step) error {
	c, err := e.client(st.Server)
	if err != nil {
		return err
	}
	body, err := e.buildBody(st)
	if err != nil {
		return err
	}
	var q url.Values
	if len(st.Query) > 0 {
		q = url.Values{}
		for k, v := range e.vars.expandMap(st.Query) {
			q.Set(k, v)
		}
	}

	resp, err := c.Do(ctx, st.method(), e.vars.expand(st.Path), q, body)
	if err != nil {
		return err
	}
	exp := st.Expect
	if exp == nil {
		exp = &Expect{}
	}
	return e.check(exp, resp)
}

func (e *suiteEnv) check(exp *Expect, resp *admin.RawResponse) error {
	if exp.Status != 0 {
		if resp.Status != exp.Status {
			return fmt.Errorf("status %d, expected %d: %s", resp.Status, exp.Status, snippet(resp.Body))
		}
	} else if !resp.OK() {
		return fmt.Errorf("status %d: %s", resp.Status, snippet(resp.Body))
	}

	if exp.Code != "" {
		if got := field(resp.Body, "Code"); got != e.vars.expand(exp.Code) {
			return fmt.Errorf("code %q, expected %q", got, exp.Code)
		}
	}
	if exp.Message != "" {
		if got, want := field(resp.Body, "Message"), e.vars.expand(exp.Message); got != want {
			return fmt.Errorf("message %q, expected %q", got, want)
		}
	}
	if exp.MessageContains != "" {
		if got, want := field(resp.Body, "Message"), e.vars.expand(exp.MessageContains); !strings.Contains(got, want) {
			return fmt.Errorf("message %q does not contain %q", got, want)
		}
	}

	if exp.JSON != nil || len(exp.Paths) > 0 || len(exp.Absent) > 0 {
		if !gjson.ValidBytes(resp.Body) {
			return fmt.Errorf("reply is not JSON: %s", snippet(resp.Body))
		}
	}
	if exp.JSON != nil {
		var actual any
		if err := json.Unmarshal(resp.Body, &actual); err != nil {
			return err
		}
		if err := Subset(e.vars.expandAny(exp.JSON), actual); err != nil {
			return err
		}
	}
	if err := e.checkAbsent(exp.Absent, resp.Body); err != nil {
		return err
	}
	paths := make([]string, 0, len(exp.Paths))
	for p := range exp.Paths {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		got := gjson.GetBytes(resp.Body, e.vars.expandPath(p))
		if !got.Exists() {
			return fmt.Errorf("%s: missing", p)
		}
		if err := Subset(e.vars.expandAny(exp.Paths[p]), got.Value()); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}
	return nil
}

// checkAbsent verifies deletes: each name must be gone from the object map
// (or list of named records) under its key.
func (e *suiteEnv) checkAbsent(absent map[string][]string, body []byte) error {
	keys := make([]string, 0, len(absent))
	for k := range absent {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		key := e.vars.expand(k)
		list := gjson.GetBytes(body, gjson.Escape(key))
		for _, n := range absent[k] {
			name := e.vars.expand(n)
			if listed(list, name) {
				return fmt.Errorf("%s %q still present", key, name)
			}
		}
	}
	return nil
}

func listed(list gjson.Result, name string) bool {
	if list.IsArray() {
		for _, r := range list.Array() {
			if r.Get("Name").String() == name {
				return true
			}
		}
		return false
	}
	_, ok := list.Map()[name]
	return ok
}

// field reads a top level status field; the server is not consistent
// about its case.
func field(body []byte, name string) string {
	if v := gjson.GetBytes(body, name); v.Exists() {
		return v.String()
	}
	return gjson.GetBytes(body, strings.ToLower(name)).String()
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if s == "" {
		return "(empty body)"
	}
	if len(s) > 200 {
		return s[:197] + "..."
	}
	return s
}
