// Package reload pushes project files into running dev-mode containers and
// asks their embedded runtime to reload them.
//
// A reload is the sequence
//
//	DELETE {base}/upload/*
//	PUT    {base}/upload/{file}      (once per file)
//	GET    {base}/reload?reload=true
//
// Every call runs behind its own circuit breaker and timeout. Any failure
// aborts the reload; codeLoaded is set only after the trigger call succeeded.
package reload

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"karavan/internal/cache"
	"karavan/internal/containerizer"
	"karavan/internal/events"
	"karavan/internal/resilience"
	"karavan/internal/status"
	"karavan/pkg/logging"
)

const subsystem = "ReloadOrchestrator"

// Source provides the files and commit of a project.
type Source interface {
	Files(ctx context.Context, projectID string) (map[string]string, error)
	Commit(projectID string) (string, error)
}

// Config holds configuration for an Orchestrator.
type Config struct {
	// Environment is the environment whose dev-mode records are reloaded.
	Environment string

	// Port is the dev-mode container's HTTP port. Defaults to 8080.
	Port int

	// CallTimeout bounds each HTTP attempt. Defaults to 1 second.
	CallTimeout time.Duration

	// UploadRetries is the number of extra attempts per file upload.
	UploadRetries int

	Breaker resilience.Config
}

// Result is the outcome of the last reload of a project.
type Result struct {
	ProjectID string    `json:"projectId"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
	Files     int       `json:"files"`
	Commit    string    `json:"commit,omitempty"`
	Started   time.Time `json:"started"`
	Finished  time.Time `json:"finished"`
}

// Orchestrator executes reloads. It is safe for concurrent use; callers are
// expected to serialize reloads of the same project.
type Orchestrator struct {
	config    Config
	env       containerizer.Environment
	store     cache.Store
	source    Source
	publisher events.Publisher
	breakers  *resilience.Registry

	upload *retryablehttp.Client
	single *retryablehttp.Client

	mu      sync.RWMutex
	results map[string]Result
}

// NewOrchestrator creates an Orchestrator. env is the startup-detected
// runtime environment used for address resolution.
func NewOrchestrator(config Config, env containerizer.Environment, store cache.Store, source Source, publisher events.Publisher) *Orchestrator {
	if config.Port == 0 {
		config.Port = DefaultPort
	}
	if config.CallTimeout <= 0 {
		config.CallTimeout = time.Second
	}
	if config.UploadRetries < 0 {
		config.UploadRetries = 0
	}

	return &Orchestrator{
		config:    config,
		env:       env,
		store:     store,
		source:    source,
		publisher: publisher,
		breakers:  resilience.NewRegistry(config.Breaker),
		upload:    newHTTPClient(config.CallTimeout, config.UploadRetries),
		single:    newHTTPClient(config.CallTimeout, 0),
		results:   make(map[string]Result),
	}
}

func newHTTPClient(timeout time.Duration, retries int) *retryablehttp.Client {
	c := retryablehttp.NewClient()
	c.HTTPClient.Timeout = timeout
	c.RetryMax = retries
	c.RetryWaitMin = 50 * time.Millisecond
	c.RetryWaitMax = 250 * time.Millisecond
	c.ErrorHandler = retryablehttp.PassthroughErrorHandler
	c.Logger = logging.ForSubsystem("ReloadClient")
	return c
}

// Reload pushes the current files of projectID into its dev-mode container.
// The returned error is an *AddressResolutionError, a *ProtocolError or a
// source failure.
func (o *Orchestrator) Reload(ctx context.Context, projectID string) error {
	result := Result{ProjectID: projectID, Started: time.Now()}
	files, commit, err := o.reload(ctx, projectID)
	result.Finished = time.Now()
	result.Files = files
	result.Commit = commit
	if err != nil {
		result.Error = err.Error()
		logging.Error(subsystem, err, "Reload of %s failed", projectID)
	} else {
		result.Success = true
		logging.Info(subsystem, "Reloaded %s (%d files) in %v", projectID, files, result.Finished.Sub(result.Started))
	}

	o.mu.Lock()
	o.results[projectID] = result
	o.mu.Unlock()
	return err
}

func (o *Orchestrator) reload(ctx context.Context, projectID string) (int, string, error) {
	key := status.NewGroupedKey(projectID, o.config.Environment, status.TypeDevMode)
	rec, ok, err := o.store.Get(ctx, key)
	if err != nil {
		return 0, "", fmt.Errorf("failed to read %s: %w", key, err)
	}
	if !ok {
		return 0, "", &AddressResolutionError{ProjectID: projectID, Reason: "no dev-mode container"}
	}
	if rec.ContainerID == "" {
		return 0, "", &AddressResolutionError{ProjectID: projectID, Reason: "container not created yet"}
	}

	base, err := ResolveAddress(rec, o.env, o.config.Port)
	if err != nil {
		return 0, "", err
	}

	if err := o.clear(ctx, base); err != nil {
		return 0, "", err
	}

	files, err := o.source.Files(ctx, projectID)
	if err != nil {
		return 0, "", fmt.Errorf("failed to read files of %s: %w", projectID, err)
	}
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := o.put(ctx, base, name, files[name]); err != nil {
			return 0, "", err
		}
	}

	if err := o.trigger(ctx, base); err != nil {
		return len(files), "", err
	}

	commit, err := o.source.Commit(projectID)
	if err != nil {
		logging.Warn(subsystem, "Failed to read commit of %s: %v", projectID, err)
	}
	return len(files), commit, o.markLoaded(ctx, rec, commit)
}

// markLoaded re-reads the record so fields written during the reload are
// not lost. The code was pushed into rec.ContainerID; a record that now
// describes another container is left alone.
func (o *Orchestrator) markLoaded(ctx context.Context, rec status.ContainerStatus, commit string) error {
	latest, ok, err := o.store.Get(ctx, rec.Key())
	if err != nil {
		return fmt.Errorf("failed to re-read %s: %w", rec.Key(), err)
	}
	if !ok {
		logging.Warn(subsystem, "Record %s vanished during reload", rec.Key())
		return nil
	}
	if latest.ContainerID != rec.ContainerID {
		return fmt.Errorf("%w: %s is now %s, code went to %s", ErrContainerReplaced, rec.Key(), latest.ContainerID, rec.ContainerID)
	}

	latest.CodeLoaded = true
	if commit != "" {
		latest.Commit = commit
	}
	if err := o.store.Put(ctx, latest); err != nil {
		return fmt.Errorf("failed to store %s: %w", rec.Key(), err)
	}
	return events.PublishRecord(ctx, o.publisher, events.TopicContainerUpdated, latest)
}

func (o *Orchestrator) clear(ctx context.Context, base string) error {
	u := base + "/upload/*"
	return o.call(ctx, StepClear, base, u, "", func(ctx context.Context) (int, error) {
		code, err := o.do(ctx, o.single, http.MethodDelete, u, nil)
		if code == http.StatusNotFound {
			// nothing uploaded yet
			return http.StatusOK, err
		}
		return code, err
	})
}

func (o *Orchestrator) put(ctx context.Context, base, name, content string) error {
	u := base + "/upload/" + url.PathEscape(name)
	return o.call(ctx, StepUpload, base, u, name, func(ctx context.Context) (int, error) {
		return o.do(ctx, o.upload, http.MethodPut, u, []byte(content))
	})
}

func (o *Orchestrator) trigger(ctx context.Context, base string) error {
	u := base + "/reload?reload=true"
	return o.call(ctx, StepTrigger, base, u, "", func(ctx context.Context) (int, error) {
		return o.do(ctx, o.single, http.MethodGet, u, nil)
	})
}

// call runs fn behind the breaker for (step, base). Non-2xx responses
// count as failures.
func (o *Orchestrator) call(ctx context.Context, step Step, base, u, file string, fn func(context.Context) (int, error)) error {
	breaker := o.breakers.Get(string(step) + " " + base)

	var code int
	err := breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		code, err = fn(ctx)
		if err != nil {
			return err
		}
		if code < 200 || code > 299 {
			return fmt.Errorf("unexpected status %d", code)
		}
		return nil
	})
	if err == nil {
		return nil
	}

	pe := &ProtocolError{Step: step, URL: u, File: file, StatusCode: code, Err: err}
	logging.Debug(subsystem, "%v", pe)
	return pe
}

func (o *Orchestrator) do(ctx context.Context, client *retryablehttp.Client, method, u string, body []byte) (int, error) {
	var raw interface{}
	if body != nil {
		raw = body
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, u, raw)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/octet-stream")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

// LastResult returns the outcome of the last reload of projectID.
func (o *Orchestrator) LastResult(projectID string) (Result, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	r, ok := o.results[projectID]
	return r, ok
}

// Breakers reports the state of every breaker by name.
func (o *Orchestrator) Breakers() map[string]resilience.CircuitBreakerState {
	return o.breakers.States()
}
