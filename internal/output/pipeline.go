package output

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dvcrn/studio-bridge/internal/apiclient"
	"github.com/dvcrn/studio-bridge/internal/engine"
	"github.com/dvcrn/studio-bridge/internal/logger"
)

// DefaultPollInterval is the wait before every task status request
const DefaultPollInterval = 2 * time.Second

// API is the authenticated remote API surface the pipeline needs
type API interface {
	Get(ctx context.Context, url string) ([]byte, error)
	GetJSON(ctx context.Context, url string, v interface{}) error
	Post(ctx context.Context, url string, body interface{}) ([]byte, error)
	Download(ctx context.Context, url string) (*apiclient.Download, error)
}

// Engine is the subset of the editing engine read during submission
type Engine interface {
	DocumentState(ctx context.Context) (json.RawMessage, error)
	ActiveDataSource(ctx context.Context) (*engine.DataSource, error)
	ResolveFieldConfig(ctx context.Context, connectorID string) (map[string]string, error)
}

// Clock abstracts waiting so tests can fast-forward
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// PageContext carries where the host runs and any explicit engine overrides
type PageContext struct {
	Host           string
	ProductionHost string
	EngineVersion  string
	EngineBuild    string
}

// TransitionHook observes job state changes
type TransitionHook func(job Job, from, to State)

// Pipeline submits output jobs and polls them to completion
type Pipeline struct {
	api          API
	engine       Engine
	baseURL      string
	clock        Clock
	pollInterval time.Duration
	page         PageContext
	onTransition TransitionHook
	logger       zerolog.Logger
}

type Option func(*Pipeline)

func WithBaseURL(u string) Option {
	return func(p *Pipeline) {
		p.baseURL = strings.TrimRight(u, "/")
	}
}

func WithClock(c Clock) Option {
	return func(p *Pipeline) {
		p.clock = c
	}
}

func WithPollInterval(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.pollInterval = d
		}
	}
}

func WithPageContext(pc PageContext) Option {
	return func(p *Pipeline) {
		p.page = pc
	}
}

func WithTransitionHook(h TransitionHook) Option {
	return func(p *Pipeline) {
		p.onTransition = h
	}
}

func New(api API, eng Engine, log zerolog.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		api:          api,
		engine:       eng,
		clock:        realClock{},
		pollInterval: DefaultPollInterval,
		logger:       logger.Component(log, "output"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Generate renders the current document to req.Format. The context is the
// cancellation token for the whole job including the poll loop; there is no
// built-in deadline.
func (p *Pipeline) Generate(ctx context.Context, req Request) (*Output, error) {
	if err := req.validate(); err != nil {
		return nil, &JobError{Status: http.StatusBadRequest, Message: err.Error()}
	}

	job := &Job{
		ID:        uuid.NewString(),
		Request:   req,
		State:     StateSubmitting,
		StartedAt: p.clock.Now(),
	}
	log := p.logger.With().
		Str("job_id", job.ID).
		Str("format", req.Format).
		Str("layout_id", req.LayoutID).
		Logger()

	log.Info().Msg("📄 Starting output generation")

	snapshot, err := p.engine.DocumentState(ctx)
	if err != nil || len(bytes.TrimSpace(snapshot)) == 0 {
		return nil, p.fail(ctx, job, log, http.StatusInternalServerError, msgNoDocument, err)
	}
	job.DocumentSnapshot = snapshot
	job.EngineVersionOverride = p.engineVersionOverride(snapshot)

	if req.OutputSettingsID != "" {
		cfg, jerr := p.dataConnectorConfig(ctx, req.OutputSettingsID, log)
		if jerr != nil {
			return nil, p.fail(ctx, job, log, jerr.Status, jerr.Message, jerr.Err)
		}
		job.DataConnectorConfig = cfg
	}

	taskURL, jerr := p.submit(ctx, job, log)
	if jerr != nil {
		return nil, p.fail(ctx, job, log, jerr.Status, jerr.Message, jerr.Err)
	}
	job.TaskHandle = taskURL
	p.transition(job, StatePolling, log)

	downloadURL, jerr := p.poll(ctx, job, log)
	if jerr != nil {
		return nil, p.fail(ctx, job, log, jerr.Status, jerr.Message, jerr.Err)
	}

	d, err := p.api.Download(ctx, downloadURL)
	if err != nil {
		return nil, p.fail(ctx, job, log, http.StatusInternalServerError, msgPolling, err)
	}

	p.transition(job, StateDone, log)
	log.Info().
		Str("extension", d.Extension).
		Int("bytes", len(d.Data)).
		Dur("duration", p.clock.Now().Sub(job.StartedAt)).
		Msg("✅ Output generated")

	return &Output{ExtensionType: d.Extension, ContentType: d.ContentType, OutputData: d.Data}, nil
}

func (p *Pipeline) submit(ctx context.Context, job *Job, log zerolog.Logger) (string, *JobError) {
	body := submitRequest{
		LayoutID:            job.Request.LayoutID,
		ProjectID:           job.Request.ProjectID,
		TemplateID:          job.Request.TemplateID,
		OutputSettingsID:    job.Request.OutputSettingsID,
		DataConnectorConfig: job.DataConnectorConfig,
		EngineVersion:       job.EngineVersionOverride,
		DocumentContent:     job.DocumentSnapshot,
	}

	resp, err := p.api.Post(ctx, p.baseURL+"/output/"+url.PathEscape(job.Request.Format), body)
	if err != nil {
		var se *apiclient.StatusError
		if errors.As(err, &se) {
			if apiErr, ok := parseAPIError(se.Body); ok {
				return "", structured(apiErr, se.StatusCode)
			}
		}
		log.Error().Err(err).Msg("❌ Output job submission failed")
		return "", &JobError{Status: http.StatusInternalServerError, Message: msgUnexpected, Err: err}
	}

	if apiErr, ok := parseAPIError(resp); ok {
		return "", structured(apiErr, http.StatusInternalServerError)
	}

	var sr submitResponse
	if err := json.Unmarshal(resp, &sr); err != nil || sr.Links.TaskInfo == "" {
		if err == nil {
			err = errors.New("submission response has no task info link")
		}
		return "", &JobError{Status: http.StatusInternalServerError, Message: msgUnexpected, Err: err}
	}

	log.Info().Str("task_info", sr.Links.TaskInfo).Msg("Output job submitted")
	return sr.Links.TaskInfo, nil
}

// structured keeps the remote status only when it is a usable HTTP status
func structured(e *apiError, fallbackStatus int) *JobError {
	status := int(e.Status)
	if status < 100 || status > 599 {
		status = fallbackStatus
	}
	return &JobError{Status: status, Message: e.Detail}
}

// poll waits one interval before each status request and returns the
// download link from the first non-null payload.
func (p *Pipeline) poll(ctx context.Context, job *Job, log zerolog.Logger) (string, *JobError) {
	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			return "", &JobError{Status: statusClientClosed, Message: msgCancelled, Err: ctx.Err()}
		case <-p.clock.After(p.pollInterval):
		}

		body, err := p.api.Get(ctx, job.TaskHandle)
		if err != nil {
			if ctx.Err() != nil {
				return "", &JobError{Status: statusClientClosed, Message: msgCancelled, Err: ctx.Err()}
			}
			log.Error().Err(err).Int("attempt", attempt).Msg("❌ Polling output task failed")
			return "", &JobError{Status: http.StatusInternalServerError, Message: msgPolling, Err: err}
		}

		trimmed := bytes.TrimSpace(body)
		if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
			log.Debug().Int("attempt", attempt).Msg("Output task still running")
			continue
		}

		var tr taskResponse
		if err := json.Unmarshal(trimmed, &tr); err != nil || tr.Links.Download == "" {
			if err == nil {
				err = errors.New("task payload has no download link")
			}
			return "", &JobError{Status: http.StatusInternalServerError, Message: msgPolling, Err: err}
		}

		log.Info().Int("attempts", attempt).Msg("Output task finished")
		return tr.Links.Download, nil
	}
}

func (p *Pipeline) dataConnectorConfig(ctx context.Context, outputSettingsID string, log zerolog.Logger) (*DataConnectorConfig, *JobError) {
	var setting outputSetting
	if err := p.api.GetJSON(ctx, p.baseURL+"/output/settings/"+url.PathEscape(outputSettingsID), &setting); err != nil {
		status := http.StatusInternalServerError
		var se *apiclient.StatusError
		if errors.As(err, &se) {
			status = se.StatusCode
		}
		return nil, &JobError{Status: status, Message: msgOutputSettings, Err: err}
	}
	if !setting.DataSourceEnabled {
		log.Debug().Str("output_settings_id", outputSettingsID).Msg("Output setting has data source disabled")
		return nil, nil
	}

	ds, err := p.engine.ActiveDataSource(ctx)
	if err != nil {
		return nil, &JobError{Status: http.StatusInternalServerError, Message: msgDataSource, Err: err}
	}
	if ds == nil {
		log.Debug().Msg("No data source configured in document")
		return nil, nil
	}

	fields, err := p.engine.ResolveFieldConfig(ctx, ds.ID)
	if err != nil {
		return nil, &JobError{Status: http.StatusInternalServerError, Message: msgDataSource, Err: err}
	}
	if fields == nil {
		fields = map[string]string{}
	}
	return &DataConnectorConfig{ID: ds.ID, Configuration: fields}, nil
}

// engineVersionOverride is empty on the production host. Elsewhere explicit
// page parameters win, the numeric version falls back to the snapshot's own
// engine version, and a build id is appended when both are present.
func (p *Pipeline) engineVersionOverride(snapshot json.RawMessage) string {
	host := strings.ToLower(strings.TrimSpace(p.page.Host))
	if host == "" || host == strings.ToLower(strings.TrimSpace(p.page.ProductionHost)) {
		return ""
	}

	version := strings.TrimSpace(p.page.EngineVersion)
	if version == "" {
		version = snapshotEngineVersion(snapshot)
	}
	build := strings.TrimSpace(p.page.EngineBuild)

	switch {
	case version != "" && build != "":
		return version + "-" + build
	case build != "":
		return build
	default:
		return version
	}
}

func snapshotEngineVersion(snapshot json.RawMessage) string {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(snapshot, &doc); err != nil {
		return ""
	}
	raw, ok := doc["engineVersion"]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

func (p *Pipeline) transition(job *Job, to State, log zerolog.Logger) {
	from := job.State
	job.State = to
	log.Debug().Str("from", string(from)).Str("to", string(to)).Msg("Output job transition")
	if p.onTransition != nil {
		p.onTransition(*job, from, to)
	}
}

// fail moves job to failed, or cancelled when ctx was cancelled, and
// returns the matching JobError.
func (p *Pipeline) fail(ctx context.Context, job *Job, log zerolog.Logger, status int, msg string, cause error) *JobError {
	if ctx.Err() != nil {
		p.transition(job, StateCancelled, log)
		log.Warn().Msg("Output generation cancelled")
		return &JobError{Status: statusClientClosed, Message: msgCancelled, Err: ctx.Err()}
	}

	p.transition(job, StateFailed, log)
	log.Error().
		Err(cause).
		Int("status", status).
		Str("state", string(job.State)).
		Msg("❌ " + msg)
	return &JobError{Status: status, Message: msg, Err: cause}
}
