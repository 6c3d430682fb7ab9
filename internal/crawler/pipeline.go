package crawler

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitetree-crawler/internal/decode"
	"github.com/JakeFAU/sitetree-crawler/internal/extract"
	"github.com/JakeFAU/sitetree-crawler/internal/speed"
	"github.com/JakeFAU/sitetree-crawler/internal/store"
	"github.com/JakeFAU/sitetree-crawler/internal/urlcanon"
	"github.com/JakeFAU/sitetree-crawler/internal/visited"
)

// ErrOutOfScope marks a URL whose host is not the site's domain.
var ErrOutOfScope = errors.New("url outside crawl domain")

// Upsert results reported to the Recorder.
const (
	UpsertStored = "stored"
	UpsertFailed = "failed"
)

var tracer = otel.Tracer("github.com/JakeFAU/sitetree-crawler/internal/crawler")

// PipelineConfig holds per-site settings.
type PipelineConfig struct {
	Site     Site
	MaxDepth int
	// UpdateExisting refreshes title, status and breadcrumb of nodes that are already stored.
	UpdateExisting bool
	// Topic receives NodeEvents; empty disables publishing.
	Topic string
}

// PipelineDeps are the collaborators of a Pipeline. Registry and Nodes are required.
type PipelineDeps struct {
	Registry  *visited.Registry
	Nodes     store.NodeRepository
	Decoder   *decode.Decoder
	Monitor   *speed.Monitor
	Recorder  Recorder
	Publisher Publisher
	Clock     Clock
	Logger    *zap.Logger
	// Tracer starts one span per fetched page. Defaults to the global provider.
	Tracer trace.Tracer
}

// Pipeline processes single work items for one site. It is safe for
// concurrent use; per-worker state lives in the FetchSession and Pacer.
type Pipeline struct {
	cfg      PipelineConfig
	domain   string
	excluded []string
	deps     PipelineDeps
	logger   *zap.Logger
}

// NewPipeline validates deps and builds a Pipeline.
func NewPipeline(cfg PipelineConfig, deps PipelineDeps) (*Pipeline, error) {
	if deps.Registry == nil {
		return nil, errors.New("pipeline requires a visited registry")
	}
	if deps.Nodes == nil {
		return nil, errors.New("pipeline requires a node repository")
	}
	domain := urlcanon.CanonicalDomain(cfg.Site.Domain)
	if domain == "" {
		return nil, fmt.Errorf("site %q has no domain", cfg.Site.Name)
	}
	if deps.Decoder == nil {
		deps.Decoder = decode.New(nil)
	}
	if deps.Tracer == nil {
		deps.Tracer = tracer
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	excluded := cfg.Site.Excluded
	if len(excluded) == 0 {
		excluded = urlcanon.DefaultExcludedExtensions
	}
	return &Pipeline{
		cfg:      cfg,
		domain:   domain,
		excluded: excluded,
		deps:     deps,
		logger:   logger.With(zap.String("domain", domain)),
	}, nil
}

// Domain returns the canonical domain the pipeline is bound to.
func (p *Pipeline) Domain() string { return p.domain }

// Excluded returns the effective excluded extensions.
func (p *Pipeline) Excluded() []string { return p.excluded }

// Process runs the per-URL transition for item. Failures are reported in
// the Outcome and never returned as errors. Once the URL is claimed and
// paced, fetch and persistence ignore cancellation of ctx so in-flight
// work completes within the session's own timeouts.
func (p *Pipeline) Process(ctx context.Context, session FetchSession, pacer Pacer, item WorkItem) Outcome {
	out := Outcome{Depth: item.Depth}
	canonical, err := urlcanon.Canonicalize(item.URL, p.excluded)
	if err != nil {
		out.Status = OutcomeSkipped
		out.Err = err
		return out
	}
	out.URL = canonical
	if !urlcanon.IsValid(canonical, p.domain) {
		out.Status = OutcomeSkipped
		out.Err = ErrOutOfScope
		return out
	}
	if item.Depth > p.cfg.MaxDepth {
		out.Status = OutcomeSkipped
		return out
	}
	if ctx.Err() != nil {
		out.Status = OutcomeCanceled
		out.Err = ctx.Err()
		return out
	}
	if !p.deps.Registry.Claim(p.domain, canonical) {
		out.Status = OutcomeSkipped
		return out
	}
	if pacer != nil {
		if _, err := pacer.Wait(ctx, canonical); err != nil {
			out.Status = OutcomeCanceled
			out.Err = err
			return out
		}
	}

	// The fetch and write of a claimed URL complete even after cancellation.
	workCtx, span := p.deps.Tracer.Start(context.WithoutCancel(ctx), "crawl.page", trace.WithAttributes(
		attribute.String("url.full", canonical),
		attribute.String("crawl.domain", p.domain),
		attribute.Int("crawl.depth", item.Depth),
	))
	defer func() {
		span.SetAttributes(
			attribute.String("crawl.outcome", string(out.Status)),
			attribute.Int("http.response.status_code", out.StatusCode),
			attribute.Int("crawl.links", len(out.Links)),
		)
		if out.Err != nil {
			span.RecordError(out.Err)
			span.SetStatus(codes.Error, out.Err.Error())
		}
		span.End()
	}()
	log := p.logger.With(zap.Int("depth", item.Depth), zap.String("url", canonical))

	res, err := session.Fetch(workCtx, canonical)
	if err != nil {
		log.Warn("fetch failed", zap.Error(err))
		out.Status = OutcomeFetchFailed
		out.Err = err
		out.NodeID, _ = p.persist(workCtx, log, item, canonical, 0, canonical, extract.PathBreadcrumb(canonical))
		p.sample(canonical, 0, res, false)
		return out
	}
	out.StatusCode = res.StatusCode

	if !res.OK() {
		log.Info("non-success status", zap.Int("status_code", res.StatusCode))
		id, err := p.persist(workCtx, log, item, canonical, res.StatusCode, canonical, extract.PathBreadcrumb(canonical))
		out.Title = canonical
		out.NodeID = id
		out.Status = OutcomeStored
		if err != nil {
			out.Status = OutcomeStoreFailed
			out.Err = err
		}
		p.sample(canonical, res.StatusCode, res, false)
		return out
	}

	decoded := p.deps.Decoder.Decode(res.Body, res.ContentType)
	if decoded.Stage != decode.StageHeader && decoded.Stage != decode.StageEmpty {
		log.Debug("decoded without declared charset",
			zap.String("charset", decoded.Charset),
			zap.String("stage", string(decoded.Stage)),
		)
	}
	doc, err := extract.Parse(decode.DetectKind(res.ContentType, decoded.Text), decoded.Text)
	if err != nil {
		log.Warn("unparseable content", zap.Error(err))
		out.Status = OutcomeParseFailed
		out.Err = err
		p.sample(canonical, res.StatusCode, res, false)
		return out
	}

	out.Title = doc.Title(canonical)
	id, err := p.persist(workCtx, log, item, canonical, res.StatusCode, out.Title, doc.Breadcrumb(canonical))
	if err != nil {
		out.Status = OutcomeStoreFailed
		out.Err = err
		p.sample(canonical, res.StatusCode, res, false)
		return out
	}
	out.NodeID = id
	out.Status = OutcomeStored
	p.sample(canonical, res.StatusCode, res, true)

	if item.Depth < p.cfg.MaxDepth {
		base := res.FinalURL
		if base == "" {
			base = canonical
		}
		out.Links = doc.Links(base, p.domain, p.excluded)
	}
	log.Debug("page stored", zap.String("node_id", id.String()), zap.Int("links", len(out.Links)))
	return out
}

func (p *Pipeline) persist(
	ctx context.Context,
	log *zap.Logger,
	item WorkItem,
	url string,
	statusCode int,
	title string,
	breadcrumb string,
) (uuid.UUID, error) {
	id, err := p.deps.Nodes.UpsertNode(ctx, store.NodeInput{
		URL:        url,
		ParentID:   item.ParentID,
		Breadcrumb: breadcrumb,
		Title:      title,
		StatusCode: statusCode,
		Excluded:   p.excluded,
	}, p.cfg.UpdateExisting)
	if err != nil {
		log.Error("persist node failed", zap.Error(err))
		p.recordUpsert(UpsertFailed)
		return uuid.Nil, fmt.Errorf("upsert node: %w", err)
	}
	p.recordUpsert(UpsertStored)
	p.publish(ctx, log, item, id, url, statusCode)
	return id, nil
}

func (p *Pipeline) publish(ctx context.Context, log *zap.Logger, item WorkItem, id uuid.UUID, url string, statusCode int) {
	if p.deps.Publisher == nil || p.cfg.Topic == "" {
		return
	}
	event := NodeEvent{
		NodeID:     id.String(),
		URL:        url,
		Domain:     p.domain,
		StatusCode: statusCode,
		Depth:      item.Depth,
	}
	if item.ParentID != nil {
		event.ParentID = item.ParentID.String()
	}
	if p.deps.Clock != nil {
		event.Timestamp = p.deps.Clock.Now()
	}
	if _, err := p.deps.Publisher.Publish(ctx, p.cfg.Topic, event); err != nil {
		log.Warn("publish node event failed", zap.Error(err))
	}
}

func (p *Pipeline) sample(url string, statusCode int, res FetchResult, success bool) {
	s := speed.Sample{
		Domain:     p.domain,
		URL:        url,
		StatusCode: statusCode,
		Latency:    res.Latency,
		Success:    success,
	}
	if p.deps.Monitor != nil {
		p.deps.Monitor.Record(s)
	}
	if p.deps.Recorder != nil {
		p.deps.Recorder.RecordPage(s)
	}
}

func (p *Pipeline) recordUpsert(result string) {
	if p.deps.Recorder != nil {
		p.deps.Recorder.RecordUpsert(result)
	}
}
