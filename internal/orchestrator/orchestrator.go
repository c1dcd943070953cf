// Package orchestrator runs the generation pipeline: admit against quota,
// assemble context, stream from the model through the resumable transport,
// then persist and commit once the generation has succeeded.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/parley-ai/parley/internal/chats"
	"github.com/parley-ai/parley/internal/clock"
	"github.com/parley-ai/parley/internal/entitlements"
	"github.com/parley-ai/parley/internal/events"
	"github.com/parley-ai/parley/internal/metrics"
	"github.com/parley-ai/parley/internal/prompt"
	"github.com/parley-ai/parley/internal/provider"
	"github.com/parley-ai/parley/internal/quota"
	"github.com/parley-ai/parley/internal/stream"
)

// ErrModelForbidden is returned when the requested model exists but the
// user's plan does not include it.
var ErrModelForbidden = errors.New("model not available on this plan")

type Orchestrator struct {
	gate      *quota.Gate
	chats     *chats.Service
	assembler *prompt.Assembler
	enhancer  *prompt.Enhancer
	registry  *provider.Registry
	coord     *stream.Coordinator
	publisher *events.Publisher
	clk       clock.Clock

	systemPrompt string
}

type Config struct {
	Gate         *quota.Gate
	Chats        *chats.Service
	Assembler    *prompt.Assembler
	Enhancer     *prompt.Enhancer
	Registry     *provider.Registry
	Coordinator  *stream.Coordinator
	Publisher    *events.Publisher
	Clock        clock.Clock
	SystemPrompt string
}

func New(cfg Config) *Orchestrator {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	return &Orchestrator{
		gate:         cfg.Gate,
		chats:        cfg.Chats,
		assembler:    cfg.Assembler,
		enhancer:     cfg.Enhancer,
		registry:     cfg.Registry,
		coord:        cfg.Coordinator,
		publisher:    cfg.Publisher,
		clk:          clk,
		systemPrompt: cfg.SystemPrompt,
	}
}

// GenerateRequest is one admitted-and-validated user turn.
type GenerateRequest struct {
	Chat    *chats.Chat
	UserID  uuid.UUID
	Plan    entitlements.Plan
	ModelID string
	Parts   []chats.Part
}

// Generate runs the full pipeline for one user message. On success the
// returned channel follows the generation's stream events; the generation
// itself is detached from ctx, so a client disconnect neither cancels it
// nor skips the quota commit.
func (o *Orchestrator) Generate(ctx context.Context, req *GenerateRequest) (*stream.Handle, <-chan stream.Event, error) {
	now := o.clk.Now()

	prov, info, err := o.registry.Lookup(req.ModelID)
	if err != nil {
		return nil, nil, err
	}
	if !entitlements.ModelAllowed(req.Plan, req.ModelID) {
		return nil, nil, fmt.Errorf("%w: %s", ErrModelForbidden, req.ModelID)
	}

	ceiling := entitlements.DailyQuota(req.Plan)
	if _, err := o.gate.Admit(ctx, req.UserID, ceiling, now); err != nil {
		o.recordDenial(ctx, req.UserID, err, now)
		return nil, nil, err
	}

	userMsg := &chats.Message{ChatID: req.Chat.ID, Role: chats.RoleUser, Parts: req.Parts}
	if err := o.chats.AppendMessage(ctx, userMsg); err != nil {
		return nil, nil, fmt.Errorf("persisting user message: %w", err)
	}

	history, err := o.chats.Messages(ctx, req.Chat.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("loading history: %w", err)
	}

	firstTurn := len(history) == 1

	system := o.systemPrompt
	userText := userMsg.Text()
	enhancedUser, system := o.enhancer.Enhance(ctx, userText, system)

	msgs := toProviderMessages(history)
	if len(msgs) > 0 && enhancedUser != userText {
		msgs[len(msgs)-1].Content = enhancedUser
	}
	selected := o.assembler.Assemble(system, msgs)

	handle, err := o.coord.Begin(ctx, req.Chat.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("allocating stream: %w", err)
	}

	// Attach before the generation starts so the caller cannot miss its own
	// stream.
	eventCh, err := o.coord.Transport().Attach(ctx, handle.StreamID)
	if err != nil {
		return nil, nil, fmt.Errorf("attaching to stream: %w", err)
	}

	// The generation must outlive the request: commit-on-success depends on
	// the pipeline finishing even when the client goes away mid-stream.
	genCtx := context.WithoutCancel(ctx)
	go o.run(genCtx, handle, prov, info, req, ceiling, system, selected)

	if firstTurn {
		go o.chats.GenerateTitle(genCtx, req.Chat.ID, userText)
	}

	return handle, eventCh, nil
}

// run drives one detached generation to completion.
func (o *Orchestrator) run(ctx context.Context, handle *stream.Handle, prov provider.Provider, info provider.ModelInfo, req *GenerateRequest, ceiling int, system string, msgs []provider.Message) {
	start := time.Now()
	transport := o.coord.Transport()

	fail := func(genErr error) {
		slog.Error("generation failed",
			"chat_id", req.Chat.ID,
			"stream_id", handle.StreamID,
			"model", info.ID,
			"error", genErr,
		)
		if err := transport.Publish(ctx, handle.StreamID, stream.Event{Type: stream.EventError, Data: "generation failed"}); err != nil {
			slog.Error("publishing error event", "stream_id", handle.StreamID, "error", err)
		}
		if err := transport.Conclude(ctx, handle.StreamID); err != nil {
			slog.Error("concluding stream", "stream_id", handle.StreamID, "error", err)
		}
		metrics.GenerationsTotal.WithLabelValues("error").Inc()
		o.publisher.GenerationFailed(ctx, events.GenerationEvent{
			UserID:     req.UserID,
			ChatID:     req.Chat.ID,
			StreamID:   handle.StreamID,
			Model:      info.ID,
			Provider:   info.Provider,
			DurationMS: time.Since(start).Milliseconds(),
			Error:      genErr.Error(),
			Timestamp:  o.clk.Now(),
		})
	}

	ch, err := prov.Stream(ctx, &provider.Request{
		Model:    info.Upstream,
		System:   system,
		Messages: msgs,
	})
	if err != nil {
		fail(err)
		return
	}

	var full strings.Builder
	var usage provider.Usage
	for ev := range ch {
		switch ev.Type {
		case provider.EventTextDelta:
			full.WriteString(ev.Text)
			if err := transport.Publish(ctx, handle.StreamID, stream.Event{Type: stream.EventDelta, Data: ev.Text}); err != nil {
				slog.Error("publishing delta", "stream_id", handle.StreamID, "error", err)
			}
		case provider.EventError:
			fail(ev.Err)
			return
		case provider.EventDone:
			if ev.Usage != nil {
				usage = *ev.Usage
			}
		}
	}

	assistant := &chats.Message{
		ChatID: req.Chat.ID,
		Role:   chats.RoleAssistant,
		Parts:  []chats.Part{{Type: chats.PartText, Text: full.String()}},
	}
	if err := o.chats.AppendMessage(ctx, assistant); err != nil {
		fail(fmt.Errorf("persisting assistant message: %w", err))
		return
	}

	// Commit only now: a generation that failed anywhere above costs the
	// user nothing.
	if _, err := o.gate.Commit(ctx, req.UserID, ceiling, o.clk.Now()); err != nil {
		slog.Error("quota commit failed after successful generation",
			"user_id", req.UserID,
			"chat_id", req.Chat.ID,
			"error", err,
		)
	}

	if err := transport.Publish(ctx, handle.StreamID, stream.Event{Type: stream.EventDone}); err != nil {
		slog.Error("publishing done event", "stream_id", handle.StreamID, "error", err)
	}
	if err := transport.Conclude(ctx, handle.StreamID); err != nil {
		slog.Error("concluding stream", "stream_id", handle.StreamID, "error", err)
	}

	elapsed := time.Since(start)
	metrics.GenerationsTotal.WithLabelValues("success").Inc()
	metrics.GenerationDuration.Observe(elapsed.Seconds())
	o.publisher.GenerationCompleted(ctx, events.GenerationEvent{
		UserID:       req.UserID,
		ChatID:       req.Chat.ID,
		StreamID:     handle.StreamID,
		Model:        info.ID,
		Provider:     info.Provider,
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
		DurationMS:   elapsed.Milliseconds(),
		Timestamp:    o.clk.Now(),
	})
}

// Resume rejoins a chat's latest generation on behalf of a returning
// client.
func (o *Orchestrator) Resume(ctx context.Context, chatID, userID uuid.UUID) (*stream.Resumption, error) {
	res, err := o.coord.Resume(ctx, chatID, o.clk.Now())
	if err != nil {
		return nil, err
	}
	metrics.StreamResumesTotal.WithLabelValues(string(res.Kind)).Inc()
	o.publisher.StreamResumed(ctx, events.StreamResumedEvent{
		UserID:    userID,
		ChatID:    chatID,
		Result:    string(res.Kind),
		Timestamp: o.clk.Now(),
	})
	return res, nil
}

// QuotaStatus reports the user's usage for the current day.
func (o *Orchestrator) QuotaStatus(ctx context.Context, userID uuid.UUID, plan entitlements.Plan) (*quota.Status, error) {
	return o.gate.Status(ctx, userID, entitlements.DailyQuota(plan), o.clk.Now())
}

// Models lists the catalog entries available to the given plan.
func (o *Orchestrator) Models(plan entitlements.Plan) []provider.ModelInfo {
	var out []provider.ModelInfo
	for _, m := range o.registry.Models() {
		if entitlements.ModelAllowed(plan, m.ID) {
			out = append(out, m)
		}
	}
	return out
}

func (o *Orchestrator) recordDenial(ctx context.Context, userID uuid.UUID, err error, now time.Time) {
	var exceeded *quota.ExceededError
	var zero *quota.ZeroQuotaError
	switch {
	case errors.As(err, &exceeded):
		metrics.QuotaDeniedTotal.WithLabelValues("exhausted").Inc()
		retry := exceeded.RetryAt
		o.publisher.QuotaDenied(ctx, events.QuotaDeniedEvent{
			UserID:    userID,
			Reason:    "exhausted",
			RetryAt:   &retry,
			Timestamp: now,
		})
	case errors.As(err, &zero):
		metrics.QuotaDeniedTotal.WithLabelValues("zero_quota").Inc()
		o.publisher.QuotaDenied(ctx, events.QuotaDeniedEvent{
			UserID:    userID,
			Reason:    "zero_quota",
			Timestamp: now,
		})
	}
}

func toProviderMessages(history []chats.Message) []provider.Message {
	out := make([]provider.Message, 0, len(history))
	for i := range history {
		role := provider.RoleUser
		if history[i].Role == chats.RoleAssistant {
			role = provider.RoleAssistant
		}
		out = append(out, provider.Message{Role: role, Content: history[i].Text()})
	}
	return out
}
