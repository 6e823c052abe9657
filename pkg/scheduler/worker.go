package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/go-pkgz/lgr"

	"github.com/umputun/shortcast/pkg/domain"
	"github.com/umputun/shortcast/pkg/pipeline"
	"github.com/umputun/shortcast/pkg/retry"
)

var errSlotMissed = errors.New("publish slot passed")

// recommendations attached to the event pausing a channel after repeated failures
var recommendations = map[domain.Category]string{
	domain.CatScriptInvalid:      "check the channel descriptor and llm model, scripts keep failing validation",
	domain.CatNoSuitableClip:     "broaden the channel theme or check the stock provider key, clip searches return nothing usable",
	domain.CatAVDrift:            "check ffmpeg version and tts output format, audio can't be fitted to video",
	domain.CatEncoder:            "check ffmpeg installation and free disk space, encoding keeps failing",
	domain.CatTransient:          "check network connectivity to providers",
	domain.CatRateLimited:        "increase the publish interval, providers keep rate limiting",
	domain.CatDuplicateExhausted: "widen the channel theme or shorten the dedup window, topics keep repeating",
	domain.CatDependencyMissing:  "install the missing binaries or fix BINARY_PATHS",
	domain.CatUploadPermanent:    "check upload metadata and channel standing on the platform",
}

// Recommendation returns the operator hint for repeated failures with the cause
func Recommendation(cause domain.Category) string {
	if r, ok := recommendations[cause]; ok {
		return r
	}
	return "inspect recent events of the channel"
}

// NextPublish returns the next publish instant, last publish plus interval but never in the past
func NextPublish(ch *domain.Channel, now time.Time) time.Time {
	if ch.LastPublishAt == nil {
		return now
	}
	next := ch.LastPublishAt.Add(time.Duration(ch.IntervalMinutes) * time.Minute)
	if next.Before(now) {
		return now
	}
	return next
}

// Worker drives the publish slots of a single channel
type Worker struct {
	Deps
	params    Params
	channelID string
	lastSlot  time.Time // most recent slot handled, skipped slots advance from it
}

// Run loops over publish slots until ctx is done or the channel is no longer active.
// Returns an error for store failures only.
func (w *Worker) Run(ctx context.Context) error {
	n, err := w.Store.RecoverInFlight(ctx, w.channelID)
	if err != nil {
		return fmt.Errorf("recover in-flight items of %s: %w", w.channelID, err)
	}
	if n > 0 {
		log.Printf("[INFO] %d interrupted items of %s recovered", n, w.channelID)
	}

	for {
		ch, ok, err := w.channel(ctx)
		if err != nil || ch == nil {
			return err
		}
		if !ok {
			if err := w.params.Sleep(ctx, w.params.ReauthPoll); err != nil {
				return nil
			}
			continue
		}

		slot := w.nextSlot(ch)
		log.Printf("[DEBUG] next slot of %s at %s", ch.ID, slot.Format(time.RFC3339))
		if err := w.sleepUntil(ctx, slot.Add(-w.params.Lead)); err != nil {
			return nil
		}
		// channel could be paused or changed while sleeping
		if ch, ok, err = w.channel(ctx); err != nil || ch == nil {
			return err
		}
		if !ok {
			continue
		}

		w.lastSlot = slot
		item, err := w.prepare(ctx, ch, slot)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if isStoreErr(err) {
				return err
			}
			log.Printf("[WARN] slot %s of %s skipped: %v", slot.Format(time.RFC3339), ch.ID, err)
			continue
		}
		if item == nil {
			continue
		}

		if err := w.sleepUntil(ctx, slot); err != nil {
			return nil
		}
		if ch, ok, err = w.channel(ctx); err != nil || ch == nil {
			return err
		}
		if !ok {
			continue
		}
		published, err := w.Publisher.Publish(ctx, ch, item.ID)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Printf("[WARN] publish of %s for %s failed: %v", item.ID, ch.ID, err)
			continue
		}
		log.Printf("[INFO] %s published as %s for %s", published.ID, published.ExternalID, ch.ID)
	}
}

// channel loads the channel. A nil channel means the worker should stop, ok is false while the
// credential waits for re-authorization.
func (w *Worker) channel(ctx context.Context) (ch *domain.Channel, ok bool, err error) {
	ch, err = w.Store.GetChannel(ctx, w.channelID)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, domain.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("get channel %s: %w", w.channelID, err)
	}
	if !ch.Active {
		log.Printf("[INFO] channel %s is not active (%s)", ch.ID, ch.PauseReason)
		return nil, false, nil
	}
	cred, err := w.Store.GetCredential(ctx, ch.CredentialID)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("get credential of %s: %w", ch.ID, err)
	}
	if cred.State == domain.CredentialNeedsReauth || cred.State == domain.CredentialRevoked {
		log.Printf("[DEBUG] channel %s skipped, credential %s is %s", ch.ID, cred.ID, cred.State)
		return ch, false, nil
	}
	return ch, true, nil
}

func (w *Worker) nextSlot(ch *domain.Channel) time.Time {
	next := NextPublish(ch, w.params.Now())
	if !w.lastSlot.IsZero() && !next.After(w.lastSlot) {
		next = w.lastSlot.Add(time.Duration(ch.IntervalMinutes) * time.Minute)
	}
	return next
}

// prepare returns the item to publish at the slot: a ready item left from before or a newly
// generated one. Nil item without error means the slot is skipped.
func (w *Worker) prepare(ctx context.Context, ch *domain.Channel, slot time.Time) (*domain.Item, error) {
	ready, err := w.Store.GetReadyItem(ctx, ch.ID)
	switch {
	case err == nil:
		log.Printf("[INFO] ready item %s of %s will be published at %s", ready.ID, ch.ID, slot.Format(time.RFC3339))
		return ready, nil
	case !errors.Is(err, domain.ErrNotFound):
		return nil, fmt.Errorf("get ready item: %w", err)
	}

	res := w.Validator.Run(ctx, ch)
	if !res.Passed {
		if res.Category == domain.CatDependencyMissing {
			w.Recorder.Record(ctx, ch.ID, domain.SeverityError, res.Category,
				fmt.Sprintf("slot %s skipped: %v", slot.Format(time.RFC3339), res.Error()),
				map[string]any{"check": res.Check, "slot": slot})
		}
		log.Printf("[WARN] pre-flight %s of %s failed, slot skipped: %v", res.Check, ch.ID, res.Error())
		return nil, nil
	}
	return w.generate(ctx, ch, slot)
}

// generate selects a topic, creates the item and runs the pipeline, retrying with a new item while
// the slot is not reached. Repeated failures with the same cause pause the channel.
func (w *Worker) generate(ctx context.Context, ch *domain.Channel, slot time.Time) (*domain.Item, error) {
	var item *domain.Item
	attempt := 0
	policy := retry.Policy{Name: "generation for " + ch.ID, Attempts: w.params.GenAttempts, Base: w.params.RetryBase,
		Cap: w.params.RetryCap, Classify: generationClass}
	err := policy.Do(ctx, func(ctx context.Context) error {
		attempt++
		if attempt > 1 && w.params.Now().After(slot) {
			return retry.Permanent(errSlotMissed)
		}
		sel, err := w.Selector.Select(ctx, ch)
		if err != nil {
			return fmt.Errorf("select topic: %w", err)
		}
		it := &domain.Item{ChannelID: ch.ID, Topic: sel.Topic, TopicKey: sel.TopicKey, Format: sel.Format,
			Group: sel.Group, Snapshot: sel.Snapshot, TrendID: sel.TrendID, ScheduledAt: slot}
		if err := w.Store.CreateItem(ctx, it); err != nil {
			return retry.Permanent(fmt.Errorf("create item: %w", err))
		}
		log.Printf("[INFO] item %s of %s planned: %q (%s, %s arm), attempt %d", it.ID, ch.ID, it.Topic, it.Format,
			it.Group, attempt)

		_, err = w.Generator.Generate(ctx, pipeline.Request{Channel: ch, Item: it, Plan: sel.Plan,
			HookTemplate: sel.HookTemplate, Hints: sel.Hints})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			paused, gerr := w.guard(ctx, ch)
			if gerr != nil {
				log.Printf("[WARN] failure guard of %s: %v", ch.ID, gerr)
			}
			if paused {
				return retry.Permanent(err)
			}
			return err
		}
		item = it
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("generate for %s: %w", ch.ID, err)
	}
	return item, nil
}

// guard pauses the channel when its last items all failed with the same cause
func (w *Worker) guard(ctx context.Context, ch *domain.Channel) (bool, error) {
	limit := w.params.FailureLimit
	items, err := w.Store.GetItems(ctx, domain.ItemFilter{ChannelID: ch.ID, Limit: limit})
	if err != nil {
		return false, fmt.Errorf("get recent items: %w", err)
	}
	if len(items) < limit {
		return false, nil
	}
	cause := items[0].ErrorCause
	ids := make([]string, 0, len(items))
	for _, it := range items {
		if it.Status != domain.StatusFailed || it.ErrorCause == "" || it.ErrorCause != cause {
			return false, nil
		}
		ids = append(ids, it.ID)
	}

	if err := w.Store.PauseChannel(ctx, ch.ID, domain.PauseFailures); err != nil {
		return false, fmt.Errorf("pause channel: %w", err)
	}
	rec := Recommendation(cause)
	w.Recorder.Record(ctx, ch.ID, domain.SeverityError, cause,
		fmt.Sprintf("channel paused after %d consecutive %s failures: %s", limit, cause, rec),
		map[string]any{"cause": cause, "items": ids, "recommendation": rec})
	return true, nil
}

func (w *Worker) sleepUntil(ctx context.Context, at time.Time) error {
	return w.params.Sleep(ctx, at.Sub(w.params.Now()))
}

// generationClass decides which generation failures are worth another item within the slot
func generationClass(err error) domain.ErrorClass {
	switch domain.CategoryOf(err) {
	case domain.CatAuth:
		return domain.ClassAuth
	case domain.CatQuota:
		return domain.ClassQuota
	case domain.CatDuplicateExhausted, domain.CatStore, domain.CatDependencyMissing, domain.CatValidation:
		return domain.ClassPermanent
	}
	return domain.ClassTransient
}

func isStoreErr(err error) bool {
	return errors.Is(err, domain.ErrStoreUnavailable) || errors.Is(err, domain.ErrStoreCorrupt)
}
