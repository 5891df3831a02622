// Package sync drives the per-message pipeline: list candidate ids, then
// fetch, extract, persist, and optionally mark each message, isolating
// failures so one bad message never aborts the run.
package sync

import (
	"context"
	"fmt"
	gosync "sync"

	"github.com/gammazero/workerpool"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/nhle/gmail-archiver/internal/archive"
	"github.com/nhle/gmail-archiver/internal/extract"
	"github.com/nhle/gmail-archiver/internal/model"
	"github.com/nhle/gmail-archiver/internal/store"
	"github.com/nhle/gmail-archiver/internal/transport"
	"github.com/nhle/gmail-archiver/internal/transport/gmail"
)

// Options configures a single sync run.
type Options struct {
	// Labels are the requested label names in priority order. The first
	// entry is the fallback destination grouping.
	Labels []string

	// Query is an additional remote search query.
	Query string

	// MarkLabel, when non-empty, is applied to each successfully ingested
	// message and excluded from the listing of the next run.
	MarkLabel string

	// Max caps the number of messages processed (0 = no limit).
	Max int64

	// Workers bounds the per-message fan-out; fetches dominate run time,
	// so this is the run's concurrency knob.
	Workers int
}

// Failure records one skipped message with the pipeline stage that failed.
type Failure struct {
	MessageID string
	Stage     string
	Err       error
}

// Summary is the user-visible result of a run.
type Summary struct {
	RunID            string
	Listed           int
	Processed        int
	AttachmentsSaved int
	MarkFailures     int
	Failures         []Failure
}

// Skipped returns how many listed messages did not ingest.
func (s *Summary) Skipped() int {
	return len(s.Failures)
}

// Syncer owns one run's collaborators. It is not safe to share a Syncer
// across concurrent runs; within a run, per-message work may fan out.
type Syncer struct {
	transport transport.Transport
	store     store.Store
	archive   *archive.Archive
	log       *logrus.Logger
	opts      Options

	mu      gosync.Mutex
	summary *Summary
}

// New creates a Syncer from its collaborators.
func New(
	t transport.Transport,
	st store.Store,
	ar *archive.Archive,
	log *logrus.Logger,
	opts Options,
) *Syncer {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	return &Syncer{
		transport: t,
		store:     st,
		archive:   ar,
		log:       log,
		opts:      opts,
	}
}

// Run executes one sync pass. Configuration and list/resolve transport
// failures abort the run; per-message failures are recorded on the
// returned summary and the run continues.
func (s *Syncer) Run(ctx context.Context) (*Summary, error) {
	if len(s.opts.Labels) == 0 {
		return nil, fmt.Errorf("no labels requested")
	}

	s.summary = &Summary{RunID: uuid.NewString()}
	log := s.log.WithField("run_id", s.summary.RunID)

	labelIDs, err := s.transport.ResolveLabelIDs(ctx, s.opts.Labels)
	if err != nil {
		return nil, fmt.Errorf("resolving labels: %w", err)
	}

	labelMap, err := s.transport.ListLabels(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing labels: %w", err)
	}
	idToName := make(map[string]string, len(labelMap))
	for name, id := range labelMap {
		idToName[id] = name
	}

	markLabelID := ""
	if s.opts.MarkLabel != "" {
		markLabelID, err = s.transport.EnsureLabel(ctx, s.opts.MarkLabel)
		if err != nil {
			return nil, fmt.Errorf("ensuring mark label %q: %w", s.opts.MarkLabel, err)
		}
		// The mark label may have been created after the map was fetched.
		idToName[markLabelID] = s.opts.MarkLabel
		labelMap[s.opts.MarkLabel] = markLabelID
	}

	query := gmail.BuildQuery(s.opts.Query, s.opts.MarkLabel)

	ids, err := s.transport.ListMessageIDs(ctx, labelIDs, query, s.opts.Max)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	s.summary.Listed = len(ids)
	log.WithFields(logrus.Fields{
		"labels": s.opts.Labels,
		"query":  query,
		"count":  len(ids),
	}).Info("listed messages")

	wp := workerpool.New(s.opts.Workers)
	for _, id := range ids {
		id := id
		wp.Submit(func() {
			if ctx.Err() != nil {
				return
			}
			s.processMessage(ctx, id, labelMap, idToName, markLabelID)
		})
	}
	wp.StopWait()

	if err := ctx.Err(); err != nil {
		log.WithError(err).Warn("run interrupted; unprocessed messages will be picked up next run")
	}

	log.WithFields(logrus.Fields{
		"listed":      s.summary.Listed,
		"processed":   s.summary.Processed,
		"skipped":     s.summary.Skipped(),
		"attachments": s.summary.AttachmentsSaved,
	}).Info("run finished")

	return s.summary, nil
}

// processMessage runs the fetch -> extract -> persist -> mark pipeline for
// a single message id. Every failure path records the id and stage.
func (s *Syncer) processMessage(
	ctx context.Context,
	id string,
	labelMap map[string]string,
	idToName map[string]string,
	markLabelID string,
) {
	log := s.log.WithFields(logrus.Fields{
		"run_id":   s.summary.RunID,
		"gmail_id": id,
	})

	raw, err := s.transport.FetchRaw(ctx, id)
	if err != nil {
		s.fail(log, id, "fetch", err)
		return
	}

	meta, err := s.transport.FetchMetadata(ctx, id)
	if err != nil {
		s.fail(log, id, "fetch", err)
		return
	}

	email := extract.Parse(raw)
	for _, p := range email.Problems {
		log.WithField("part", p.Part).WithError(p.Err).Debugf("decode problem at stage %s", p.Stage)
	}

	dest := pickDestination(s.opts.Labels, labelMap, meta.LabelIDs)

	rawPath, err := s.archive.SaveOriginal(dest, id, raw)
	if err != nil {
		s.fail(log, id, "persist", err)
		return
	}

	msgID, err := s.store.UpsertMessage(ctx, model.Message{
		GmailID:   id,
		ThreadID:  meta.ThreadID,
		MessageID: email.MessageID,
		Subject:   email.Subject,
		From:      email.From,
		To:        email.To,
		Cc:        email.Cc,
		Bcc:       email.Bcc,
		Date:      email.Date,
		Snippet:   meta.Snippet,
		TextBody:  email.TextBody,
		HTMLBody:  email.HTMLBody,
		Headers:   email.Headers,
		RawPath:   rawPath,
	})
	if err != nil {
		s.fail(log, id, "persist", err)
		return
	}

	var labels []model.Label
	for _, lid := range meta.LabelIDs {
		if name, ok := idToName[lid]; ok {
			labels = append(labels, model.Label{Name: name, ID: lid})
		}
	}
	if err := s.store.ReplaceLabels(ctx, msgID, labels); err != nil {
		s.fail(log, id, "persist", err)
		return
	}

	// Clear the on-disk attachment set in lockstep with the index replace
	// so a re-run leaves no orphans from the previous ingestion.
	if err := s.archive.ClearAttachments(dest, id); err != nil {
		s.fail(log, id, "persist", err)
		return
	}

	var saved []model.Attachment
	for _, att := range email.Attachments {
		path, err := s.archive.SaveAttachment(dest, id, att.Filename, att.Data)
		if err != nil {
			log.WithField("filename", att.Filename).WithError(err).Warn("failed to save attachment")
			continue
		}
		saved = append(saved, model.Attachment{
			MessageID:   msgID,
			Filename:    att.Filename,
			ContentType: att.ContentType,
			Size:        att.Size,
			Path:        path,
		})
	}
	if err := s.store.ReplaceAttachments(ctx, msgID, saved); err != nil {
		s.fail(log, id, "persist", err)
		return
	}

	markFailed := false
	if markLabelID != "" {
		if err := s.transport.AddLabel(ctx, id, markLabelID); err != nil {
			// The message is already durably stored; marking only helps
			// the next run's dedup, so this is a warning, not a failure.
			log.WithError(err).Warn("failed to mark message as downloaded")
			markFailed = true
		}
	}

	s.mu.Lock()
	s.summary.Processed++
	s.summary.AttachmentsSaved += len(saved)
	if markFailed {
		s.summary.MarkFailures++
	}
	s.mu.Unlock()

	log.WithFields(logrus.Fields{
		"label":       dest,
		"attachments": len(saved),
	}).Info("ingested message")
}

// fail records a skipped message on the summary and logs it with its id,
// so no skip is ever silent.
func (s *Syncer) fail(log *logrus.Entry, id, stage string, err error) {
	s.mu.Lock()
	s.summary.Failures = append(s.summary.Failures, Failure{
		MessageID: id,
		Stage:     stage,
		Err:       err,
	})
	s.mu.Unlock()

	log.WithError(err).Errorf("skipping message: %s failed", stage)
}

// pickDestination chooses the grouping for a message by scanning the
// requested labels in order and returning the first one the message
// actually carries. Labels can change between list and fetch; falling back
// to the first requested label guarantees every message lands in exactly
// one grouping even when the metadata is inconsistent. The fallback can
// file a relabeled message under a label it no longer carries; that is
// accepted policy.
func pickDestination(requested []string, labelMap map[string]string, msgLabelIDs []string) string {
	carried := make(map[string]bool, len(msgLabelIDs))
	for _, id := range msgLabelIDs {
		carried[id] = true
	}
	for _, name := range requested {
		if id, ok := labelMap[name]; ok && carried[id] {
			return name
		}
	}
	return requested[0]
}
