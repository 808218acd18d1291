package dispatch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"calltrack/internal/callfile"
	"calltrack/internal/cases"
	"calltrack/internal/metrics"
	"calltrack/internal/queue"
	"calltrack/internal/tags"
)

// runPipeline transcribes and analyzes a call that closed no pending case,
// then opens new cases when the analysis promises a transfer or a callback.
func (h *Handler) runPipeline(ctx context.Context, path, name string, parsed callfile.Parsed, main string) error {
	transcript, err := h.trans.Transcribe(ctx, path)
	if err != nil {
		h.fail(ctx, name, fmt.Errorf("transcribe: %w", err))
		return err
	}
	analysis, err := h.analyzer.Analyze(ctx, h.prompts.ForStation(main), transcript)
	if err != nil {
		h.fail(ctx, name, fmt.Errorf("analyze: %w", err))
		return err
	}
	h.saveArtifacts(name, parsed.CallTime, transcript, analysis)

	switch {
	case tags.Has(analysis, "ТИПЗВОНКА", "ЦЕЛЕВОЙ") && tags.Has(analysis, "РЕЗУЛЬТАТ", "ПЕРЕВОД"):
		if err := h.openTransferCase(ctx, name, parsed, main, transcript); err != nil {
			return err
		}
	case tags.Has(analysis, "ТИПЗВОНКА", "ЦЕЛЕВОЙ") && tags.Has(analysis, "РЕЗУЛЬТАТ", "ПЕРЕЗВОНИТЬ"):
		if err := h.openRecallCase(ctx, name, parsed, main, transcript); err != nil {
			return err
		}
	}

	if h.history != nil {
		if err := h.history.MarkAnalyzed(ctx, name, transcript, analysis, time.Now()); err != nil {
			h.log.Warnf("history analyzed %s: %v", name, err)
		}
	}
	return nil
}

// openTransferCase runs the transfer detail prompt and opens either a normal
// countdown case (conditions "ЧАС") or a special record.
func (h *Handler) openTransferCase(ctx context.Context, name string, parsed callfile.Parsed, main, transcript string) error {
	detail, err := h.analyzer.Analyze(ctx, h.prompts.Transfer, transcript)
	if err != nil {
		h.fail(ctx, name, fmt.Errorf("transfer detail: %w", err))
		return err
	}
	target, _ := tags.SubValue(detail, "ПЕРЕВОД", "СТАНЦИЯ")
	conditions, _ := tags.SubValue(detail, "ПЕРЕВОД", "УСЛОВИЯ")
	opts := cases.AddOptions{
		TransferStation:    target,
		TransferConditions: conditions,
		Analysis:           detail,
	}
	if strings.EqualFold(conditions, "ЧАС") {
		h.transfers.Add(parsed.Phone, main, parsed.CallTime, opts)
	} else {
		h.transfers.AddSpecial(parsed.Phone, main, parsed.CallTime, opts)
	}
	metrics.IncCasesOpened()
	return nil
}

// openRecallCase runs the callback detail prompt. A promise within the hour
// opens a countdown case; a concrete later time becomes a special record.
func (h *Handler) openRecallCase(ctx context.Context, name string, parsed callfile.Parsed, main, transcript string) error {
	detail, err := h.analyzer.Analyze(ctx, h.prompts.Recall, transcript)
	if err != nil {
		h.fail(ctx, name, fmt.Errorf("recall detail: %w", err))
		return err
	}
	opts := cases.AddOptions{Analysis: detail}
	when, hasWhen := tags.SubValue(detail, "ПЕРЕЗВОНИТЬ", "КОГДА")
	switch {
	case tags.Has(detail, "ПЕРЕЗВОНИТЬ", "ЧАС"):
		h.recalls.Add(parsed.Phone, main, parsed.CallTime, opts)
	case hasWhen && strings.EqualFold(when, "час"):
		h.recalls.Add(parsed.Phone, main, parsed.CallTime, opts)
	case hasWhen:
		opts.When = when
		h.recalls.AddSpecial(parsed.Phone, main, parsed.CallTime, opts)
	default:
		h.recalls.Add(parsed.Phone, main, parsed.CallTime, opts)
	}
	metrics.IncCasesOpened()
	return nil
}

// Followup builds the async resolution step for one tracker: transcribe the
// closing call, run the follow-up prompt, and hand the analysis back to the
// tracker. Wired via Tracker.SetFollowup.
func (h *Handler) Followup(tr *cases.Tracker, prompt func() string) cases.Followup {
	return func(path string, closed cases.Case) {
		name := filepath.Base(path)
		job := queue.Job{
			ID:     name + ":followup",
			Source: tr.Label() + "_followup",
			Work: func(ctx context.Context) error {
				transcript, err := h.trans.Transcribe(ctx, path)
				if err != nil {
					h.fail(ctx, name, fmt.Errorf("followup transcribe: %w", err))
					return err
				}
				analysis, err := h.analyzer.Analyze(ctx, prompt(), transcript)
				if err != nil {
					h.fail(ctx, name, fmt.Errorf("followup analyze: %w", err))
					return err
				}
				h.saveArtifacts(name+".followup", closed.CallTime, transcript, analysis)
				tr.Resolve(closed, analysis)
				return nil
			},
		}
		if !h.jobs.Enqueue(job) {
			h.log.WithField("file", name).Warn("followup job dropped, queue full")
		}
	}
}

// saveArtifacts writes the transcript and analysis next to the day's
// recordings so operators can audit the pipeline output.
func (h *Handler) saveArtifacts(name string, callTime time.Time, transcript, analysis string) {
	dir := filepath.Join(DayDir(h.baseDir, callTime), "transcriptions")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		h.log.Warnf("artifacts dir: %v", err)
		return
	}
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	if err := os.WriteFile(filepath.Join(dir, stem+".transcript.txt"), []byte(transcript), 0o644); err != nil {
		h.log.Warnf("write transcript: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, stem+".analysis.txt"), []byte(analysis), 0o644); err != nil {
		h.log.Warnf("write analysis: %v", err)
	}
}
