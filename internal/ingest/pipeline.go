// Package ingest accepts producer payloads and reconciles them into the
// store by natural key.
package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"

	"github.com/bryan-buckman/curio/internal/apperr"
	"github.com/bryan-buckman/curio/internal/logging"
	"github.com/bryan-buckman/curio/internal/model"
)

// Writer is the part of the store the pipeline needs.
type Writer interface {
	ApplyIngest(ctx context.Context, up model.ItemUpsert, revs []model.PendingRevision) (*model.IngestResult, error)
}

// Pipeline validates payloads and applies them. It is the only writer of
// items and revisions besides administrative delete.
type Pipeline struct {
	store Writer
	log   *logging.Logger
}

// New creates a pipeline writing to store.
func New(store Writer, log *logging.Logger) *Pipeline {
	return &Pipeline{store: store, log: logging.OrNop(log).With("component", "ingest")}
}

// Ingest validates p completely, then upserts the item and adds a revision
// for each variant whose content changed.
func (p *Pipeline) Ingest(ctx context.Context, payload model.IngestPayload) (*model.IngestResult, error) {
	up, revs, err := payload.Prepare()
	if err != nil {
		p.log.Warn("Rejected payload", "item_id", payload.ItemID, "reason", apperr.ReasonOf(err), "error", err)
		return nil, err
	}
	res, err := p.store.ApplyIngest(ctx, up, revs)
	if err != nil {
		p.log.Error("Ingest failed", "item_id", up.ItemID, "error", err)
		return nil, err
	}
	added := 0
	for _, v := range res.Variants {
		if v.Created {
			added++
		}
	}
	p.log.Info("Item ingested", "item_id", res.ItemID, "created", res.Created,
		"variants", len(res.Variants), "revisions_added", added)
	return res, nil
}

// Outcome is the per-item result of a batch.
type Outcome struct {
	ItemID string              `json:"item_id"`
	Result *model.IngestResult `json:"result,omitempty"`
	Error  string              `json:"error,omitempty"`
	Reason string              `json:"reason,omitempty"`
	Err    error               `json:"-"`
}

// IngestMany applies payloads one after another. A failed payload does not
// stop the batch; cancellation does.
func (p *Pipeline) IngestMany(ctx context.Context, payloads []model.IngestPayload) []Outcome {
	out := make([]Outcome, 0, len(payloads))
	for _, payload := range payloads {
		if err := ctx.Err(); err != nil {
			out = append(out, failed(payload.ItemID, apperr.Infra("ingest batch", err)))
			continue
		}
		res, err := p.Ingest(ctx, payload)
		if err != nil {
			out = append(out, failed(payload.ItemID, err))
			continue
		}
		out = append(out, Outcome{ItemID: res.ItemID, Result: res})
	}
	return out
}

func failed(itemID string, err error) Outcome {
	return Outcome{ItemID: itemID, Error: err.Error(), Reason: apperr.ReasonOf(err), Err: err}
}

// Decode reads one payload or a JSON array of payloads, reporting which form
// was sent. Unknown fields are rejected.
func Decode(r io.Reader) ([]model.IngestPayload, bool, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, false, apperr.Validation(apperr.ReasonInvalidPayload, "read payload: %v", err)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, false, apperr.Validation(apperr.ReasonInvalidPayload, "empty payload")
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var payloads []model.IngestPayload
	batch := data[0] == '['
	if batch {
		err = dec.Decode(&payloads)
	} else {
		var one model.IngestPayload
		err = dec.Decode(&one)
		payloads = append(payloads, one)
	}
	if err != nil {
		var ae *apperr.Error
		if errors.As(err, &ae) {
			return nil, batch, err
		}
		return nil, batch, apperr.Validation(apperr.ReasonInvalidPayload, "decode payload: %v", err)
	}
	if dec.More() {
		return nil, batch, apperr.Validation(apperr.ReasonInvalidPayload, "trailing data after payload")
	}
	return payloads, batch, nil
}
