package database

import (
	"context"
	"database/sql"

	"github.com/bryan-buckman/curio/internal/apperr"
	"github.com/bryan-buckman/curio/internal/model"
)

// ApplyIngest writes a prepared payload: the item merge plus one revision per
// variant whose content differs from its current latest. Everything commits
// together or not at all.
func (s *sqlStore) ApplyIngest(ctx context.Context, up model.ItemUpsert, revs []model.PendingRevision) (*model.IngestResult, error) {
	if err := up.Validate(); err != nil {
		return nil, err
	}
	for _, pr := range revs {
		if !pr.Variant.Valid() {
			return nil, apperr.Validation(apperr.ReasonInvalidVariant, "unknown variant %q", pr.Variant)
		}
		if pr.Content.Empty() {
			return nil, apperr.Validation(apperr.ReasonEmptyContent, "variant %q has neither text nor html", pr.Variant)
		}
	}
	var res *model.IngestResult
	err := s.inTx(ctx, "apply ingest", func(tx *sql.Tx) error {
		created, err := s.upsertItemTx(ctx, tx, up)
		if err != nil {
			return err
		}
		r := &model.IngestResult{ItemID: up.ItemID, Created: created, Variants: make([]model.VariantOutcome, 0, len(revs))}
		for _, pr := range revs {
			rev, added, err := s.addRevisionTx(ctx, tx, up.ItemID, pr.Variant, pr.Content, true)
			if err != nil {
				return err
			}
			r.Variants = append(r.Variants, model.VariantOutcome{Variant: pr.Variant, Revision: rev, Created: added})
		}
		var source string
		if err := s.queryRow(ctx, tx, "SELECT source FROM items WHERE item_id = ?", up.ItemID).Scan(&source); err != nil {
			return err
		}
		r.Key = source + ":" + up.ItemID
		res = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}
