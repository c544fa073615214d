package app

import (
	"context"
	"fmt"
	"sort"

	"authorsapi/internal/metrics"
	"authorsapi/internal/util"
	"authorsapi/pkg/domain"
	"authorsapi/pkg/storage"
	"authorsapi/pkg/store"
	"github.com/google/uuid"
)

// cascadePlan lists every row one delete request removes.
type cascadePlan struct {
	userIDs    []string
	companyIDs []string
	bookIDs    []string
	imageKeys  []string
}

func (p *cascadePlan) addBooks(books []domain.Book) {
	seen := make(map[string]struct{}, len(p.bookIDs))
	for _, id := range p.bookIDs {
		seen[id] = struct{}{}
	}
	for _, b := range books {
		if _, dup := seen[b.ID]; dup {
			continue
		}
		seen[b.ID] = struct{}{}
		p.bookIDs = append(p.bookIDs, b.ID)
		if storage.IsCoverKeyOf(b.ID, b.Image) {
			p.imageKeys = append(p.imageKeys, b.Image)
		}
	}
}

// planUserDeletion collects the user's companies, the user's books and every book
// published by those companies, whoever owns it.
func planUserDeletion(ctx context.Context, tx store.Tx, userID string) (cascadePlan, error) {
	plan := cascadePlan{userIDs: []string{userID}}
	companies, err := tx.ListCompaniesByOwner(ctx, userID)
	if err != nil {
		return plan, err
	}
	for _, c := range companies {
		plan.companyIDs = append(plan.companyIDs, c.ID)
	}
	owned, err := tx.ListBooksByOwner(ctx, userID)
	if err != nil {
		return plan, err
	}
	plan.addBooks(owned)
	published, err := tx.ListBooksByCompanies(ctx, plan.companyIDs)
	if err != nil {
		return plan, err
	}
	plan.addBooks(published)
	return plan, nil
}

func planCompanyDeletion(ctx context.Context, tx store.Tx, companyID string) (cascadePlan, error) {
	plan := cascadePlan{companyIDs: []string{companyID}}
	books, err := tx.ListBooksByCompanies(ctx, plan.companyIDs)
	if err != nil {
		return plan, err
	}
	plan.addBooks(books)
	return plan, nil
}

// cascade runs collect and the ordered deletes it plans in one transaction:
// books first, then companies, then users. collect performs the lookup and the
// authorization check, so nothing is written when it fails. The audit record is
// written in the same transaction and published once it has committed.
func (a *App) cascade(ctx context.Context, actor domain.User, kind domain.DeletionKind, targetID string, collect func(tx store.Tx) (cascadePlan, error)) (domain.DeletionRecord, error) {
	var rec domain.DeletionRecord
	err := a.store.WithTx(ctx, func(tx store.Tx) error {
		plan, err := collect(tx)
		if err != nil {
			return err
		}
		if err := deleteExactly(ctx, "books", plan.bookIDs, tx.DeleteBooks); err != nil {
			return err
		}
		if err := deleteExactly(ctx, "companies", plan.companyIDs, tx.DeleteCompanies); err != nil {
			return err
		}
		for _, id := range plan.userIDs {
			n, err := tx.DeleteUser(ctx, id)
			if err != nil {
				return fmt.Errorf("delete user %s: %w", id, err)
			}
			if n != 1 {
				return fmt.Errorf("delete user %s: removed %d rows", id, n)
			}
		}
		rec = domain.DeletionRecord{
			ID:         uuid.NewString(),
			Kind:       kind,
			TargetID:   targetID,
			ActorID:    actor.ID,
			UserIDs:    sorted(plan.userIDs),
			CompanyIDs: sorted(plan.companyIDs),
			BookIDs:    sorted(plan.bookIDs),
			ImageKeys:  plan.imageKeys,
			CreatedAt:  a.now(),
		}
		return tx.RecordDeletion(ctx, rec)
	})
	metrics.ObserveDeletion(string(kind), err, len(rec.UserIDs), len(rec.CompanyIDs), len(rec.BookIDs))
	if err != nil {
		return domain.DeletionRecord{}, fromStore(err)
	}
	a.afterDeletion(ctx, rec)
	return rec, nil
}

func deleteExactly(ctx context.Context, table string, ids []string, del func(context.Context, []string) (int64, error)) error {
	if len(ids) == 0 {
		return nil
	}
	n, err := del(ctx, ids)
	if err != nil {
		return fmt.Errorf("delete %s: %w", table, err)
	}
	if n != int64(len(ids)) {
		return fmt.Errorf("delete %s: removed %d of %d rows", table, n, len(ids))
	}
	return nil
}

// afterDeletion runs the best-effort follow-ups of a committed deletion.
func (a *App) afterDeletion(ctx context.Context, rec domain.DeletionRecord) {
	logger := util.LoggerFromContext(ctx)
	logger.Info("deletion committed",
		"deletion_id", rec.ID,
		"kind", rec.Kind,
		"target_id", rec.TargetID,
		"actor_id", rec.ActorID,
		"users", len(rec.UserIDs),
		"companies", len(rec.CompanyIDs),
		"books", len(rec.BookIDs),
	)
	for _, id := range rec.UserIDs {
		a.revokeSessions(ctx, id, rec.CreatedAt)
	}
	if a.events != nil {
		_, err := a.events.Publish(ctx, rec)
		metrics.ObserveDeletionEvent(err)
		if err == nil {
			return
		}
		logger.Warn("publish deletion event failed, cleaning covers inline", "deletion_id", rec.ID, "err", err)
	}
	if err := a.CleanupCovers(ctx, rec); err != nil {
		logger.Warn("cover cleanup failed", "deletion_id", rec.ID, "err", err)
	}
}

// CleanupCovers removes the cover objects of the books in rec.
// It is also the handler of the deletion stream consumer.
func (a *App) CleanupCovers(ctx context.Context, rec domain.DeletionRecord) error {
	if a.objects == nil || len(rec.ImageKeys) == 0 {
		return nil
	}
	var firstErr error
	for _, key := range rec.ImageKeys {
		err := a.objects.Delete(ctx, key)
		metrics.ObserveCoverCleanup(err)
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// RecentDeletions returns the newest audit records first.
func (a *App) RecentDeletions(ctx context.Context, actor domain.User, limit int) ([]domain.DeletionRecord, error) {
	if !IsAdmin(actor) {
		return nil, forbidden("Only an admin can read the deletion log")
	}
	recs, err := a.store.ListDeletions(ctx, limit)
	if err != nil {
		return nil, internalError(err)
	}
	return recs, nil
}

func sorted(ids []string) []string {
	out := append([]string{}, ids...)
	sort.Strings(out)
	return out
}
